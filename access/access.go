// Package access holds restricted-access lists. A restricted pricing,
// coupon or discount is usable only by subscribers granted access to
// its ID.
package access

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

// Grant records one subscriber's access to one resource.
type Grant struct {
	ResourceID id.ID     `json:"resource_id"`
	Subscriber string    `json:"subscriber"`
	GrantedAt  time.Time `json:"granted_at"`
}

// Store persists access grants. Granting twice and revoking a missing
// grant are both no-ops.
type Store interface {
	GrantAccess(ctx context.Context, resourceID id.ID, subscribers []string, at time.Time) error
	RevokeAccess(ctx context.Context, resourceID id.ID, subscribers []string) error
	HasAccess(ctx context.Context, resourceID id.ID, subscriber string) (bool, error)
	ListAccess(ctx context.Context, resourceID id.ID) ([]string, error)
}
