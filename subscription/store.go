package subscription

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

// Store persists subscriptions.
type Store interface {
	// CreateSubscriptions inserts all records or none.
	CreateSubscriptions(ctx context.Context, subs []*Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
	// ListSubscriptionRange returns the subscriptions of orgID whose IDs
	// fall in [from, to], ordered by ID. A Nil bound is open.
	ListSubscriptionRange(ctx context.Context, orgID string, from, to id.SubscriptionID) ([]*Subscription, error)
	// ListDueSubscriptions returns active and past-due subscriptions with
	// EndDate <= before. Active ones come first ordered by EndDate, then
	// past-due ones ordered by UpdatedAt.
	ListDueSubscriptions(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	// HasSubscription reports whether subscriber ever subscribed to orgID.
	HasSubscription(ctx context.Context, orgID, subscriber string) (bool, error)
}

// ListOpts filters ListSubscriptions. Empty fields match everything.
type ListOpts struct {
	OrgID      string
	Subscriber string
	Status     Status
	Limit      int
	Offset     int
}
