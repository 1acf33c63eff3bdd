// Package store defines the aggregate persistence interface that every
// Tally backend implements.
package store

import (
	"context"
	"errors"

	"github.com/xraph/tally/access"
	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/org"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

// ErrAlreadyExists is returned when inserting a record whose ID or unique
// key is taken.
var ErrAlreadyExists = errors.New("tally: already exists")

// Store is the unified storage interface. Method names carry the entity
// so the per-package interfaces embed without collisions.
type Store interface {
	pricing.Store
	coupon.Store
	discount.Store
	access.Store
	meter.Store
	escrow.Store
	subscription.Store
	org.Store
	invoice.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
