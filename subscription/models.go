// Package subscription defines subscription records and their lifecycle.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

var (
	ErrNotFound          = errors.New("tally: subscription not found")
	ErrInvalidTransition = errors.New("tally: invalid subscription transition")
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
	StatusPaused    Status = "paused"
)

var transitions = map[Status][]Status{
	StatusActive:  {StatusCancelled, StatusPastDue, StatusPaused},
	StatusPaused:  {StatusActive, StatusCancelled},
	StatusPastDue: {StatusActive, StatusCancelled},
}

// CanTransition reports whether from may move to to. Cancelled is terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Subscription is one recurring line of a checkout. Records are never
// deleted.
type Subscription struct {
	types.Entity
	ID                id.SubscriptionID `json:"id"`
	OrgID             string            `json:"org_id"`
	Subscriber        string            `json:"subscriber"`
	ProductID         string            `json:"product_id"`
	PricingID         id.PricingID      `json:"pricing_id"`
	PendingPricingID  id.PricingID      `json:"pending_pricing_id"`
	DiscountIDs       []id.DiscountID   `json:"discount_ids,omitempty"`
	CheckoutID        id.CheckoutID     `json:"checkout_id"`
	Status            Status            `json:"status"`
	StartDate         time.Time         `json:"start_date"`
	EndDate           time.Time         `json:"end_date"`
	CommittedQuantity int64             `json:"committed_quantity"`
}

// Transition moves s to to or returns ErrInvalidTransition.
func (s *Subscription) Transition(to Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.Touch(now)
	return nil
}

// Due reports whether s may renew at now.
func (s *Subscription) Due(now time.Time) bool {
	return !now.Before(s.EndDate)
}

// Advance starts the next cycle at the current EndDate.
func (s *Subscription) Advance(cycle time.Duration) {
	s.StartDate = s.EndDate
	s.EndDate = s.EndDate.Add(cycle)
}
