// Package invoice records a paid receipt for every checkout, renewal and
// immediate pricing change.
package invoice

import (
	"errors"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

var ErrNotFound = errors.New("tally: invoice not found")

// Kind names what produced an invoice.
type Kind string

const (
	KindCheckout      Kind = "checkout"
	KindRenewal       Kind = "renewal"
	KindPricingChange Kind = "pricing_change"
)

// Invoice is an immutable receipt. Amounts share Asset.
type Invoice struct {
	types.Entity
	ID             id.InvoiceID      `json:"id"`
	OrgID          string            `json:"org_id"`
	Subscriber     string            `json:"subscriber"`
	CheckoutID     id.CheckoutID     `json:"checkout_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Kind           Kind              `json:"kind"`
	Asset          string            `json:"asset"`
	Subtotal       int64             `json:"subtotal"`
	DiscountAmount int64             `json:"discount_amount"`
	Total          int64             `json:"total"`
	Fee            int64             `json:"fee"`
	Net            int64             `json:"net"`
	CouponID       id.CouponID       `json:"coupon_id"`
	DiscountIDs    []id.DiscountID   `json:"discount_ids,omitempty"`
	LineItems      []LineItem        `json:"line_items"`
	PeriodStart    time.Time         `json:"period_start,omitzero"`
	PeriodEnd      time.Time         `json:"period_end,omitzero"`
	PaidAt         time.Time         `json:"paid_at"`
}

// LineItem is one priced line of an invoice.
type LineItem struct {
	ID             id.LineItemID     `json:"id"`
	PricingID      id.PricingID      `json:"pricing_id"`
	ProductID      string            `json:"product_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	ChargeStyle    string            `json:"charge_style"`
	Quantity       int64             `json:"quantity"`
	Amount         int64             `json:"amount"`
}

// SubtotalMoney returns Subtotal in the invoice asset.
func (inv *Invoice) SubtotalMoney() types.Money { return types.New(inv.Subtotal, inv.Asset) }

// TotalMoney returns Total in the invoice asset.
func (inv *Invoice) TotalMoney() types.Money { return types.New(inv.Total, inv.Asset) }
