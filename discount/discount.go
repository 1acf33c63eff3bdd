// Package discount defines discounts that are minted onto a purchase and
// stay attached to it for every renewal.
package discount

import (
	"errors"
	"fmt"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

var (
	ErrNotFound        = errors.New("tally: discount not found")
	ErrInactive        = errors.New("tally: discount inactive")
	ErrRestricted      = errors.New("tally: discount restricted")
	ErrExhausted       = errors.New("tally: discount mints exhausted")
	ErrInvalidDiscount = errors.New("tally: invalid discount")
	ErrNameTaken       = errors.New("tally: discount name already exists")
)

// Discount is a percentage reduction with a running mint counter.
type Discount struct {
	types.Entity
	ID           id.DiscountID `json:"id"`
	OrgID        string        `json:"org_id"`
	Name         string        `json:"name"`
	DiscountBps  int64         `json:"discount_bps"`
	TotalMints   int64         `json:"total_mints"`
	MaxMints     int64         `json:"max_mints"`
	IsActive     bool          `json:"is_active"`
	IsRestricted bool          `json:"is_restricted"`
}

// Update lists the mutable fields of a discount. Nil fields are unchanged.
type Update struct {
	DiscountBps  *int64
	MaxMints     *int64
	IsActive     *bool
	IsRestricted *bool
}

// Apply copies the set fields of u onto d.
func (u Update) Apply(d *Discount) {
	if u.DiscountBps != nil {
		d.DiscountBps = *u.DiscountBps
	}
	if u.MaxMints != nil {
		d.MaxMints = *u.MaxMints
	}
	if u.IsActive != nil {
		d.IsActive = *u.IsActive
	}
	if u.IsRestricted != nil {
		d.IsRestricted = *u.IsRestricted
	}
}

// Validate checks the static fields of d.
func Validate(d *Discount) error {
	if d.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidDiscount)
	}
	if d.DiscountBps < 1 || d.DiscountBps > types.BpsDenominator {
		return fmt.Errorf("%w: %d bps", ErrInvalidDiscount, d.DiscountBps)
	}
	if d.MaxMints < 0 {
		return fmt.Errorf("%w: negative max mints", ErrInvalidDiscount)
	}
	return nil
}

// Exhausted reports whether d can be minted no more.
func (d *Discount) Exhausted() bool {
	return d.MaxMints > 0 && d.TotalMints >= d.MaxMints
}

// CheckMintable runs the mint checks in order: active, restricted access,
// remaining mints.
func CheckMintable(d *Discount, hasAccess bool) error {
	if d == nil {
		return ErrNotFound
	}
	if !d.IsActive {
		return ErrInactive
	}
	if d.IsRestricted && !hasAccess {
		return ErrRestricted
	}
	if d.Exhausted() {
		return ErrExhausted
	}
	return nil
}

// Apply reduces amount by each discount in turn.
func Apply(amount int64, discounts ...*Discount) int64 {
	for _, d := range discounts {
		if d == nil {
			continue
		}
		amount -= types.MulBps(amount, d.DiscountBps)
	}
	return amount
}
