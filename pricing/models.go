// Package pricing defines pricing configurations, tier tables and the
// cost function that turns a quantity into an amount owed.
package pricing

import (
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// ChargeStyle selects how a pricing is costed.
type ChargeStyle string

const (
	OneTime         ChargeStyle = "ONE_TIME"
	FlatRate        ChargeStyle = "FLAT_RATE"
	TieredVolume    ChargeStyle = "TIERED_VOLUME"
	TieredGraduated ChargeStyle = "TIERED_GRADUATED"
	UsageVolume     ChargeStyle = "USAGE_VOLUME"
	UsageGraduated  ChargeStyle = "USAGE_GRADUATED"
)

// Frequency is the billing cycle of a recurring pricing.
type Frequency string

const (
	FrequencyNone      Frequency = ""
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

// Tier is a priced range [LowerBound, UpperBound]. UpperBound 0 is unbounded.
type Tier struct {
	LowerBound    int64 `json:"lower_bound"`
	UpperBound    int64 `json:"upper_bound"`
	PricePerUnit  int64 `json:"price_per_unit"`
	PriceFlatRate int64 `json:"price_flat_rate"`
}

// Pricing is an organization-owned price configuration.
type Pricing struct {
	types.Entity
	ID              id.PricingID `json:"id"`
	OrgID           string       `json:"org_id"`
	Name            string       `json:"name"`
	ChargeStyle     ChargeStyle  `json:"charge_style"`
	ChargeFrequency Frequency    `json:"charge_frequency,omitempty"`
	Tiers           []Tier       `json:"tiers,omitempty"`
	Asset           string       `json:"asset"`
	FlatPrice       int64        `json:"flat_price"`
	UsageMeterID    id.MeterID   `json:"usage_meter_id"`
	IsActive        bool         `json:"is_active"`
	IsRestricted    bool         `json:"is_restricted"`
}

// Valid reports whether s is a known charge style.
func (s ChargeStyle) Valid() bool {
	switch s {
	case OneTime, FlatRate, TieredVolume, TieredGraduated, UsageVolume, UsageGraduated:
		return true
	}
	return false
}

// IsRecurring reports whether the style renews on a cycle.
func (s ChargeStyle) IsRecurring() bool { return s.Valid() && s != OneTime }

// IsTiered reports whether the style carries a tier table.
func (s ChargeStyle) IsTiered() bool {
	return s == TieredVolume || s == TieredGraduated || s.IsUsage()
}

// IsUsage reports whether the style is billed from a usage meter.
func (s ChargeStyle) IsUsage() bool { return s == UsageVolume || s == UsageGraduated }

// IsGraduated reports whether quantities are split across tiers.
func (s ChargeStyle) IsGraduated() bool { return s == TieredGraduated || s == UsageGraduated }

// IsCommitted reports whether the subscriber commits to a quantity at
// checkout (TIERED_*), as opposed to being metered (USAGE_*).
func (s ChargeStyle) IsCommitted() bool { return s == TieredVolume || s == TieredGraduated }

// Valid reports whether f is a known frequency, including none.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// Update lists the independently mutable scalar fields of a pricing.
// Nil fields are left unchanged.
type Update struct {
	Name            *string
	FlatPrice       *int64
	ChargeFrequency *Frequency
	UsageMeterID    *id.MeterID
	IsActive        *bool
	IsRestricted    *bool
}

// Apply copies the set fields of u onto p.
func (u Update) Apply(p *Pricing) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.FlatPrice != nil {
		p.FlatPrice = *u.FlatPrice
	}
	if u.ChargeFrequency != nil {
		p.ChargeFrequency = *u.ChargeFrequency
	}
	if u.UsageMeterID != nil {
		p.UsageMeterID = *u.UsageMeterID
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if u.IsRestricted != nil {
		p.IsRestricted = *u.IsRestricted
	}
}
