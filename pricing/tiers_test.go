package pricing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/xraph/tally/id"
)

func volumeTiers() []Tier {
	return []Tier{
		{LowerBound: 1, UpperBound: 100, PricePerUnit: 100, PriceFlatRate: 10},
		{LowerBound: 101, UpperBound: 0, PricePerUnit: 200, PriceFlatRate: 20},
	}
}

func graduatedTiers() []Tier {
	return []Tier{
		{LowerBound: 0, UpperBound: 100, PricePerUnit: 100, PriceFlatRate: 10},
		{LowerBound: 101, UpperBound: 0, PricePerUnit: 200, PriceFlatRate: 20},
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name    string
		pricing Pricing
		qty     int64
		want    int64
		wantErr error
	}{
		{"volume upper tier", Pricing{ChargeStyle: TieredVolume, Tiers: volumeTiers()}, 150, 30020, nil},
		{"volume lower tier", Pricing{ChargeStyle: TieredVolume, Tiers: volumeTiers()}, 100, 10010, nil},
		{"volume boundary", Pricing{ChargeStyle: UsageVolume, Tiers: volumeTiers()}, 101, 20220, nil},
		{"graduated split", Pricing{ChargeStyle: TieredGraduated, Tiers: graduatedTiers()}, 150, 100*100 + 200*50 + 20, nil},
		{"graduated first tier", Pricing{ChargeStyle: UsageGraduated, Tiers: graduatedTiers()}, 40, 100*40 + 10, nil},
		{"graduated exact bound", Pricing{ChargeStyle: TieredGraduated, Tiers: graduatedTiers()}, 100, 100*100 + 10, nil},
		{"flat rate", Pricing{ChargeStyle: FlatRate, FlatPrice: 4900}, 0, 4900, nil},
		{"one time", Pricing{ChargeStyle: OneTime, FlatPrice: 100}, 0, 100, nil},
		{"flat with quantity", Pricing{ChargeStyle: FlatRate, FlatPrice: 4900}, 1, 0, ErrInvalidQuantity},
		{"tiered zero quantity", Pricing{ChargeStyle: TieredVolume, Tiers: volumeTiers()}, 0, 0, ErrInvalidQuantity},
		{"usage zero quantity", Pricing{ChargeStyle: UsageGraduated, Tiers: graduatedTiers()}, 0, 0, ErrInvalidQuantity},
		{"unknown style", Pricing{ChargeStyle: "BARTER"}, 0, 0, ErrInvalidChargeStyle},
		{
			"overflow",
			Pricing{ChargeStyle: TieredVolume, Tiers: []Tier{{LowerBound: 1, PricePerUnit: math.MaxInt64}}},
			2, 0, ErrAmountOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.pricing.Asset = "usdc"
			got, err := Cost(&tt.pricing, tt.qty)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Cost: got err %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cost: unexpected error %v", err)
			}
			if got.Amount != tt.want || got.Currency != "usdc" {
				t.Errorf("Cost: got %v, want %d usdc", got, tt.want)
			}
		})
	}
}

func TestValidateTiers(t *testing.T) {
	tests := []struct {
		name    string
		style   ChargeStyle
		tiers   []Tier
		wantErr error
	}{
		{"valid volume", TieredVolume, volumeTiers(), nil},
		{"valid graduated", UsageGraduated, graduatedTiers(), nil},
		{"single unbounded", TieredVolume, []Tier{{LowerBound: 1}}, nil},
		{"flat style", FlatRate, volumeTiers(), ErrInvalidChargeStyle},
		{"one time style", OneTime, volumeTiers(), ErrInvalidChargeStyle},
		{"empty", TieredVolume, nil, ErrNoTiersFound},
		{"volume starts at zero", TieredVolume, graduatedTiers(), ErrInvalidLowerBound},
		{"graduated starts at one", TieredGraduated, volumeTiers(), ErrInvalidLowerBound},
		{
			"gap", TieredVolume,
			[]Tier{{LowerBound: 1, UpperBound: 100}, {LowerBound: 102}},
			ErrTiersNotContiguous,
		},
		{
			"overlap", TieredVolume,
			[]Tier{{LowerBound: 1, UpperBound: 100}, {LowerBound: 100}},
			ErrTiersNotContiguous,
		},
		{
			"bounded last tier", TieredVolume,
			[]Tier{{LowerBound: 1, UpperBound: 100}, {LowerBound: 101, UpperBound: 200}},
			ErrInvalidUpperBound,
		},
		{
			"unbounded middle tier", TieredVolume,
			[]Tier{{LowerBound: 1, UpperBound: 0}, {LowerBound: 1}},
			ErrInvalidUpperBound,
		},
		{
			"inverted tier", TieredVolume,
			[]Tier{{LowerBound: 1, UpperBound: 10}, {LowerBound: 11, UpperBound: 5}, {LowerBound: 6}},
			ErrInvalidUpperBound,
		},
		{
			"negative price", TieredVolume,
			[]Tier{{LowerBound: 1, PricePerUnit: -1}},
			ErrInvalidTiers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiers(tt.style, tt.tiers)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTiers: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	meterID := id.NewMeterID()
	tests := []struct {
		name    string
		pricing Pricing
		wantErr error
	}{
		{"one time", Pricing{ChargeStyle: OneTime, Asset: "usd", FlatPrice: 100}, nil},
		{"flat monthly", Pricing{ChargeStyle: FlatRate, ChargeFrequency: FrequencyMonthly, Asset: "usd"}, nil},
		{"flat without frequency", Pricing{ChargeStyle: FlatRate, Asset: "usd"}, ErrInvalidFrequency},
		{"one time with frequency", Pricing{ChargeStyle: OneTime, ChargeFrequency: FrequencyDaily, Asset: "usd"}, ErrInvalidFrequency},
		{"flat with tiers", Pricing{ChargeStyle: FlatRate, ChargeFrequency: FrequencyMonthly, Asset: "usd", Tiers: volumeTiers()}, ErrInvalidTiers},
		{"missing asset", Pricing{ChargeStyle: OneTime}, ErrAssetRequired},
		{"negative flat price", Pricing{ChargeStyle: OneTime, Asset: "usd", FlatPrice: -1}, ErrInvalidPrice},
		{"usage without meter", Pricing{ChargeStyle: UsageVolume, ChargeFrequency: FrequencyMonthly, Asset: "usd", Tiers: volumeTiers()}, ErrMeterRequired},
		{
			"usage with meter",
			Pricing{ChargeStyle: UsageVolume, ChargeFrequency: FrequencyMonthly, Asset: "usd", Tiers: volumeTiers(), UsageMeterID: meterID},
			nil,
		},
		{"tiered without tiers", Pricing{ChargeStyle: TieredVolume, ChargeFrequency: FrequencyWeekly, Asset: "usd"}, ErrNoTiersFound},
		{"unknown style", Pricing{ChargeStyle: "X", Asset: "usd"}, ErrInvalidChargeStyle},
		{"unknown frequency", Pricing{ChargeStyle: FlatRate, ChargeFrequency: "HOURLY", Asset: "usd"}, ErrInvalidFrequency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.pricing)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCycleDuration(t *testing.T) {
	tests := []struct {
		freq Frequency
		want time.Duration
	}{
		{FrequencyDaily, 24 * time.Hour},
		{FrequencyWeekly, 7 * 24 * time.Hour},
		{FrequencyMonthly, 30 * 24 * time.Hour},
		{FrequencyQuarterly, 90 * 24 * time.Hour},
		{FrequencyYearly, 365 * 24 * time.Hour},
		{FrequencyNone, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			if got := CycleDuration(tt.freq); got != tt.want {
				t.Errorf("CycleDuration(%q): got %v, want %v", tt.freq, got, tt.want)
			}
		})
	}

	oneTime := Pricing{ChargeStyle: OneTime, ChargeFrequency: FrequencyMonthly}
	if got := oneTime.Cycle(); got != 0 {
		t.Errorf("one-time cycle: got %v, want 0", got)
	}
}
