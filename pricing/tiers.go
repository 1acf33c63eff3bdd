package pricing

import (
	"fmt"
	"time"

	"github.com/xraph/tally/types"
)

const day = 24 * time.Hour

// CycleDuration returns the length of one billing cycle. FrequencyNone
// and unknown values yield 0.
func CycleDuration(f Frequency) time.Duration {
	switch f {
	case FrequencyDaily:
		return day
	case FrequencyWeekly:
		return 7 * day
	case FrequencyMonthly:
		return 30 * day
	case FrequencyQuarterly:
		return 90 * day
	case FrequencyYearly:
		return 365 * day
	default:
		return 0
	}
}

// Cycle returns the billing cycle of p, 0 for one-time pricing.
func (p *Pricing) Cycle() time.Duration {
	if !p.ChargeStyle.IsRecurring() {
		return 0
	}
	return CycleDuration(p.ChargeFrequency)
}

// Validate checks the structural invariants of p. It does not check
// ownership, asset whitelisting or meter existence.
func Validate(p *Pricing) error {
	if !p.ChargeStyle.Valid() {
		return ErrInvalidChargeStyle
	}
	if !p.ChargeFrequency.Valid() {
		return ErrInvalidFrequency
	}
	if p.ChargeStyle.IsRecurring() != (p.ChargeFrequency != FrequencyNone) {
		return fmt.Errorf("%w: %s with frequency %q", ErrInvalidFrequency, p.ChargeStyle, p.ChargeFrequency)
	}
	if p.Asset == "" {
		return ErrAssetRequired
	}
	if p.FlatPrice < 0 {
		return ErrInvalidPrice
	}

	if !p.ChargeStyle.IsTiered() {
		if len(p.Tiers) > 0 {
			return fmt.Errorf("%w: %s carries no tiers", ErrInvalidTiers, p.ChargeStyle)
		}
		return nil
	}
	if p.ChargeStyle.IsUsage() && p.UsageMeterID.IsNil() {
		return ErrMeterRequired
	}
	return ValidateTiers(p.ChargeStyle, p.Tiers)
}

// ValidateTiers checks a tier table against style: ordered, contiguous,
// the last tier unbounded, volume tables starting at 1 and graduated
// tables at 0.
func ValidateTiers(style ChargeStyle, tiers []Tier) error {
	if !style.IsTiered() {
		return ErrInvalidChargeStyle
	}
	if len(tiers) == 0 {
		return ErrNoTiersFound
	}

	wantFirst := int64(1)
	if style.IsGraduated() {
		wantFirst = 0
	}
	if tiers[0].LowerBound != wantFirst {
		return fmt.Errorf("%w: first tier starts at %d, want %d", ErrInvalidLowerBound, tiers[0].LowerBound, wantFirst)
	}

	last := len(tiers) - 1
	for i, t := range tiers {
		if t.PricePerUnit < 0 || t.PriceFlatRate < 0 {
			return fmt.Errorf("%w: tier %d has a negative price", ErrInvalidTiers, i)
		}
		if i == last {
			if t.UpperBound != 0 {
				return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidUpperBound)
			}
			break
		}
		if t.UpperBound == 0 || t.UpperBound < t.LowerBound {
			return fmt.Errorf("%w: tier %d [%d, %d]", ErrInvalidUpperBound, i, t.LowerBound, t.UpperBound)
		}
		if next := tiers[i+1].LowerBound; next != t.UpperBound+1 {
			return fmt.Errorf("%w: tier %d ends at %d, tier %d starts at %d", ErrTiersNotContiguous, i, t.UpperBound, i+1, next)
		}
	}
	return nil
}

// Contains reports whether qty falls inside t.
func (t Tier) Contains(qty int64) bool {
	return qty >= t.LowerBound && (t.UpperBound == 0 || qty <= t.UpperBound)
}

// Cost returns the amount owed for qty units of p.
//
// ONE_TIME and FLAT_RATE return FlatPrice and require qty == 0. Volume
// styles price the whole quantity at the single matching tier. Graduated
// styles sum each touched tier's portion and add the flat rate of the
// tier holding the final unit once.
func Cost(p *Pricing, qty int64) (types.Money, error) {
	var (
		amount int64
		err    error
	)

	switch p.ChargeStyle {
	case OneTime, FlatRate:
		if qty != 0 {
			return types.Money{}, fmt.Errorf("%w: %s takes no quantity", ErrInvalidQuantity, p.ChargeStyle)
		}
		amount = p.FlatPrice
	case TieredVolume, UsageVolume:
		if qty <= 0 {
			return types.Money{}, ErrInvalidQuantity
		}
		amount, err = volumeCost(p.Tiers, qty)
	case TieredGraduated, UsageGraduated:
		if qty <= 0 {
			return types.Money{}, ErrInvalidQuantity
		}
		amount, err = graduatedCost(p.Tiers, qty)
	default:
		return types.Money{}, ErrInvalidChargeStyle
	}
	if err != nil {
		return types.Money{}, err
	}
	return types.New(amount, p.Asset), nil
}

func volumeCost(tiers []Tier, qty int64) (int64, error) {
	for _, t := range tiers {
		if !t.Contains(qty) {
			continue
		}
		units, err := types.CheckedMul(t.PricePerUnit, qty)
		if err != nil {
			return 0, ErrAmountOverflow
		}
		total, err := types.CheckedAdd(units, t.PriceFlatRate)
		if err != nil {
			return 0, ErrAmountOverflow
		}
		return total, nil
	}
	return 0, fmt.Errorf("%w: %d matches no tier", ErrInvalidQuantity, qty)
}

func graduatedCost(tiers []Tier, qty int64) (int64, error) {
	var total int64
	for _, t := range tiers {
		start := max(t.LowerBound-1, 0)
		end := qty
		if t.UpperBound != 0 {
			end = min(qty, t.UpperBound)
		}
		portion := end - start
		if portion <= 0 {
			break
		}

		units, err := types.CheckedMul(t.PricePerUnit, portion)
		if err != nil {
			return 0, ErrAmountOverflow
		}
		if total, err = types.CheckedAdd(total, units); err != nil {
			return 0, ErrAmountOverflow
		}

		if t.Contains(qty) {
			if total, err = types.CheckedAdd(total, t.PriceFlatRate); err != nil {
				return 0, ErrAmountOverflow
			}
			return total, nil
		}
	}
	return 0, fmt.Errorf("%w: %d matches no tier", ErrInvalidQuantity, qty)
}
