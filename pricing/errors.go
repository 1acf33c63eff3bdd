package pricing

import "errors"

var (
	ErrNotFound           = errors.New("tally: pricing not found")
	ErrNoTiersFound       = errors.New("tally: no tiers found")
	ErrInvalidTiers       = errors.New("tally: invalid tiers")
	ErrTiersNotContiguous = errors.New("tally: tiers not contiguous")
	ErrInvalidLowerBound  = errors.New("tally: invalid lower bound")
	ErrInvalidUpperBound  = errors.New("tally: invalid upper bound")
	ErrInvalidChargeStyle = errors.New("tally: invalid charge style")
	ErrInvalidFrequency   = errors.New("tally: invalid charge frequency")
	ErrInvalidQuantity    = errors.New("tally: invalid quantity")
	ErrAmountOverflow     = errors.New("tally: amount overflow")
)

var (
	ErrInvalidPrice  = errors.New("tally: invalid price")
	ErrMeterRequired = errors.New("tally: usage pricing requires a meter")
	ErrAssetRequired = errors.New("tally: pricing asset required")
)
