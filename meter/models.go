// Package meter defines usage meters and per-subscriber usage records
// that feed USAGE_* pricing at renewal.
package meter

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

var (
	ErrNotFound           = errors.New("tally: meter not found")
	ErrInvalidAggregation = errors.New("tally: invalid aggregation method")
	ErrInactive           = errors.New("tally: meter inactive")
	ErrInvalidDelta       = errors.New("tally: usage delta must be positive")
	ErrInvalidValue       = errors.New("tally: usage value must not be negative")
)

// Aggregation is how a meter accumulates usage.
type Aggregation string

const (
	// Sum accumulates arbitrary positive deltas.
	Sum Aggregation = "SUM"
	// Count accumulates one unit per event.
	Count Aggregation = "COUNT"
)

// Valid reports whether a is a known aggregation method.
func (a Aggregation) Valid() bool { return a == Sum || a == Count }

// Meter is an organization-owned usage counter definition.
type Meter struct {
	types.Entity
	ID                id.MeterID  `json:"id"`
	OrgID             string      `json:"org_id"`
	Name              string      `json:"name"`
	AggregationMethod Aggregation `json:"aggregation_method"`
	IsActive          bool        `json:"is_active"`
}

// Usage is the accumulated value of one meter for one subscriber.
type Usage struct {
	MeterID    id.MeterID `json:"meter_id"`
	Subscriber string     `json:"subscriber"`
	Value      int64      `json:"value"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CheckWritable verifies that m accepts a write using want. An empty want
// accepts either aggregation (absolute adjustment).
func CheckWritable(m *Meter, want Aggregation) error {
	if m == nil {
		return ErrNotFound
	}
	if !m.IsActive {
		return ErrInactive
	}
	if want != "" && m.AggregationMethod != want {
		return fmt.Errorf("%w: meter aggregates %s, not %s", ErrInvalidAggregation, m.AggregationMethod, want)
	}
	return nil
}
