package meter

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

// Store persists meters and usage values.
type Store interface {
	CreateMeter(ctx context.Context, m *Meter) error
	GetMeter(ctx context.Context, meterID id.MeterID) (*Meter, error)
	ListMeters(ctx context.Context, orgID string) ([]*Meter, error)
	UpdateMeter(ctx context.Context, m *Meter) error

	// GetUsage returns 0 for a subscriber with no usage.
	GetUsage(ctx context.Context, meterID id.MeterID, subscriber string) (int64, error)
	// AddUsage atomically adds delta and returns the new value.
	AddUsage(ctx context.Context, meterID id.MeterID, subscriber string, delta int64, at time.Time) (int64, error)
	SetUsage(ctx context.Context, meterID id.MeterID, subscriber string, value int64, at time.Time) error
}
