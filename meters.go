package tally

import (
	"context"
	"fmt"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Usage meters
// ──────────────────────────────────────────────────

// CreateMeter stores a new meter for m.OrgID.
func (e *Engine) CreateMeter(ctx context.Context, m *meter.Meter) error {
	if err := e.requireOrg(ctx, m.OrgID); err != nil {
		return err
	}
	if err := e.requireAdmin(ctx, m.OrgID); err != nil {
		return err
	}
	if !m.AggregationMethod.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAggregation, m.AggregationMethod)
	}
	if m.Name == "" {
		return ValidationError{Field: "name", Message: "required", Err: ErrInvalidInput}
	}

	if m.ID.IsNil() {
		m.ID = id.NewMeterID()
	}
	m.Entity = types.NewEntity(e.now())

	if err := e.store.CreateMeter(ctx, m); err != nil {
		return err
	}
	e.plugins.EmitMeterCreated(ctx, m)
	return nil
}

// SetMeterActive toggles whether a meter accepts writes.
func (e *Engine) SetMeterActive(ctx context.Context, meterID id.MeterID, active bool) (*meter.Meter, error) {
	m, err := e.store.GetMeter(ctx, meterID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(ctx, m.OrgID); err != nil {
		return nil, err
	}
	m.IsActive = active
	m.Touch(e.now())
	if err := e.store.UpdateMeter(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMeter returns a meter by ID.
func (e *Engine) GetMeter(ctx context.Context, meterID id.MeterID) (*meter.Meter, error) {
	return e.store.GetMeter(ctx, meterID)
}

// GetOrganizationMeters lists the meters of an organization.
func (e *Engine) GetOrganizationMeters(ctx context.Context, orgID string) ([]*meter.Meter, error) {
	return e.store.ListMeters(ctx, orgID)
}

// IncrementMeterUsage adds one unit to a COUNT meter and returns the new
// value.
func (e *Engine) IncrementMeterUsage(ctx context.Context, meterID id.MeterID, subscriber string) (int64, error) {
	return e.addUsage(ctx, meterID, subscriber, 1, meter.Count)
}

// IncreaseMeterUsage adds delta to a SUM meter and returns the new value.
func (e *Engine) IncreaseMeterUsage(ctx context.Context, meterID id.MeterID, subscriber string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("%w: %d", meter.ErrInvalidDelta, delta)
	}
	return e.addUsage(ctx, meterID, subscriber, delta, meter.Sum)
}

func (e *Engine) addUsage(ctx context.Context, meterID id.MeterID, subscriber string, delta int64, want meter.Aggregation) (int64, error) {
	m, err := e.writableMeter(ctx, meterID, want)
	if err != nil {
		return 0, err
	}
	value, err := e.store.AddUsage(ctx, m.ID, subscriber, delta, e.now())
	if err != nil {
		return 0, err
	}
	e.plugins.EmitMeterUsageSet(ctx, m.ID, subscriber, value)
	return value, nil
}

// SetMeterUsage overwrites the usage of subscriber on either kind of
// meter.
func (e *Engine) SetMeterUsage(ctx context.Context, meterID id.MeterID, subscriber string, value int64) error {
	if value < 0 {
		return fmt.Errorf("%w: %d", meter.ErrInvalidValue, value)
	}
	m, err := e.writableMeter(ctx, meterID, "")
	if err != nil {
		return err
	}
	if err := e.store.SetUsage(ctx, m.ID, subscriber, value, e.now()); err != nil {
		return err
	}
	e.plugins.EmitMeterUsageSet(ctx, m.ID, subscriber, value)
	return nil
}

func (e *Engine) writableMeter(ctx context.Context, meterID id.MeterID, want meter.Aggregation) (*meter.Meter, error) {
	m, err := e.store.GetMeter(ctx, meterID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(ctx, m.OrgID); err != nil {
		return nil, err
	}
	if err := meter.CheckWritable(m, want); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMeterUsage returns the accumulated usage of subscriber.
func (e *Engine) GetMeterUsage(ctx context.Context, meterID id.MeterID, subscriber string) (int64, error) {
	return e.store.GetUsage(ctx, meterID, subscriber)
}
