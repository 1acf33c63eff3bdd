package plugin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/pricing"
)

type recorder struct {
	name    string
	created atomic.Int32
	fees    atomic.Int32
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnPricingCreated(context.Context, *pricing.Pricing) error {
	r.created.Add(1)
	return nil
}

func (r *recorder) OnFeeSet(context.Context, FeeChange) error {
	r.fees.Add(1)
	return errors.New("ignored")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnPricingCreated(ctx context.Context, _ *pricing.Pricing) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, reg.Register(rec))
	assert.Error(t, reg.Register(&recorder{name: "rec"}), "duplicate names are rejected")

	ctx := context.Background()
	reg.EmitPricingCreated(ctx, &pricing.Pricing{})
	reg.EmitPricingCreated(ctx, &pricing.Pricing{})
	reg.EmitFeeSet(ctx, FeeChange{Setting: "rate"})
	reg.EmitCouponCreated(ctx, nil)

	assert.Equal(t, int32(2), rec.created.Load())
	assert.Equal(t, int32(1), rec.fees.Load(), "hook errors are logged, not propagated")
	assert.Equal(t, 1, reg.Count())
	assert.Same(t, rec, reg.Get("rec"))
	assert.Nil(t, reg.Get("missing"))
}

func TestRegistryTimeout(t *testing.T) {
	reg := NewRegistry().WithTimeout(10 * time.Millisecond)
	require.NoError(t, reg.Register(slowPlugin{}))

	start := time.Now()
	reg.EmitPricingCreated(context.Background(), &pricing.Pricing{})
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
