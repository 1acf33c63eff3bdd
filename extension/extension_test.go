package extension

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{RenewalConcurrency: 8})

	assert.Equal(t, "usd", cfg.NativeAsset)
	assert.Equal(t, 8, cfg.RenewalConcurrency)
	assert.Equal(t, 100, cfg.RenewalBatchSize)
	assert.Equal(t, DefaultConfig().StopTimeout, cfg.StopTimeout)
}

func TestMergeConfigurationsPrefersFile(t *testing.T) {
	file := Config{NativeAsset: "eth", RenewalSchedule: "@hourly"}
	prog := Config{
		NativeAsset:       "usd",
		RenewalSchedule:   "@daily",
		DisableMigrate:    true,
		WhitelistedAssets: []string{"usdc"},
		StoreDriver:       "sqlite",
	}

	cfg := mergeConfigurations(file, prog)

	assert.Equal(t, "eth", cfg.NativeAsset)
	assert.Equal(t, "@hourly", cfg.RenewalSchedule)
	assert.True(t, cfg.DisableMigrate)
	assert.Equal(t, []string{"usdc"}, cfg.WhitelistedAssets)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 4, cfg.RenewalConcurrency)
}

func TestResolveStoreDefaultsToMemory(t *testing.T) {
	e := New()
	s, err := e.resolveStore()
	require.NoError(t, err)
	_, ok := s.(*memory.Store)
	assert.True(t, ok)
}

func TestResolveStorePrefersProgrammatic(t *testing.T) {
	mem := memory.New()
	e := New(WithStore(mem))
	s, err := e.resolveStore()
	require.NoError(t, err)
	assert.Same(t, mem, s)
}

func TestInitBuildsEngine(t *testing.T) {
	e := New(
		WithNativeAsset("eth"),
		WithWhitelistedAssets("usdc"),
		WithFees(map[string]int64{"usdc": 100}, 250),
		WithMetricsRegisterer(prometheus.NewRegistry()),
	)
	e.config = mergeWithDefaults(e.config)
	require.NoError(t, e.initEngine())

	eng := e.Engine()
	require.NotNil(t, eng)
	assert.Equal(t, "eth", eng.Fees().NativeAsset())
	assert.True(t, eng.Fees().IsWhitelisted("usdc"))
	assert.Equal(t, int64(100), eng.Fees().Rate("usdc"))
	assert.Equal(t, 1, eng.Plugins().Count())
	require.NoError(t, e.Health(context.Background()))
}

func TestInitRejectsBadFeeRate(t *testing.T) {
	e := New(WithFees(map[string]int64{"usdc": 20_000}, 0))
	e.config = mergeWithDefaults(e.config)
	assert.Error(t, e.initEngine())
}
