package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedule(t *testing.T) *Schedule {
	t.Helper()
	s, err := NewSchedule(Config{
		NativeAsset:   "ETH",
		ExoticRateBps: 250,
		FeeEnabled:    true,
		Rates:         map[string]int64{"usdc": 100},
	})
	require.NoError(t, err)
	return s
}

func TestFee(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(*Schedule)
		org    string
		asset  string
		amount int64
		want   int64
	}{
		{"explicit rate", nil, "org1", "usdc", 10000, 100},
		{"exotic fallback", nil, "org1", "dai", 10000, 250},
		{"native ignores exotic", nil, "org1", "eth", 10000, 0},
		{"native explicit rate", func(s *Schedule) { _ = s.SetRate("eth", 50) }, "org1", "eth", 10000, 50},
		{"cleared rate falls back", func(s *Schedule) { _ = s.SetRate("usdc", 0) }, "org1", "usdc", 10000, 250},
		{"exempt org", func(s *Schedule) { s.SetExempt("org1", true) }, "org1", "usdc", 10000, 0},
		{"other org not exempt", func(s *Schedule) { s.SetExempt("org2", true) }, "org1", "usdc", 10000, 100},
		{"disabled", func(s *Schedule) { s.SetEnabled(false) }, "org1", "dai", 10000, 0},
		{"truncates", nil, "org1", "usdc", 99, 0},
		{"case insensitive asset", nil, "org1", "USDC", 10000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSchedule(t)
			if tt.setup != nil {
				tt.setup(s)
			}
			got, err := s.Fee(ctx, tt.org, tt.asset, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNativeFeeIgnoresExoticRate(t *testing.T) {
	ctx := context.Background()
	for _, exotic := range []int64{0, 1, 500, 10000} {
		s, err := NewSchedule(Config{NativeAsset: "eth", ExoticRateBps: exotic, FeeEnabled: true})
		require.NoError(t, err)

		fee, err := s.Fee(ctx, "org", "eth", 1_000_000)
		require.NoError(t, err)
		assert.Zero(t, fee, "exotic rate %d", exotic)
	}
}

func TestFeeReducer(t *testing.T) {
	ctx := context.Background()

	t.Run("halves fee", func(t *testing.T) {
		s := newSchedule(t)
		require.NoError(t, s.SetReducer(ctx, FeeReducerFunc(func(_ context.Context, _ string, _, fee int64) (int64, error) {
			return fee / 2, nil
		})))
		fee, err := s.Fee(ctx, "org1", "dai", 10000)
		require.NoError(t, err)
		assert.Equal(t, int64(125), fee)
	})

	t.Run("per org promotion", func(t *testing.T) {
		s := newSchedule(t)
		require.NoError(t, s.SetReducer(ctx, FeeReducerFunc(func(_ context.Context, org string, _, fee int64) (int64, error) {
			if org == "promo" {
				return 0, nil
			}
			return fee, nil
		})))
		promo, _ := s.Fee(ctx, "promo", "dai", 10000)
		regular, _ := s.Fee(ctx, "regular", "dai", 10000)
		assert.Zero(t, promo)
		assert.Equal(t, int64(250), regular)
	})

	t.Run("rejects reducer that errors", func(t *testing.T) {
		s := newSchedule(t)
		err := s.SetReducer(ctx, FeeReducerFunc(func(context.Context, string, int64, int64) (int64, error) {
			return 0, errors.New("boom")
		}))
		assert.ErrorIs(t, err, ErrInvalidFeeReducer)
		assert.EqualError(t, ErrInvalidFeeReducer, "Invalid fee reducer")
	})

	t.Run("rejects reducer that raises fee", func(t *testing.T) {
		s := newSchedule(t)
		err := s.SetReducer(ctx, FeeReducerFunc(func(_ context.Context, _ string, _, fee int64) (int64, error) {
			return fee + 1, nil
		}))
		assert.ErrorIs(t, err, ErrInvalidFeeReducer)
	})

	t.Run("runtime result clamped", func(t *testing.T) {
		s := newSchedule(t)
		calls := 0
		require.NoError(t, s.SetReducer(ctx, FeeReducerFunc(func(_ context.Context, _ string, _, fee int64) (int64, error) {
			calls++
			if calls == 1 {
				return fee, nil
			}
			return fee * 10, nil
		})))
		fee, err := s.Fee(ctx, "org1", "dai", 10000)
		require.NoError(t, err)
		assert.Equal(t, int64(250), fee)
	})

	t.Run("runtime error keeps fee", func(t *testing.T) {
		s := newSchedule(t)
		fail := false
		require.NoError(t, s.SetReducer(ctx, FeeReducerFunc(func(_ context.Context, _ string, _, fee int64) (int64, error) {
			if fail {
				return 0, errors.New("down")
			}
			return fee, nil
		})))
		fail = true
		fee, err := s.Fee(ctx, "org1", "dai", 10000)
		assert.Error(t, err)
		assert.Equal(t, int64(250), fee)
	})
}

func TestScheduleRates(t *testing.T) {
	s := newSchedule(t)
	assert.ErrorIs(t, s.SetRate("usdc", 10001), ErrInvalidFeeRate)
	assert.ErrorIs(t, s.SetExoticRate(-1), ErrInvalidFeeRate)

	_, err := NewSchedule(Config{Rates: map[string]int64{"x": 20000}})
	assert.ErrorIs(t, err, ErrInvalidFeeRate)

	assert.True(t, s.IsWhitelisted("ETH"))
	assert.False(t, s.IsWhitelisted("dai"))
	s.SetWhitelisted("DAI", true)
	assert.True(t, s.IsWhitelisted("dai"))

	snap := s.Snapshot()
	snap.Whitelist["evil"] = true
	assert.False(t, s.IsWhitelisted("evil"), "snapshot must be a copy")
}
