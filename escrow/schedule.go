// Package escrow holds organization balances, the platform fee balance and
// the fee schedule used to split every payment between them.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/xraph/tally/types"
)

var (
	ErrInsufficientBalance = errors.New("tally: insufficient balance")
	ErrInvalidFeeReducer   = errors.New("Invalid fee reducer") //nolint:staticcheck // surfaced verbatim to callers
	ErrInvalidFeeRate      = errors.New("tally: fee rate exceeds 10000 bps")
	ErrAssetNotWhitelisted = errors.New("tally: asset not whitelisted")
)

// FeeReducer lets an integrator lower the fee charged to an organization.
// Reduce receives the gross amount and the computed fee and returns the
// fee to charge.
type FeeReducer interface {
	Reduce(ctx context.Context, orgID string, amount, fee int64) (int64, error)
}

// FeeReducerFunc adapts a function to FeeReducer.
type FeeReducerFunc func(ctx context.Context, orgID string, amount, fee int64) (int64, error)

// Reduce implements FeeReducer.
func (f FeeReducerFunc) Reduce(ctx context.Context, orgID string, amount, fee int64) (int64, error) {
	return f(ctx, orgID, amount, fee)
}

// Probe values used to validate a reducer on registration.
const (
	probeAmount = 10_000
	probeFee    = 100
)

// Config is a plain copy of a schedule's settings.
type Config struct {
	NativeAsset   string           `json:"native_asset"`
	Rates         map[string]int64 `json:"rates,omitempty"`
	ExoticRateBps int64            `json:"exotic_rate_bps"`
	FeeEnabled    bool             `json:"fee_enabled"`
	Exempt        map[string]bool  `json:"exempt,omitempty"`
	Whitelist     map[string]bool  `json:"whitelist,omitempty"`
}

// Schedule is the single fee configuration record. It is safe for
// concurrent use and shared by reference.
type Schedule struct {
	mu      sync.RWMutex
	cfg     Config
	reducer FeeReducer
}

// NewSchedule builds a schedule from cfg. Asset codes are lower-cased.
func NewSchedule(cfg Config) (*Schedule, error) {
	s := &Schedule{cfg: Config{
		NativeAsset:   strings.ToLower(cfg.NativeAsset),
		ExoticRateBps: cfg.ExoticRateBps,
		FeeEnabled:    cfg.FeeEnabled,
		Rates:         make(map[string]int64, len(cfg.Rates)),
		Exempt:        make(map[string]bool, len(cfg.Exempt)),
		Whitelist:     make(map[string]bool, len(cfg.Whitelist)),
	}}
	if err := checkRate(cfg.ExoticRateBps); err != nil {
		return nil, err
	}
	for asset, bps := range cfg.Rates {
		if err := checkRate(bps); err != nil {
			return nil, fmt.Errorf("%w: %s", err, asset)
		}
		s.cfg.Rates[strings.ToLower(asset)] = bps
	}
	for org, ok := range cfg.Exempt {
		if ok {
			s.cfg.Exempt[org] = true
		}
	}
	for asset, ok := range cfg.Whitelist {
		if ok {
			s.cfg.Whitelist[strings.ToLower(asset)] = true
		}
	}
	return s, nil
}

func checkRate(bps int64) error {
	if bps < 0 || bps > types.BpsDenominator {
		return ErrInvalidFeeRate
	}
	return nil
}

// NativeAsset returns the platform's native asset code.
func (s *Schedule) NativeAsset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.NativeAsset
}

// Snapshot returns a copy of the current settings.
func (s *Schedule) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Rates = maps.Clone(s.cfg.Rates)
	cfg.Exempt = maps.Clone(s.cfg.Exempt)
	cfg.Whitelist = maps.Clone(s.cfg.Whitelist)
	return cfg
}

// SetRate sets the explicit rate for asset. 0 clears it.
func (s *Schedule) SetRate(asset string, bps int64) error {
	if err := checkRate(bps); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	asset = strings.ToLower(asset)
	if bps == 0 {
		delete(s.cfg.Rates, asset)
	} else {
		s.cfg.Rates[asset] = bps
	}
	return nil
}

// SetExoticRate sets the fallback rate for non-native assets.
func (s *Schedule) SetExoticRate(bps int64) error {
	if err := checkRate(bps); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.ExoticRateBps = bps
	s.mu.Unlock()
	return nil
}

// SetEnabled turns fee collection on or off.
func (s *Schedule) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.FeeEnabled = enabled
	s.mu.Unlock()
}

// SetExempt marks orgID as paying no fee.
func (s *Schedule) SetExempt(orgID string, exempt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exempt {
		s.cfg.Exempt[orgID] = true
	} else {
		delete(s.cfg.Exempt, orgID)
	}
}

// SetWhitelisted allows or disallows asset for new pricing.
func (s *Schedule) SetWhitelisted(asset string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset = strings.ToLower(asset)
	if ok {
		s.cfg.Whitelist[asset] = true
	} else {
		delete(s.cfg.Whitelist, asset)
	}
}

// IsWhitelisted reports whether asset may be used for pricing. The
// native asset is always allowed.
func (s *Schedule) IsWhitelisted(asset string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset = strings.ToLower(asset)
	return asset == s.cfg.NativeAsset || s.cfg.Whitelist[asset]
}

// SetReducer installs r after probing it. A reducer that errors or
// returns a fee outside [0, fee] on the probe is rejected. nil removes
// the reducer.
func (s *Schedule) SetReducer(ctx context.Context, r FeeReducer) error {
	if r != nil {
		got, err := r.Reduce(ctx, "", probeAmount, probeFee)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFeeReducer, err)
		}
		if got < 0 || got > probeFee {
			return fmt.Errorf("%w: probe returned %d", ErrInvalidFeeReducer, got)
		}
	}
	s.mu.Lock()
	s.reducer = r
	s.mu.Unlock()
	return nil
}

// Rate returns the bps applied to asset before exemptions and reducers:
// the explicit rate if set, else the exotic rate for non-native assets,
// else 0.
func (s *Schedule) Rate(asset string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLocked(strings.ToLower(asset))
}

func (s *Schedule) rateLocked(asset string) int64 {
	if bps := s.cfg.Rates[asset]; bps != 0 {
		return bps
	}
	if asset == s.cfg.NativeAsset {
		return 0
	}
	return s.cfg.ExoticRateBps
}

// Fee returns the platform fee on amount of asset paid to orgID. A
// reducer error leaves the computed fee in place and is returned so the
// caller can log it. The result is always within [0, amount*rate/10000].
func (s *Schedule) Fee(ctx context.Context, orgID, asset string, amount int64) (int64, error) {
	s.mu.RLock()
	enabled := s.cfg.FeeEnabled
	exempt := s.cfg.Exempt[orgID]
	rate := s.rateLocked(strings.ToLower(asset))
	reducer := s.reducer
	s.mu.RUnlock()

	if !enabled || exempt || amount <= 0 {
		return 0, nil
	}
	fee := types.MulBps(amount, rate)
	if reducer == nil || fee == 0 {
		return fee, nil
	}

	reduced, err := reducer.Reduce(ctx, orgID, amount, fee)
	if err != nil {
		return fee, fmt.Errorf("escrow: fee reducer: %w", err)
	}
	return min(max(reduced, 0), fee), nil
}
