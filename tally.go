package tally

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// DefaultNativeAsset is the native asset used when no fee schedule is
// configured.
const DefaultNativeAsset = "usd"

// Engine is the commerce and subscription ledger.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	auth     Authorizer
	treasury Treasury
	fees     *escrow.Schedule
	clock    func() time.Time
	locks    *keyLock

	renewal RenewalConfig
	cronMu  sync.Mutex
	cron    *cron.Cron
}

// RenewalConfig controls batch and scheduled renewal.
type RenewalConfig struct {
	// Schedule is a cron spec for RenewDue. Empty disables the worker.
	Schedule string
	// Concurrency bounds the renewals processed at once by one batch.
	Concurrency int
	// BatchSize caps the due subscriptions picked up per scheduled run.
	BatchSize int
}

// DefaultRenewalConfig returns the renewal settings used when none are set.
func DefaultRenewalConfig() RenewalConfig {
	return RenewalConfig{
		Concurrency: 4,
		BatchSize:   100,
	}
}

// New creates a new Engine backed by s.
func New(s store.Store, opts ...Option) *Engine {
	fees, _ := escrow.NewSchedule(escrow.Config{NativeAsset: DefaultNativeAsset}) //nolint:errcheck // static config is valid
	e := &Engine{
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		auth:     NewStaticAuthorizer(),
		treasury: nopTreasury{},
		fees:     fees,
		clock:    time.Now,
		locks:    newKeyLock(),
		renewal:  DefaultRenewalConfig(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithAuthorizer sets the organization and role authority.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) {
		if a != nil {
			e.auth = a
		}
	}
}

// WithTreasury sets the fund mover. The default accepts every transfer.
func WithTreasury(t Treasury) Option {
	return func(e *Engine) {
		if t != nil {
			e.treasury = t
		}
	}
}

// WithFeeSchedule shares an existing fee schedule.
func WithFeeSchedule(s *escrow.Schedule) Option {
	return func(e *Engine) {
		if s != nil {
			e.fees = s
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithRenewalConfig sets renewal concurrency and scheduling.
func WithRenewalConfig(cfg RenewalConfig) Option {
	return func(e *Engine) {
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = DefaultRenewalConfig().Concurrency
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = DefaultRenewalConfig().BatchSize
		}
		e.renewal = cfg
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Fees returns the shared fee schedule.
func (e *Engine) Fees() *escrow.Schedule { return e.fees }

func (e *Engine) now() time.Time { return e.clock().UTC() }

// Start migrates the store, then runs StartWorkers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}
	return e.StartWorkers(ctx)
}

// StartWorkers initializes plugins and starts the renewal worker when a
// schedule is configured. It does not touch the schema.
func (e *Engine) StartWorkers(ctx context.Context) error {
	e.plugins.EmitInit(ctx, e)

	if err := e.startRenewalWorker(); err != nil {
		return err
	}

	e.logger.Info("tally started",
		"native_asset", e.fees.NativeAsset(),
		"renewal_schedule", e.renewal.Schedule,
		"renewal_concurrency", e.renewal.Concurrency,
	)
	return nil
}

// Stop halts the renewal worker, waits for a running batch, and closes
// the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopRenewalWorker(ctx)
	e.plugins.EmitShutdown(ctx)
	return e.store.Close()
}
