package extension

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/grove"

	"github.com/xraph/tally"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// Option configures the Tally Forge extension.
type Option func(*Extension)

// WithStore sets the store for the tally engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store from a grove database. driver is one of
// "postgres", "sqlite" or "mongo".
func WithGroveDB(driver string, db *grove.DB) Option {
	return func(e *Extension) {
		e.config.StoreDriver = driver
		e.groveDB = db
	}
}

// WithTallyOption passes a tally.Option through to the underlying engine.
func WithTallyOption(opt tally.Option) Option {
	return func(e *Extension) {
		e.tallyOpts = append(e.tallyOpts, opt)
	}
}

// WithPlugin registers a tally plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.tallyOpts = append(e.tallyOpts, tally.WithPlugin(p))
	}
}

// WithMetricsRegisterer enables the metrics plugin on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Extension) {
		e.config.EnableMetrics = true
		e.metricsReg = reg
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithNativeAsset sets the native asset.
func WithNativeAsset(asset string) Option {
	return func(e *Extension) { e.config.NativeAsset = asset }
}

// WithFees enables the protocol fee with per-asset rates.
func WithFees(rates map[string]int64, exoticBps int64) Option {
	return func(e *Extension) {
		e.config.FeeEnabled = true
		e.config.AssetFeeRates = rates
		e.config.ExoticRateBps = exoticBps
	}
}

// WithWhitelistedAssets sets the non-native assets accepted for payment.
func WithWhitelistedAssets(assets ...string) Option {
	return func(e *Extension) { e.config.WhitelistedAssets = assets }
}

// WithRenewalSchedule sets the cron spec for the renewal worker.
func WithRenewalSchedule(spec string) Option {
	return func(e *Extension) { e.config.RenewalSchedule = spec }
}

// WithRenewalConcurrency bounds the renewals processed at once.
func WithRenewalConcurrency(n int) Option {
	return func(e *Extension) { e.config.RenewalConcurrency = n }
}
