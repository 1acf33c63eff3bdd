package extension

import "time"

// Config holds the Tally extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tally" or "tally" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// NativeAsset is the asset accepted without whitelisting (default: "usd").
	NativeAsset string `json:"native_asset" mapstructure:"native_asset" yaml:"native_asset"`

	// FeeEnabled turns on the protocol fee taken from every credit.
	FeeEnabled bool `json:"fee_enabled" mapstructure:"fee_enabled" yaml:"fee_enabled"`

	// AssetFeeRates maps asset codes to their fee in basis points.
	AssetFeeRates map[string]int64 `json:"asset_fee_rates" mapstructure:"asset_fee_rates" yaml:"asset_fee_rates"`

	// ExoticRateBps is the fee for assets without an explicit rate.
	ExoticRateBps int64 `json:"exotic_rate_bps" mapstructure:"exotic_rate_bps" yaml:"exotic_rate_bps"`

	// WhitelistedAssets lists the non-native assets accepted for payment.
	WhitelistedAssets []string `json:"whitelisted_assets" mapstructure:"whitelisted_assets" yaml:"whitelisted_assets"`

	// RenewalSchedule is a cron spec for the renewal worker. Empty
	// disables scheduled renewal.
	RenewalSchedule string `json:"renewal_schedule" mapstructure:"renewal_schedule" yaml:"renewal_schedule"`

	// RenewalConcurrency bounds the renewals processed at once (default: 4).
	RenewalConcurrency int `json:"renewal_concurrency" mapstructure:"renewal_concurrency" yaml:"renewal_concurrency"`

	// RenewalBatchSize caps the due subscriptions per scheduled run (default: 100).
	RenewalBatchSize int `json:"renewal_batch_size" mapstructure:"renewal_batch_size" yaml:"renewal_batch_size"`

	// StopTimeout bounds how long Stop waits for a running renewal batch
	// (default: 30s).
	StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout" yaml:"stop_timeout"`

	// StoreDriver selects the store built around a grove database passed
	// with WithGroveDB: "postgres", "sqlite" or "mongo".
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// EnableMetrics registers the Prometheus metrics plugin on the
	// default registerer.
	EnableMetrics bool `json:"enable_metrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NativeAsset:        "usd",
		RenewalConcurrency: 4,
		RenewalBatchSize:   100,
		StopTimeout:        30 * time.Second,
	}
}
