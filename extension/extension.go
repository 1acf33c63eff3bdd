// Package extension provides the Forge extension adapter for Tally.
//
// It implements the forge.Extension interface to integrate Tally
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tally" or "tally" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/tally"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/observability"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	mongostore "github.com/xraph/tally/store/mongo"
	pgstore "github.com/xraph/tally/store/postgres"
	sqlitestore "github.com/xraph/tally/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tally"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Commerce and subscription ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Tally as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tally.Engine
	store      store.Store
	groveDB    *grove.DB
	metricsReg prometheus.Registerer
	tallyOpts  []tally.Option
}

// New creates a new Tally Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Tally engine.
// This is nil until Register is called.
func (e *Extension) Engine() *tally.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.initEngine(); err != nil {
		return err
	}

	return vessel.Provide(fapp.Container(), func() (*tally.Engine, error) {
		return e.engine, nil
	})
}

// initEngine resolves the store and builds the engine from the loaded config.
func (e *Extension) initEngine() error {
	s, err := e.resolveStore()
	if err != nil {
		return err
	}
	e.store = s

	opts, err := e.buildTallyOpts()
	if err != nil {
		return err
	}
	e.engine = tally.New(e.store, opts...)
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tally: extension not initialized")
	}

	if e.config.DisableMigrate {
		if err := e.engine.StartWorkers(ctx); err != nil {
			return err
		}
	} else if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()
	if e.engine == nil {
		return nil
	}
	if e.config.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.StopTimeout)
		defer cancel()
	}
	return e.engine.Stop(ctx)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tally: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveStore picks the programmatic store, then a grove-backed store,
// then the in-memory store.
func (e *Extension) resolveStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.groveDB == nil {
		return memory.New(), nil
	}
	switch e.config.StoreDriver {
	case "postgres", "pg":
		return pgstore.New(e.groveDB), nil
	case "sqlite":
		return sqlitestore.New(e.groveDB), nil
	case "mongo", "mongodb":
		return mongostore.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("tally: unknown store driver %q", e.config.StoreDriver)
	}
}

// buildTallyOpts constructs tally.Option values from the resolved config.
func (e *Extension) buildTallyOpts() ([]tally.Option, error) {
	opts := make([]tally.Option, 0, len(e.tallyOpts)+3)

	whitelist := make(map[string]bool, len(e.config.WhitelistedAssets))
	for _, asset := range e.config.WhitelistedAssets {
		whitelist[asset] = true
	}
	fees, err := escrow.NewSchedule(escrow.Config{
		NativeAsset:   e.config.NativeAsset,
		Rates:         e.config.AssetFeeRates,
		ExoticRateBps: e.config.ExoticRateBps,
		FeeEnabled:    e.config.FeeEnabled,
		Whitelist:     whitelist,
	})
	if err != nil {
		return nil, fmt.Errorf("tally: fee schedule: %w", err)
	}
	opts = append(opts, tally.WithFeeSchedule(fees))

	opts = append(opts, tally.WithRenewalConfig(tally.RenewalConfig{
		Schedule:    e.config.RenewalSchedule,
		Concurrency: e.config.RenewalConcurrency,
		BatchSize:   e.config.RenewalBatchSize,
	}))

	if e.config.EnableMetrics {
		factory := observability.NewPrometheusFactory(e.metricsReg)
		opts = append(opts, tally.WithPlugin(observability.NewMetricsExtension(factory)))
	}

	// Pass-through options apply last so they can override config.
	opts = append(opts, e.tallyOpts...)

	return opts, nil
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tally: configuration is required but not found in config files; " +
				"ensure 'extensions.tally' or 'tally' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tally: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("native_asset", e.config.NativeAsset),
		forge.F("fee_enabled", e.config.FeeEnabled),
		forge.F("renewal_schedule", e.config.RenewalSchedule),
		forge.F("renewal_concurrency", e.config.RenewalConcurrency),
		forge.F("store_driver", e.config.StoreDriver),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.tally", "tally"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("tally: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("tally: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.NativeAsset == "" {
		cfg.NativeAsset = defaults.NativeAsset
	}
	if cfg.RenewalConcurrency == 0 {
		cfg.RenewalConcurrency = defaults.RenewalConcurrency
	}
	if cfg.RenewalBatchSize == 0 {
		cfg.RenewalBatchSize = defaults.RenewalBatchSize
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.FeeEnabled {
		yamlConfig.FeeEnabled = true
	}
	if programmaticConfig.EnableMetrics {
		yamlConfig.EnableMetrics = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.NativeAsset == "" {
		yamlConfig.NativeAsset = programmaticConfig.NativeAsset
	}
	if yamlConfig.RenewalSchedule == "" {
		yamlConfig.RenewalSchedule = programmaticConfig.RenewalSchedule
	}
	if yamlConfig.StoreDriver == "" {
		yamlConfig.StoreDriver = programmaticConfig.StoreDriver
	}

	// Numeric and collection fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.ExoticRateBps == 0 {
		yamlConfig.ExoticRateBps = programmaticConfig.ExoticRateBps
	}
	if len(yamlConfig.AssetFeeRates) == 0 {
		yamlConfig.AssetFeeRates = programmaticConfig.AssetFeeRates
	}
	if len(yamlConfig.WhitelistedAssets) == 0 {
		yamlConfig.WhitelistedAssets = programmaticConfig.WhitelistedAssets
	}
	if yamlConfig.RenewalConcurrency == 0 {
		yamlConfig.RenewalConcurrency = programmaticConfig.RenewalConcurrency
	}
	if yamlConfig.RenewalBatchSize == 0 {
		yamlConfig.RenewalBatchSize = programmaticConfig.RenewalBatchSize
	}
	if yamlConfig.StopTimeout == 0 {
		yamlConfig.StopTimeout = programmaticConfig.StopTimeout
	}

	return mergeWithDefaults(yamlConfig)
}
