// Package extension provides the Forge extension adapter for IvyLab.
//
// It implements the forge.Extension interface to run the subscription
// engine inside a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.ivylab" or "ivylab" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/store"
	"github.com/ivylab/ivylab/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "ivylab"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription entitlement gate"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the IvyLab engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *ivylab.Engine
	store      store.Store
	billing    billing.Provider
	engineOpts []ivylab.Option
}

// New creates a new IvyLab Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *ivylab.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// builds the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = ivylab.New(e.store, e.billing, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*ivylab.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("ivylab: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("ivylab: engine not initialized")
	}
	return e.engine.Health(ctx)
}

// buildEngineOpts constructs ivylab.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []ivylab.Option {
	opts := make([]ivylab.Option, 0, len(e.engineOpts)+3)

	opts = append(opts,
		ivylab.WithBillingTimeout(e.config.BillingTimeout),
		ivylab.WithCatalog(plan.NewCatalog(e.config.Prices)),
	)
	if len(e.config.LegacyEmails) > 0 {
		opts = append(opts, ivylab.WithAllowlist(auth.NewAllowlist(e.config.LegacyEmails...)))
	}

	// Pass-through options come last so they win.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("ivylab: configuration is required but not found in config files; " +
				"ensure 'extensions.ivylab' or 'ivylab' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("ivylab: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("billing_timeout", e.config.BillingTimeout),
		forge.F("weekly_cents", e.config.Prices.WeeklyCents),
		forge.F("monthly_cents", e.config.Prices.MonthlyCents),
		forge.F("legacy_emails", len(e.config.LegacyEmails)),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.ivylab", "ivylab"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("ivylab: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("ivylab: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BillingTimeout <= 0 {
		cfg.BillingTimeout = defaults.BillingTimeout
	}
	if cfg.Prices.WeeklyCents <= 0 {
		cfg.Prices.WeeklyCents = defaults.Prices.WeeklyCents
	}
	if cfg.Prices.MonthlyCents <= 0 {
		cfg.Prices.MonthlyCents = defaults.Prices.MonthlyCents
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.BillingTimeout == 0 && programmaticConfig.BillingTimeout != 0 {
		yamlConfig.BillingTimeout = programmaticConfig.BillingTimeout
	}
	if yamlConfig.Prices.WeeklyCents == 0 && programmaticConfig.Prices.WeeklyCents != 0 {
		yamlConfig.Prices.WeeklyCents = programmaticConfig.Prices.WeeklyCents
	}
	if yamlConfig.Prices.MonthlyCents == 0 && programmaticConfig.Prices.MonthlyCents != 0 {
		yamlConfig.Prices.MonthlyCents = programmaticConfig.Prices.MonthlyCents
	}
	if len(yamlConfig.LegacyEmails) == 0 {
		yamlConfig.LegacyEmails = programmaticConfig.LegacyEmails
	}

	return mergeWithDefaults(yamlConfig)
}
