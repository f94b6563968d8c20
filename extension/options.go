package extension

import (
	"time"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/plugin"
	"github.com/ivylab/ivylab/store"
)

// Option configures the IvyLab Forge extension.
type Option func(*Extension)

// WithStore sets the identity store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithBilling sets the billing provider.
func WithBilling(p billing.Provider) Option {
	return func(e *Extension) {
		e.billing = p
	}
}

// WithEngineOption passes an ivylab.Option through to the underlying engine.
func WithEngineOption(opt ivylab.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, ivylab.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents index creation on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithBillingTimeout bounds the live billing lookup.
func WithBillingTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.BillingTimeout = d }
}

// WithPrices overrides plan amounts.
func WithPrices(p plan.Prices) Option {
	return func(e *Extension) { e.config.Prices = p }
}

// WithLegacyEmails sets the legacy login allowlist.
func WithLegacyEmails(emails ...string) Option {
	return func(e *Extension) { e.config.LegacyEmails = emails }
}
