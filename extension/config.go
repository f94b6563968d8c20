package extension

import (
	"time"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/plan"
)

// Config holds the IvyLab extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ivylab" or "ivylab" keys).
type Config struct {
	// DisableMigrate prevents index creation on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BillingTimeout bounds the live billing lookup made during
	// entitlement checks (default: 3s).
	BillingTimeout time.Duration `json:"billing_timeout" mapstructure:"billing_timeout" yaml:"billing_timeout"`

	// Prices overrides the plan amounts in cents.
	Prices plan.Prices `json:"prices" mapstructure:"prices" yaml:"prices"`

	// LegacyEmails lists accounts allowed to sign in without the identity
	// provider.
	LegacyEmails []string `json:"legacy_emails" mapstructure:"legacy_emails" yaml:"legacy_emails"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BillingTimeout: ivylab.DefaultBillingTimeout,
		Prices:         plan.DefaultPrices(),
	}
}
