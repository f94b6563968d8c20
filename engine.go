package ivylab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/plugin"
	"github.com/ivylab/ivylab/store"
)

// DefaultBillingTimeout bounds the live billing lookup made while resolving
// entitlement.
const DefaultBillingTimeout = 3 * time.Second

// Engine is the subscription gate. It owns no state of its own: every call
// reads the identity store and, when needed, the billing provider.
type Engine struct {
	store   store.Store
	billing billing.Provider
	plugins *plugin.Registry
	logger  *slog.Logger

	catalog   *plan.Catalog
	accounts  auth.Accounts
	allowlist *auth.Allowlist

	billingTimeout time.Duration
	now            func() time.Time
}

// New creates an Engine. billing may be nil, in which case entitlement falls
// back to session-based grants and checkout operations fail with
// ErrProviderNotConfigured.
func New(s store.Store, b billing.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		billing:        b,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		catalog:        plan.NewCatalog(plan.DefaultPrices()),
		billingTimeout: DefaultBillingTimeout,
		now:            func() time.Time { return time.Now().UTC() },
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
		_ = e.plugins.Register(p) //nolint:errcheck // duplicate names are logged by the registry
	}
}

// WithBillingTimeout bounds the live status lookup. Non-positive values keep
// the default.
func WithBillingTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.billingTimeout = d
		}
	}
}

// WithCatalog replaces the default plan catalog.
func WithCatalog(c *plan.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithAccounts enables server-side signup.
func WithAccounts(a auth.Accounts) Option {
	return func(e *Engine) { e.accounts = a }
}

// WithAllowlist sets the emails allowed to sign in through legacy login.
func WithAllowlist(a *auth.Allowlist) Option {
	return func(e *Engine) { e.allowlist = a }
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("ivylab engine started",
		"billing", e.billing != nil,
		"accounts", e.accounts != nil,
		"legacy_emails", e.allowlist.Len(),
		"billing_timeout", e.billingTimeout,
	)

	return nil
}

// Stop notifies plugins and closes the store.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Health reports whether the identity store answers.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Catalog returns the plan catalog in use.
func (e *Engine) Catalog() *plan.Catalog { return e.catalog }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// BillingConfigured reports whether a billing provider is set.
func (e *Engine) BillingConfigured() bool { return e.billing != nil }

// SyncPrices finds or creates the provider prices for every plan.
func (e *Engine) SyncPrices(ctx context.Context) (billing.PriceIDs, error) {
	if e.billing == nil {
		return nil, ErrProviderNotConfigured
	}
	return e.billing.EnsurePrices(ctx, e.catalog)
}
