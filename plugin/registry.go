package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/ivylab/ivylab/entitlement"
	"github.com/ivylab/ivylab/subscription"
)

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                    []OnInit
	onShutdown                []OnShutdown
	onEntitlementChecked      []OnEntitlementChecked
	onRecordMerged            []OnRecordMerged
	onSubscriptionCreated     []OnSubscriptionCreated
	onSubscriptionCanceled    []OnSubscriptionCanceled
	onSubscriptionReactivated []OnSubscriptionReactivated
	onLegacyMigrated          []OnLegacyMigrated
	onBillingEvent            []OnBillingEvent
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout bounds how long a single hook may run.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEntitlementChecked); ok {
		r.onEntitlementChecked = append(r.onEntitlementChecked, v)
	}
	if v, ok := p.(OnRecordMerged); ok {
		r.onRecordMerged = append(r.onRecordMerged, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionReactivated); ok {
		r.onSubscriptionReactivated = append(r.onSubscriptionReactivated, v)
	}
	if v, ok := p.(OnLegacyMigrated); ok {
		r.onLegacyMigrated = append(r.onLegacyMigrated, v)
	}
	if v, ok := p.(OnBillingEvent); ok {
		r.onBillingEvent = append(r.onBillingEvent, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnEntitlementChecked", reflect.TypeFor[OnEntitlementChecked]()},
	{"OnRecordMerged", reflect.TypeFor[OnRecordMerged]()},
	{"OnSubscriptionCreated", reflect.TypeFor[OnSubscriptionCreated]()},
	{"OnSubscriptionCanceled", reflect.TypeFor[OnSubscriptionCanceled]()},
	{"OnSubscriptionReactivated", reflect.TypeFor[OnSubscriptionReactivated]()},
	{"OnLegacyMigrated", reflect.TypeFor[OnLegacyMigrated]()},
	{"OnBillingEvent", reflect.TypeFor[OnBillingEvent]()},
}

// implementedInterfaces returns the hook names implemented by p.
func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs fn for every plugin in list, logging failures. Hooks never stop
// the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list []T, fn func(T) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitEntitlementChecked emits an entitlement checked event.
func (r *Registry) EmitEntitlementChecked(ctx context.Context, userID string, d entitlement.Decision) {
	emit(ctx, r, "OnEntitlementChecked", snapshot(r, &r.onEntitlementChecked), func(p OnEntitlementChecked) error {
		return p.OnEntitlementChecked(ctx, userID, d)
	})
}

// EmitRecordMerged emits a record merged event.
func (r *Registry) EmitRecordMerged(ctx context.Context, userID string, d subscription.Delta) {
	emit(ctx, r, "OnRecordMerged", snapshot(r, &r.onRecordMerged), func(p OnRecordMerged) error {
		return p.OnRecordMerged(ctx, userID, d)
	})
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, rec *subscription.Record) {
	emit(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, rec.Clone())
	})
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, userID, billingRef string) {
	emit(ctx, r, "OnSubscriptionCanceled", snapshot(r, &r.onSubscriptionCanceled), func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, userID, billingRef)
	})
}

// EmitSubscriptionReactivated emits a subscription reactivated event.
func (r *Registry) EmitSubscriptionReactivated(ctx context.Context, userID, billingRef string) {
	emit(ctx, r, "OnSubscriptionReactivated", snapshot(r, &r.onSubscriptionReactivated), func(p OnSubscriptionReactivated) error {
		return p.OnSubscriptionReactivated(ctx, userID, billingRef)
	})
}

// EmitLegacyMigrated emits a legacy migration event.
func (r *Registry) EmitLegacyMigrated(ctx context.Context, legacyUserID, newUserID string) {
	emit(ctx, r, "OnLegacyMigrated", snapshot(r, &r.onLegacyMigrated), func(p OnLegacyMigrated) error {
		return p.OnLegacyMigrated(ctx, legacyUserID, newUserID)
	})
}

// EmitBillingEvent emits a billing provider event.
func (r *Registry) EmitBillingEvent(ctx context.Context, eventType string, handled bool, err error) {
	emit(ctx, r, "OnBillingEvent", snapshot(r, &r.onBillingEvent), func(p OnBillingEvent) error {
		return p.OnBillingEvent(ctx, eventType, handled, err)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block a request.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
