// Package plugin provides an extensible plugin system for IvyLab.
// Plugins can hook into entitlement and subscription lifecycle events.
package plugin

import (
	"context"

	"github.com/ivylab/ivylab/entitlement"
	"github.com/ivylab/ivylab/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *ivylab.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked is called after every entitlement decision.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, userID string, decision entitlement.Decision) error
}

// ──────────────────────────────────────────────────
// Record and subscription hooks
// ──────────────────────────────────────────────────

// OnRecordMerged is called after a lifecycle delta was written.
type OnRecordMerged interface {
	Plugin
	OnRecordMerged(ctx context.Context, userID string, delta subscription.Delta) error
}

// OnSubscriptionCreated is called after a paid subscription is persisted.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, rec *subscription.Record) error
}

// OnSubscriptionCanceled is called when a user schedules cancellation or
// the provider reports the subscription ended.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, userID, billingRef string) error
}

// OnSubscriptionReactivated is called when a scheduled cancellation is undone.
type OnSubscriptionReactivated interface {
	Plugin
	OnSubscriptionReactivated(ctx context.Context, userID, billingRef string) error
}

// OnLegacyMigrated is called after a legacy account moved to a verified uid.
type OnLegacyMigrated interface {
	Plugin
	OnLegacyMigrated(ctx context.Context, legacyUserID, newUserID string) error
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnBillingEvent is called for every verified provider notification.
// handled is false for event types that carry no lifecycle change.
type OnBillingEvent interface {
	Plugin
	OnBillingEvent(ctx context.Context, eventType string, handled bool, err error) error
}
