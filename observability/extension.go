// Package observability provides a metrics plugin for IvyLab that counts
// lifecycle hooks through a MetricFactory.
package observability

import (
	"context"

	"github.com/ivylab/ivylab/entitlement"
	"github.com/ivylab/ivylab/plugin"
	"github.com/ivylab/ivylab/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                    = (*MetricsExtension)(nil)
	_ plugin.OnInit                    = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked      = (*MetricsExtension)(nil)
	_ plugin.OnRecordMerged            = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionReactivated = (*MetricsExtension)(nil)
	_ plugin.OnLegacyMigrated          = (*MetricsExtension)(nil)
	_ plugin.OnBillingEvent            = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
}

// MetricsExtension records system-wide lifecycle metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Entitlement metrics
	EntitlementChecks      Counter
	EntitlementGranted     Counter
	EntitlementDenied      Counter
	EntitlementSessionOnly Counter

	// Record metrics
	RecordMerged   Counter
	LegacyMigrated Counter

	// Subscription metrics
	SubscriptionCreated     Counter
	SubscriptionCanceled    Counter
	SubscriptionReactivated Counter

	// Provider metrics
	WebhookReceived  Counter
	WebhookProcessed Counter
	WebhookIgnored   Counter
	WebhookFailed    Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		EntitlementChecks:      factory.Counter("ivylab.entitlement.checks"),
		EntitlementGranted:     factory.Counter("ivylab.entitlement.granted"),
		EntitlementDenied:      factory.Counter("ivylab.entitlement.denied"),
		EntitlementSessionOnly: factory.Counter("ivylab.entitlement.session_based"),

		RecordMerged:   factory.Counter("ivylab.record.merged"),
		LegacyMigrated: factory.Counter("ivylab.account.migrated"),

		SubscriptionCreated:     factory.Counter("ivylab.subscription.created"),
		SubscriptionCanceled:    factory.Counter("ivylab.subscription.canceled"),
		SubscriptionReactivated: factory.Counter("ivylab.subscription.reactivated"),

		WebhookReceived:  factory.Counter("ivylab.webhook.received"),
		WebhookProcessed: factory.Counter("ivylab.webhook.processed"),
		WebhookIgnored:   factory.Counter("ivylab.webhook.ignored"),
		WebhookFailed:    factory.Counter("ivylab.webhook.failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	// No initialization needed
	return nil
}

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (m *MetricsExtension) OnEntitlementChecked(_ context.Context, _ string, d entitlement.Decision) error {
	m.EntitlementChecks.Inc()
	if d.Granted {
		m.EntitlementGranted.Inc()
		if d.Basis == entitlement.BasisSession {
			m.EntitlementSessionOnly.Inc()
		}
		return nil
	}
	m.EntitlementDenied.Inc()
	return nil
}

// OnRecordMerged implements plugin.OnRecordMerged.
func (m *MetricsExtension) OnRecordMerged(_ context.Context, _ string, _ subscription.Delta) error {
	m.RecordMerged.Inc()
	return nil
}

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Record) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _, _ string) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionReactivated implements plugin.OnSubscriptionReactivated.
func (m *MetricsExtension) OnSubscriptionReactivated(_ context.Context, _, _ string) error {
	m.SubscriptionReactivated.Inc()
	return nil
}

// OnLegacyMigrated implements plugin.OnLegacyMigrated.
func (m *MetricsExtension) OnLegacyMigrated(_ context.Context, _, _ string) error {
	m.LegacyMigrated.Inc()
	return nil
}

// OnBillingEvent implements plugin.OnBillingEvent.
func (m *MetricsExtension) OnBillingEvent(_ context.Context, _ string, handled bool, err error) error {
	m.WebhookReceived.Inc()
	switch {
	case err != nil:
		m.WebhookFailed.Inc()
	case !handled:
		m.WebhookIgnored.Inc()
	default:
		m.WebhookProcessed.Inc()
	}
	return nil
}
