// Package audithook turns IvyLab lifecycle hooks into audit events.
//
// It defines a local Recorder interface so no audit backend is imported
// here. Callers inject a RecorderFunc adapter, or use SlogRecorder to write
// the trail to the application log.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivylab/ivylab/entitlement"
	"github.com/ivylab/ivylab/id"
	"github.com/ivylab/ivylab/plugin"
	"github.com/ivylab/ivylab/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                    = (*Extension)(nil)
	_ plugin.OnEntitlementChecked      = (*Extension)(nil)
	_ plugin.OnRecordMerged            = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated     = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled    = (*Extension)(nil)
	_ plugin.OnSubscriptionReactivated = (*Extension)(nil)
	_ plugin.OnLegacyMigrated          = (*Extension)(nil)
	_ plugin.OnBillingEvent            = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events as structured log lines.
type SlogRecorder struct {
	Logger *slog.Logger
}

// Record implements Recorder.
func (s SlogRecorder) Record(ctx context.Context, event *AuditEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError, SeverityCritical:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("action", event.Action),
		slog.String("resource", event.Resource),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}
	logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

// Extension bridges lifecycle hooks to an audit backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (e *Extension) OnEntitlementChecked(ctx context.Context, userID string, d entitlement.Decision) error {
	if d.Granted {
		return e.record(ctx, ActionEntitlementGranted, SeverityInfo, OutcomeSuccess,
			ResourceEntitlement, userID, CategoryAccess, d.Reason,
			"basis", string(d.Basis),
		)
	}
	return e.record(ctx, ActionEntitlementDenied, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, userID, CategoryAccess, d.Reason,
		"basis", string(d.Basis),
	)
}

// ──────────────────────────────────────────────────
// Record and subscription hooks
// ──────────────────────────────────────────────────

// OnRecordMerged implements plugin.OnRecordMerged.
func (e *Extension) OnRecordMerged(ctx context.Context, userID string, d subscription.Delta) error {
	return e.record(ctx, ActionRecordMerged, SeverityInfo, OutcomeSuccess,
		ResourceRecord, userID, CategorySubscription, "",
		"status", string(d.Status),
		"plan", string(d.Plan),
		"billing_reference", d.BillingReference,
	)
}

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, rec *subscription.Record) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, rec.UserID, CategorySubscription, "",
		"plan", string(rec.Plan),
		"billing_reference", rec.BillingReference,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, userID, billingRef string) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userID, CategorySubscription, "",
		"billing_reference", billingRef,
	)
}

// OnSubscriptionReactivated implements plugin.OnSubscriptionReactivated.
func (e *Extension) OnSubscriptionReactivated(ctx context.Context, userID, billingRef string) error {
	return e.record(ctx, ActionSubscriptionReactivated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userID, CategorySubscription, "",
		"billing_reference", billingRef,
	)
}

// OnLegacyMigrated implements plugin.OnLegacyMigrated.
func (e *Extension) OnLegacyMigrated(ctx context.Context, legacyUserID, newUserID string) error {
	return e.record(ctx, ActionAccountMigrated, SeverityInfo, OutcomeSuccess,
		ResourceRecord, newUserID, CategoryAccount, "",
		"legacy_user_id", legacyUserID,
	)
}

// ──────────────────────────────────────────────────
// Provider hooks
// ──────────────────────────────────────────────────

// OnBillingEvent implements plugin.OnBillingEvent.
func (e *Extension) OnBillingEvent(ctx context.Context, eventType string, handled bool, err error) error {
	switch {
	case err != nil:
		return e.record(ctx, ActionWebhookFailed, SeverityError, OutcomeFailure,
			ResourceWebhook, eventType, CategoryIntegration, err.Error(),
			"error", err.Error(),
		)
	case !handled:
		return e.record(ctx, ActionWebhookIgnored, SeverityInfo, OutcomeSuccess,
			ResourceWebhook, eventType, CategoryIntegration, "",
		)
	default:
		return e.record(ctx, ActionWebhookProcessed, SeverityInfo, OutcomeSuccess,
			ResourceWebhook, eventType, CategoryIntegration, "",
		)
	}
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		if s, isStr := kvPairs[i+1].(string); isStr && s == "" {
			continue
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		ID:         id.NewAuditEventID().String(),
		Timestamp:  e.now().UTC(),
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
