package audithook

// Action constants for audit events.
const (
	// Entitlement actions
	ActionEntitlementGranted = "entitlement.granted"
	ActionEntitlementDenied  = "entitlement.denied"

	// Record actions
	ActionRecordMerged    = "record.merged"
	ActionAccountMigrated = "account.migrated"

	// Subscription actions
	ActionSubscriptionCreated     = "subscription.created"
	ActionSubscriptionCanceled    = "subscription.canceled"
	ActionSubscriptionReactivated = "subscription.reactivated"

	// Provider actions
	ActionWebhookProcessed = "webhook.processed"
	ActionWebhookIgnored   = "webhook.ignored"
	ActionWebhookFailed    = "webhook.failed"
)

// Resource constants for audit events.
const (
	ResourceEntitlement  = "entitlement"
	ResourceRecord       = "record"
	ResourceSubscription = "subscription"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategoryAccess       = "access"
	CategorySubscription = "subscription"
	CategoryAccount      = "account"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
