package billing

// EventType names a provider notification.
type EventType string

const (
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventPaymentSucceeded    EventType = "invoice.payment_succeeded"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Metadata keys written on customers and subscriptions.
const (
	MetaUserID      = "user_id"
	MetaFirebaseUID = "firebase_uid"
	MetaUserEmail   = "user_email"
	MetaUserName    = "user_name"
	MetaPlan        = "plan"
	MetaStatus      = "status"
)

// Event is a verified provider notification. Exactly one of Subscription and
// Invoice is set for the event types above; both are nil otherwise.
type Event struct {
	ID           string        `json:"id"`
	Type         EventType     `json:"type"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Invoice      *Invoice      `json:"invoice,omitempty"`
}

// Invoice carries the fields of an invoice event that matter for lifecycle
// changes. Metadata merges the invoice's own metadata with the subscription
// metadata snapshot attached to it.
type Invoice struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// UserID resolves the local user from metadata, preferring user_id.
func UserID(md map[string]string) string {
	if v := md[MetaUserID]; v != "" {
		return v
	}
	return md[MetaFirebaseUID]
}
