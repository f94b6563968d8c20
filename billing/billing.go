// Package billing defines the payments-provider contract: live subscription
// lookups, checkout steps, cancellation and webhook events.
package billing

import (
	"context"
	"time"

	"github.com/ivylab/ivylab/plan"
)

// Subscription statuses reported by the provider.
const (
	StatusActive     = "active"
	StatusTrialing   = "trialing"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusUnpaid     = "unpaid"
	StatusIncomplete = "incomplete"
)

// Subscription is the provider's view of a subscription.
type Subscription struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id,omitempty"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	StartDate         time.Time         `json:"start_date,omitzero"`
	CurrentPeriodEnd  time.Time         `json:"current_period_end,omitzero"`
	PriceID           string            `json:"price_id,omitempty"`
	Interval          string            `json:"interval,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Succeeded reports whether checkout produced a usable subscription.
func (s *Subscription) Succeeded() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// Customer is a provider customer.
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CustomerParams describes a customer to create.
type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// SubscriptionParams describes a subscription to create.
type SubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	Metadata        map[string]string
}

// PriceIDs maps each plan to the provider's recurring price.
type PriceIDs map[plan.ID]string

// Provider is the payments system. Every method that talks to the network
// takes a context; implementations honour its deadline.
type Provider interface {
	// GetSubscription fetches the live subscription for a billing reference.
	GetSubscription(ctx context.Context, ref string) (*Subscription, error)

	// EnsurePrices finds or creates a product and recurring price for every
	// plan in the catalog.
	EnsurePrices(ctx context.Context, catalog *plan.Catalog) (PriceIDs, error)

	CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error)
	UpdateCustomerMetadata(ctx context.Context, customerID string, md map[string]string) error
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error

	CreateSubscription(ctx context.Context, p SubscriptionParams) (*Subscription, error)
	UpdateSubscriptionMetadata(ctx context.Context, ref string, md map[string]string) error

	// SetCancelAtPeriodEnd schedules (true) or withdraws (false) cancellation
	// at the end of the current period.
	SetCancelAtPeriodEnd(ctx context.Context, ref string, cancel bool) (*Subscription, error)

	// CancelSubscription ends a subscription immediately.
	CancelSubscription(ctx context.Context, ref string) error

	// ParseEvent verifies a webhook signature and decodes the event.
	ParseEvent(payload []byte, signature string) (*Event, error)
}
