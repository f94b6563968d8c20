package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ivylab/ivylab/billing"
)

// wireSubscription is the subset of a subscription event object we read.
// Period end is taken from the first item, falling back to the top-level
// field older API versions send.
type wireSubscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	StartDate         int64             `json:"start_date"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID        string `json:"id"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// wireInvoice is the subset of an invoice event object we read.
type wireInvoice struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// ParseEvent verifies the Stripe-Signature header and decodes the objects
// lifecycle handling needs.
func (p *Provider) ParseEvent(payload []byte, signature string) (*billing.Event, error) {
	if p.webhookSecret == "" {
		return nil, &billing.Error{Kind: billing.KindSignature, Op: "parse event", Message: "webhook secret not configured"}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &billing.Error{Kind: billing.KindSignature, Op: "parse event", Message: err.Error(), Err: err}
	}

	out := &billing.Event{ID: event.ID, Type: billing.EventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var ws wireSubscription
		if err := json.Unmarshal(event.Data.Raw, &ws); err != nil {
			return nil, fmt.Errorf("billing/stripe: decode subscription: %w", err)
		}
		out.Subscription = ws.toSubscription()

	case billing.EventPaymentSucceeded, billing.EventPaymentFailed:
		var wi wireInvoice
		if err := json.Unmarshal(event.Data.Raw, &wi); err != nil {
			return nil, fmt.Errorf("billing/stripe: decode invoice: %w", err)
		}
		out.Invoice = wi.toInvoice()
	}

	return out, nil
}

func (ws *wireSubscription) toSubscription() *billing.Subscription {
	s := &billing.Subscription{
		ID:                ws.ID,
		CustomerID:        ws.Customer,
		Status:            ws.Status,
		CancelAtPeriodEnd: ws.CancelAtPeriodEnd,
		StartDate:         unixTime(ws.StartDate),
		CurrentPeriodEnd:  unixTime(ws.CurrentPeriodEnd),
		Metadata:          ws.Metadata,
	}
	if len(ws.Items.Data) > 0 {
		item := ws.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			s.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
		s.PriceID = item.Price.ID
		if item.Price.Recurring != nil {
			s.Interval = item.Price.Recurring.Interval
		}
	}
	return s
}

func (wi *wireInvoice) toInvoice() *billing.Invoice {
	inv := &billing.Invoice{
		ID:             wi.ID,
		CustomerID:     wi.Customer,
		SubscriptionID: wi.Subscription,
		Metadata:       make(map[string]string),
	}
	if wi.Parent != nil && wi.Parent.SubscriptionDetails != nil {
		details := wi.Parent.SubscriptionDetails
		if inv.SubscriptionID == "" {
			inv.SubscriptionID = details.Subscription
		}
		for k, v := range details.Metadata {
			inv.Metadata[k] = v
		}
	}
	// The invoice's own metadata takes precedence.
	for k, v := range wi.Metadata {
		inv.Metadata[k] = v
	}
	return inv
}
