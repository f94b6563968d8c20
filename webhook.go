package ivylab

import (
	"context"
	"fmt"

	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/subscription"
)

// HandleBillingEvent verifies a provider webhook and applies the lifecycle
// change it implies. Unknown event types and events that cannot be tied to
// a user are acknowledged without changes. A nil error means the provider
// should not redeliver.
func (e *Engine) HandleBillingEvent(ctx context.Context, payload []byte, signature string) error {
	if e.billing == nil {
		return ErrProviderNotConfigured
	}

	ev, err := e.billing.ParseEvent(payload, signature)
	if err != nil {
		e.logger.Warn("rejected billing webhook", "error", err)
		return fmt.Errorf("%w: %w", ErrProviderWebhook, err)
	}

	handled, err := e.dispatch(ctx, ev)
	e.plugins.EmitBillingEvent(ctx, string(ev.Type), handled, err)
	return err
}

func (e *Engine) dispatch(ctx context.Context, ev *billing.Event) (bool, error) {
	log := e.logger.With("event_id", ev.ID, "event_type", ev.Type)

	switch ev.Type {
	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return false, nil
		}
		sub := ev.Subscription
		status, ok := lifecycleStatus(ev.Type, sub)
		if !ok {
			log.Debug("subscription status not tracked", "status", sub.Status)
			return false, nil
		}
		userID := e.resolveUser(ctx, sub.Metadata, sub.ID)
		if userID == "" {
			log.Warn("no user for subscription event", "billing_reference", sub.ID)
			return false, nil
		}
		if err := e.ApplyLifecycle(ctx, userID, subscription.Delta{
			Status:             status,
			Plan:               e.eventPlan(sub.Metadata, sub.Interval),
			BillingReference:   sub.ID,
			BillingCustomerRef: sub.CustomerID,
		}); err != nil {
			return true, err
		}
		if status == subscription.StatusCanceled {
			e.plugins.EmitSubscriptionCanceled(ctx, userID, sub.ID)
		}
		return true, nil

	case billing.EventPaymentFailed:
		if ev.Invoice == nil {
			return false, nil
		}
		inv := ev.Invoice
		userID := e.resolveUser(ctx, inv.Metadata, inv.SubscriptionID)
		if userID == "" {
			log.Warn("no user for invoice event", "billing_reference", inv.SubscriptionID)
			return false, nil
		}
		return true, e.ApplyLifecycle(ctx, userID, subscription.Delta{
			Status: subscription.StatusPastDue,
			Plan:   e.eventPlan(inv.Metadata, ""),
		})

	case billing.EventSubscriptionCreated, billing.EventPaymentSucceeded:
		// Checkout already recorded these.
		log.Info("billing event acknowledged")
		return true, nil

	default:
		log.Debug("unhandled billing event")
		return false, nil
	}
}

// lifecycleStatus maps a provider subscription event to the local status.
func lifecycleStatus(t billing.EventType, sub *billing.Subscription) (subscription.Status, bool) {
	if t == billing.EventSubscriptionDeleted {
		return subscription.StatusCanceled, true
	}
	switch sub.Status {
	case billing.StatusActive:
		if sub.CancelAtPeriodEnd {
			return subscription.StatusCanceledAtPeriodEnd, true
		}
		return subscription.StatusActive, true
	case billing.StatusPastDue:
		return subscription.StatusPastDue, true
	case billing.StatusCanceled:
		return subscription.StatusCanceled, true
	case billing.StatusUnpaid:
		return subscription.StatusUnpaid, true
	}
	return "", false
}

// resolveUser finds the local user from metadata, falling back to the
// record that holds ref.
func (e *Engine) resolveUser(ctx context.Context, md map[string]string, ref string) string {
	if uid := billing.UserID(md); uid != "" {
		return uid
	}
	if ref == "" {
		return ""
	}
	rec, err := e.store.FindByBillingReference(ctx, ref)
	if err != nil {
		return ""
	}
	return rec.UserID
}

// eventPlan reads the plan from metadata or the billing interval. Unknown
// values yield no plan so the stored one is kept.
func (e *Engine) eventPlan(md map[string]string, interval string) plan.ID {
	if id, err := plan.Parse(md[billing.MetaPlan]); err == nil {
		return id
	}
	if id, ok := e.catalog.ForInterval(interval); ok {
		return id
	}
	return ""
}
