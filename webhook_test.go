package ivylab_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/billing"
	billingmem "github.com/ivylab/ivylab/billing/memory"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/subscription"
)

func eventPayload(t *testing.T, ev billing.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleBillingEvent(t *testing.T) {
	stored := func() *subscription.Record {
		return &subscription.Record{
			UserID:           "u1",
			Status:           subscription.StatusActive,
			Plan:             plan.Monthly,
			BillingReference: "sub_1",
		}
	}

	tests := []struct {
		name       string
		event      billing.Event
		wantStatus subscription.Status
		wantPlan   plan.ID
		handled    bool
	}{
		{
			name: "updated active",
			event: billing.Event{Type: billing.EventSubscriptionUpdated, Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusActive,
				Metadata: map[string]string{billing.MetaUserID: "u1", billing.MetaPlan: "weekly"},
			}},
			wantStatus: subscription.StatusActive,
			wantPlan:   plan.Weekly,
			handled:    true,
		},
		{
			name: "updated cancel at period end",
			event: billing.Event{Type: billing.EventSubscriptionUpdated, Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusActive, CancelAtPeriodEnd: true,
				Metadata: map[string]string{billing.MetaUserID: "u1"},
			}},
			wantStatus: subscription.StatusCanceledAtPeriodEnd,
			wantPlan:   plan.Monthly,
			handled:    true,
		},
		{
			name: "updated past due via firebase uid",
			event: billing.Event{Type: billing.EventSubscriptionUpdated, Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusPastDue,
				Metadata: map[string]string{billing.MetaFirebaseUID: "u1"},
			}},
			wantStatus: subscription.StatusPastDue,
			wantPlan:   plan.Monthly,
			handled:    true,
		},
		{
			name: "updated unpaid resolved by reference",
			event: billing.Event{Type: billing.EventSubscriptionUpdated, Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusUnpaid, Interval: "week",
			}},
			wantStatus: subscription.StatusUnpaid,
			wantPlan:   plan.Weekly,
			handled:    true,
		},
		{
			name: "updated trialing is ignored",
			event: billing.Event{Type: billing.EventSubscriptionUpdated, Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusTrialing,
				Metadata: map[string]string{billing.MetaUserID: "u1"},
			}},
			wantStatus: subscription.StatusActive,
			wantPlan:   plan.Monthly,
		},
		{
			name: "deleted",
			event: billing.Event{Type: billing.EventSubscriptionDeleted, Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusCanceled,
				Metadata: map[string]string{billing.MetaUserID: "u1"},
			}},
			wantStatus: subscription.StatusCanceled,
			wantPlan:   plan.Monthly,
			handled:    true,
		},
		{
			name: "payment failed",
			event: billing.Event{Type: billing.EventPaymentFailed, Invoice: &billing.Invoice{
				ID: "in_1", SubscriptionID: "sub_1",
				Metadata: map[string]string{billing.MetaUserID: "u1"},
			}},
			wantStatus: subscription.StatusPastDue,
			wantPlan:   plan.Monthly,
			handled:    true,
		},
		{
			name: "payment succeeded is acknowledged",
			event: billing.Event{Type: billing.EventPaymentSucceeded, Invoice: &billing.Invoice{
				ID: "in_2", SubscriptionID: "sub_1",
			}},
			wantStatus: subscription.StatusActive,
			wantPlan:   plan.Monthly,
			handled:    true,
		},
		{
			name:       "unknown type",
			event:      billing.Event{Type: "charge.refunded"},
			wantStatus: subscription.StatusActive,
			wantPlan:   plan.Monthly,
		},
		{
			name: "no matching user",
			event: billing.Event{Type: billing.EventSubscriptionDeleted, Subscription: &billing.Subscription{
				ID: "sub_other", Status: billing.StatusCanceled,
			}},
			wantStatus: subscription.StatusActive,
			wantPlan:   plan.Monthly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.putRecord(t, stored())

			if err := f.engine.HandleBillingEvent(ctx, eventPayload(t, tt.event), billingmem.Signature); err != nil {
				t.Fatalf("handle: %v", err)
			}

			rec, err := f.engine.Record(ctx, "u1")
			if err != nil {
				t.Fatal(err)
			}
			if rec.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", rec.Status, tt.wantStatus)
			}
			if rec.Plan != tt.wantPlan {
				t.Errorf("plan = %q, want %q", rec.Plan, tt.wantPlan)
			}
			if rec.BillingReference != "sub_1" {
				t.Errorf("billing reference changed to %q", rec.BillingReference)
			}

			want := string(tt.event.Type)
			if tt.handled {
				want += ":true"
			} else {
				want += ":false"
			}
			if len(f.rec.events) != 1 || f.rec.events[0] != want {
				t.Errorf("billing hooks = %v, want [%s]", f.rec.events, want)
			}
		})
	}
}

func TestHandleBillingEventDeletedEmitsCanceled(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, &subscription.Record{UserID: "u1", Status: subscription.StatusActive, Plan: plan.Weekly})

	ev := billing.Event{Type: billing.EventSubscriptionDeleted, Subscription: &billing.Subscription{
		ID: "sub_1", Metadata: map[string]string{billing.MetaUserID: "u1"},
	}}
	if err := f.engine.HandleBillingEvent(context.Background(), eventPayload(t, ev), billingmem.Signature); err != nil {
		t.Fatal(err)
	}
	if len(f.rec.canceled) != 1 || f.rec.canceled[0] != "u1/sub_1" {
		t.Errorf("canceled hooks = %v", f.rec.canceled)
	}
}

func TestHandleBillingEventErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		err := f.engine.HandleBillingEvent(ctx, []byte(`{}`), "forged")
		if !errors.Is(err, ivylab.ErrProviderWebhook) {
			t.Fatalf("err = %v", err)
		}
		if billing.KindOf(err) != billing.KindSignature {
			t.Errorf("kind = %s", billing.KindOf(err))
		}
		if len(f.rec.events) != 0 {
			t.Error("rejected payload reached plugins")
		}
	})

	t.Run("store failure asks for redelivery", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailWith(ivylab.ErrStoreUnavailable)

		ev := billing.Event{Type: billing.EventPaymentFailed, Invoice: &billing.Invoice{
			ID: "in_1", Metadata: map[string]string{billing.MetaUserID: "u1"},
		}}
		err := f.engine.HandleBillingEvent(ctx, eventPayload(t, ev), billingmem.Signature)
		if !errors.Is(err, ivylab.ErrStoreUnavailable) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("no provider", func(t *testing.T) {
		e := ivylab.New(nil, nil)
		if err := e.HandleBillingEvent(ctx, nil, ""); !errors.Is(err, ivylab.ErrProviderNotConfigured) {
			t.Errorf("err = %v", err)
		}
	})
}
