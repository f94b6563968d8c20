package ivylab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/subscription"
	"github.com/ivylab/ivylab/types"
)

// metaPendingAccount marks provider objects created before the user account
// exists.
const metaPendingAccount = "pending_firebase_creation"

// PaymentError reports a subscription the provider created but did not
// activate.
type PaymentError struct {
	Status string
}

func (e *PaymentError) Error() string {
	return "ivylab: subscription not activated: " + e.Status
}

// Unwrap lets errors.Is match ErrSubscriptionFailed.
func (e *PaymentError) Unwrap() error { return ErrSubscriptionFailed }

// SubscribeParams describes a checkout for a signed-in user.
type SubscribeParams struct {
	UserID          string
	Email           string
	Name            string
	Plan            string
	PaymentMethodID string
}

// SignupParams describes a checkout that also creates the user account.
type SignupParams struct {
	Name            string
	Email           string
	Password        string
	Plan            string
	PaymentMethodID string
}

func (p SignupParams) validate() error {
	var errs MultiError
	for _, f := range []struct{ name, value string }{
		{"userName", p.Name},
		{"userEmail", p.Email},
		{"userPassword", p.Password},
		{"plan", p.Plan},
		{"payment_method_id", p.PaymentMethodID},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs.Add(ValidationError{Field: f.name, Message: "required"})
		}
	}
	return errs.Err()
}

// checkout holds the provider objects created by one payment.
type checkout struct {
	plan     plan.ID
	customer *billing.Customer
	sub      *billing.Subscription
}

// pay runs the provider side of a checkout: prices, customer, payment method
// and subscription. It fails with a PaymentError unless the subscription is
// active or trialing.
func (e *Engine) pay(ctx context.Context, planName, paymentMethodID string, cp billing.CustomerParams, subMeta map[string]string) (*checkout, error) {
	if e.billing == nil {
		return nil, ErrProviderNotConfigured
	}

	planID, err := plan.Parse(planName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planName)
	}

	prices, err := e.billing.EnsurePrices(ctx, e.catalog)
	if err != nil {
		return nil, err
	}
	priceID, ok := prices[planID]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnknownPlan, planID)
	}

	customer, err := e.billing.CreateCustomer(ctx, cp)
	if err != nil {
		return nil, err
	}
	if err := e.billing.AttachPaymentMethod(ctx, paymentMethodID, customer.ID); err != nil {
		return nil, err
	}

	subMeta[billing.MetaPlan] = string(planID)
	sub, err := e.billing.CreateSubscription(ctx, billing.SubscriptionParams{
		CustomerID:      customer.ID,
		PriceID:         priceID,
		PaymentMethodID: paymentMethodID,
		Metadata:        subMeta,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("billing subscription created",
		"billing_reference", sub.ID,
		"customer", customer.ID,
		"status", sub.Status,
		"plan", planID,
	)

	if !sub.Succeeded() {
		return nil, &PaymentError{Status: sub.Status}
	}
	return &checkout{plan: planID, customer: customer, sub: sub}, nil
}

func (c *checkout) delta(start time.Time) subscription.Delta {
	return subscription.Delta{
		Status:             subscription.StatusActive,
		Plan:               c.plan,
		StartDate:          start,
		BillingReference:   c.sub.ID,
		BillingCustomerRef: c.customer.ID,
	}
}

// Subscribe charges a signed-in user and records the active subscription.
// The returned delta is what the caller mirrors into the session. A failure
// to persist after a successful payment is logged and does not fail the
// call; the session keeps the subscription until the store catches up.
func (e *Engine) Subscribe(ctx context.Context, p SubscribeParams) (subscription.Delta, error) {
	if p.UserID == "" {
		return subscription.Delta{}, ErrNoIdentity
	}

	co, err := e.pay(ctx, p.Plan, p.PaymentMethodID,
		billing.CustomerParams{
			Email:    p.Email,
			Name:     p.Name,
			Metadata: map[string]string{billing.MetaUserID: p.UserID},
		},
		map[string]string{billing.MetaUserID: p.UserID},
	)
	if err != nil {
		return subscription.Delta{}, err
	}

	d := co.delta(e.now())
	if err := e.ApplyLifecycle(ctx, p.UserID, d); err != nil {
		e.logger.Error("subscription paid but not persisted",
			"user_id", p.UserID,
			"billing_reference", co.sub.ID,
			"error", err,
		)
	}

	e.plugins.EmitSubscriptionCreated(ctx, &subscription.Record{
		UserID:             p.UserID,
		Email:              p.Email,
		Name:               p.Name,
		Status:             d.Status,
		Plan:               d.Plan,
		StartDate:          d.StartDate,
		BillingReference:   d.BillingReference,
		BillingCustomerRef: d.BillingCustomerRef,
	})
	return d, nil
}

// SignupAndSubscribe takes payment first and only then creates the account.
// When the account cannot be created the subscription is canceled; when the
// record cannot be saved both the account and the subscription are rolled
// back.
func (e *Engine) SignupAndSubscribe(ctx context.Context, p SignupParams) (*subscription.Record, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if e.accounts == nil {
		return nil, ErrAccountsNotConfigured
	}

	pending := func() map[string]string {
		return map[string]string{
			billing.MetaUserEmail: p.Email,
			billing.MetaUserName:  p.Name,
			billing.MetaStatus:    metaPendingAccount,
		}
	}
	co, err := e.pay(ctx, p.Plan, p.PaymentMethodID,
		billing.CustomerParams{Email: p.Email, Name: p.Name, Metadata: pending()},
		pending(),
	)
	if err != nil {
		return nil, err
	}

	account, err := e.accounts.CreateAccount(ctx, p.Email, p.Password, p.Name)
	if err != nil {
		e.logger.Error("account creation failed after payment",
			"billing_reference", co.sub.ID,
			"error", err,
		)
		e.rollbackSubscription(ctx, co.sub.ID)
		return nil, fmt.Errorf("ivylab: create account: %w", err)
	}

	e.linkAccount(ctx, co, account, p)

	start := e.now()
	rec := &subscription.Record{
		Entity:             types.Entity{CreatedAt: start, UpdatedAt: start},
		UserID:             account.UID,
		Email:              p.Email,
		Name:               p.Name,
		FirebaseUID:        account.UID,
		Status:             subscription.StatusActive,
		Plan:               co.plan,
		StartDate:          start,
		BillingReference:   co.sub.ID,
		BillingCustomerRef: co.customer.ID,
	}
	if err := e.store.CreateRecord(ctx, rec); err != nil {
		e.logger.Error("failed to save new user, rolling back",
			"user_id", account.UID,
			"billing_reference", co.sub.ID,
			"error", err,
		)
		if derr := e.accounts.DeleteAccount(ctx, account); derr != nil {
			e.logger.Error("account rollback failed", "user_id", account.UID, "error", derr)
		}
		e.rollbackSubscription(ctx, co.sub.ID)
		return nil, fmt.Errorf("ivylab: save user %s: %w", account.UID, err)
	}

	e.logger.Info("user signed up",
		"user_id", account.UID,
		"plan", co.plan,
		"billing_reference", co.sub.ID,
	)
	e.plugins.EmitSubscriptionCreated(ctx, rec)
	return rec, nil
}

// linkAccount stamps the new account onto the provider objects. Failures
// are logged only; webhooks fall back to the billing reference.
func (e *Engine) linkAccount(ctx context.Context, co *checkout, a *auth.Account, p SignupParams) {
	md := map[string]string{
		billing.MetaUserEmail:   p.Email,
		billing.MetaUserName:    p.Name,
		billing.MetaFirebaseUID: a.UID,
		billing.MetaStatus:      billing.StatusActive,
	}
	if err := e.billing.UpdateCustomerMetadata(ctx, co.customer.ID, md); err != nil {
		e.logger.Warn("failed to link customer to account", "customer", co.customer.ID, "error", err)
	}

	md[billing.MetaPlan] = string(co.plan)
	if err := e.billing.UpdateSubscriptionMetadata(ctx, co.sub.ID, md); err != nil {
		e.logger.Warn("failed to link subscription to account", "billing_reference", co.sub.ID, "error", err)
	}
}

func (e *Engine) rollbackSubscription(ctx context.Context, ref string) {
	if err := e.billing.CancelSubscription(ctx, ref); err != nil {
		e.logger.Error("subscription rollback failed",
			"billing_reference", ref,
			"error", err,
		)
	}
}

// CancelAtPeriodEnd schedules cancellation of the subscription ref at the
// end of the paid period. An empty ref falls back to the stored one.
func (e *Engine) CancelAtPeriodEnd(ctx context.Context, userID, ref string) (*billing.Subscription, error) {
	return e.setCancel(ctx, userID, ref, true)
}

// Reactivate withdraws a scheduled cancellation.
func (e *Engine) Reactivate(ctx context.Context, userID, ref string) (*billing.Subscription, error) {
	return e.setCancel(ctx, userID, ref, false)
}

func (e *Engine) setCancel(ctx context.Context, userID, ref string, cancel bool) (*billing.Subscription, error) {
	if userID == "" {
		return nil, ErrNoIdentity
	}
	if e.billing == nil {
		return nil, ErrProviderNotConfigured
	}
	if ref == "" {
		ref = e.storedReference(ctx, userID)
	}
	if ref == "" {
		if cancel {
			return nil, ErrNoActiveSubscription
		}
		return nil, ErrNoBillingReference
	}

	sub, err := e.billing.SetCancelAtPeriodEnd(ctx, ref, cancel)
	if err != nil {
		return nil, err
	}

	status := subscription.StatusActive
	if cancel {
		status = subscription.StatusCanceledAtPeriodEnd
	}
	if err := e.ApplyLifecycle(ctx, userID, subscription.Delta{Status: status}); err != nil {
		e.logger.Error("cancellation change not persisted",
			"user_id", userID,
			"billing_reference", ref,
			"error", err,
		)
	}

	if cancel {
		e.plugins.EmitSubscriptionCanceled(ctx, userID, ref)
	} else {
		e.plugins.EmitSubscriptionReactivated(ctx, userID, ref)
	}
	return sub, nil
}

func (e *Engine) storedReference(ctx context.Context, userID string) string {
	rec, err := e.store.GetRecord(ctx, userID)
	if err != nil {
		return ""
	}
	return rec.BillingReference
}

// SubscriptionInfo is the live view of a user's subscription.
type SubscriptionInfo struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"current_period_end,omitzero"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	Plan              plan.ID   `json:"plan"`
}

// SubscriptionInfo fetches the live subscription of userID. The stored
// reference is tried first, then sessionRef. It fails with
// ErrNoActiveSubscription when neither resolves.
func (e *Engine) SubscriptionInfo(ctx context.Context, userID, sessionRef string) (*SubscriptionInfo, error) {
	if userID == "" {
		return nil, ErrNoIdentity
	}
	if e.billing == nil {
		return nil, ErrProviderNotConfigured
	}

	tried := ""
	for _, ref := range []string{e.storedReference(ctx, userID), sessionRef} {
		if ref == "" || ref == tried {
			continue
		}
		tried = ref

		sub, err := e.billing.GetSubscription(ctx, ref)
		if err != nil {
			e.logger.Warn("failed to retrieve subscription",
				"user_id", userID,
				"billing_reference", ref,
				"error", err,
			)
			continue
		}

		planID, ok := e.catalog.ForInterval(sub.Interval)
		if !ok {
			planID = plan.Monthly
		}
		return &SubscriptionInfo{
			ID:                sub.ID,
			Status:            sub.Status,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			Plan:              planID,
		}, nil
	}
	return nil, ErrNoActiveSubscription
}
