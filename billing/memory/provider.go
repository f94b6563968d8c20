// Package memory provides an in-process billing provider for tests and
// local development without a Stripe account.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
)

var _ billing.Provider = (*Provider)(nil)

// Provider keeps customers and subscriptions in maps. New subscriptions are
// active unless a failure is injected.
type Provider struct {
	mu            sync.Mutex
	seq           int
	customers     map[string]*billing.Customer
	subscriptions map[string]*billing.Subscription
	attached      map[string]string
	priceIDs      billing.PriceIDs

	// failures keyed by operation name, e.g. "create_subscription".
	failures map[string]error
	// initialStatus is the status CreateSubscription reports.
	initialStatus string
	// delay is applied before GetSubscription answers.
	delay time.Duration
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{
		customers:     make(map[string]*billing.Customer),
		subscriptions: make(map[string]*billing.Subscription),
		attached:      make(map[string]string),
		failures:      make(map[string]error),
		initialStatus: billing.StatusActive,
	}
}

// Operation names accepted by FailOn.
const (
	OpGetSubscription    = "get_subscription"
	OpEnsurePrices       = "ensure_prices"
	OpCreateCustomer     = "create_customer"
	OpUpdateCustomer     = "update_customer"
	OpAttachPayment      = "attach_payment_method"
	OpCreateSubscription = "create_subscription"
	OpUpdateSubscription = "update_subscription"
	OpCancelSubscription = "cancel_subscription"
)

// FailOn makes op return err until cleared with a nil error.
func (p *Provider) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// SetInitialStatus sets the status of subscriptions created afterwards.
func (p *Provider) SetInitialStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialStatus = status
}

// SetLatency delays GetSubscription, honouring the caller's context.
func (p *Provider) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Put stores or replaces a subscription.
func (p *Provider) Put(s *billing.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[s.ID] = cloneSubscription(s)
}

// Subscription returns a stored subscription regardless of injected failures.
func (p *Provider) Subscription(ref string) (*billing.Subscription, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, false
	}
	return cloneSubscription(s), true
}

// Customer returns a stored customer.
func (p *Provider) Customer(id string) (*billing.Customer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.customers[id]
	if !ok {
		return nil, false
	}
	cp := *c
	cp.Metadata = cloneMap(c.Metadata)
	return &cp, true
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *Provider) fail(op string) error {
	return p.failures[op]
}

func notFound(op, ref string) error {
	return &billing.Error{Kind: billing.KindInvalidRequest, Op: op, Message: "no such resource: " + ref}
}

func (p *Provider) GetSubscription(ctx context.Context, ref string) (*billing.Subscription, error) {
	p.mu.Lock()
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, &billing.Error{Kind: billing.KindConnection, Op: "get subscription", Message: ctx.Err().Error(), Err: ctx.Err()}
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpGetSubscription); err != nil {
		return nil, err
	}
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, notFound("get subscription", ref)
	}
	return cloneSubscription(s), nil
}

func (p *Provider) EnsurePrices(_ context.Context, catalog *plan.Catalog) (billing.PriceIDs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpEnsurePrices); err != nil {
		return nil, err
	}
	if p.priceIDs == nil {
		p.priceIDs = make(billing.PriceIDs)
		for _, pl := range catalog.All() {
			p.priceIDs[pl.ID] = fmt.Sprintf("price_%s_%d", pl.ID, pl.Price.Amount)
		}
	}
	out := make(billing.PriceIDs, len(p.priceIDs))
	for k, v := range p.priceIDs {
		out[k] = v
	}
	return out, nil
}

func (p *Provider) CreateCustomer(_ context.Context, cp billing.CustomerParams) (*billing.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpCreateCustomer); err != nil {
		return nil, err
	}
	c := &billing.Customer{
		ID:       p.nextID("cus"),
		Email:    cp.Email,
		Name:     cp.Name,
		Metadata: cloneMap(cp.Metadata),
	}
	p.customers[c.ID] = c
	out := *c
	out.Metadata = cloneMap(c.Metadata)
	return &out, nil
}

func (p *Provider) UpdateCustomerMetadata(_ context.Context, customerID string, md map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpUpdateCustomer); err != nil {
		return err
	}
	c, ok := p.customers[customerID]
	if !ok {
		return notFound("update customer metadata", customerID)
	}
	c.Metadata = mergeMap(c.Metadata, md)
	return nil
}

func (p *Provider) AttachPaymentMethod(_ context.Context, paymentMethodID, customerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpAttachPayment); err != nil {
		return err
	}
	if _, ok := p.customers[customerID]; !ok {
		return notFound("attach payment method", customerID)
	}
	p.attached[paymentMethodID] = customerID
	return nil
}

func (p *Provider) CreateSubscription(_ context.Context, sp billing.SubscriptionParams) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpCreateSubscription); err != nil {
		return nil, err
	}
	if _, ok := p.customers[sp.CustomerID]; !ok {
		return nil, notFound("create subscription", sp.CustomerID)
	}

	now := time.Now().UTC().Truncate(time.Second)
	s := &billing.Subscription{
		ID:               p.nextID("sub"),
		CustomerID:       sp.CustomerID,
		Status:           p.initialStatus,
		StartDate:        now,
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
		PriceID:          sp.PriceID,
		Interval:         p.intervalFor(sp.PriceID),
		Metadata:         cloneMap(sp.Metadata),
	}
	p.subscriptions[s.ID] = s
	return cloneSubscription(s), nil
}

func (p *Provider) intervalFor(priceID string) string {
	for planID, id := range p.priceIDs {
		if id != priceID {
			continue
		}
		switch planID {
		case plan.Weekly:
			return string(plan.IntervalWeek)
		case plan.Monthly:
			return string(plan.IntervalMonth)
		}
	}
	return ""
}

func (p *Provider) UpdateSubscriptionMetadata(_ context.Context, ref string, md map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpUpdateSubscription); err != nil {
		return err
	}
	s, ok := p.subscriptions[ref]
	if !ok {
		return notFound("update subscription metadata", ref)
	}
	s.Metadata = mergeMap(s.Metadata, md)
	return nil
}

func (p *Provider) SetCancelAtPeriodEnd(_ context.Context, ref string, cancel bool) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpUpdateSubscription); err != nil {
		return nil, err
	}
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, notFound("set cancel at period end", ref)
	}
	s.CancelAtPeriodEnd = cancel
	return cloneSubscription(s), nil
}

func (p *Provider) CancelSubscription(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(OpCancelSubscription); err != nil {
		return err
	}
	s, ok := p.subscriptions[ref]
	if !ok {
		return notFound("cancel subscription", ref)
	}
	s.Status = billing.StatusCanceled
	return nil
}

// ParseEvent accepts unsigned JSON-encoded billing.Event values. The
// signature must equal "memory" so tests can exercise rejection.
func (p *Provider) ParseEvent(payload []byte, signature string) (*billing.Event, error) {
	if signature != Signature {
		return nil, &billing.Error{Kind: billing.KindSignature, Op: "parse event", Message: "bad signature"}
	}
	var ev billing.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("billing/memory: decode event: %w", err)
	}
	return &ev, nil
}

// Signature is the only webhook signature ParseEvent accepts.
const Signature = "memory"

func cloneSubscription(s *billing.Subscription) *billing.Subscription {
	cp := *s
	cp.Metadata = cloneMap(s.Metadata)
	return &cp
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeMap(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
