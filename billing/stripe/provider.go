// Package stripe implements billing.Provider on the Stripe API.
package stripe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
)

var _ billing.Provider = (*Provider)(nil)

// Config configures the Stripe provider.
type Config struct {
	SecretKey     string
	WebhookSecret string

	// URL overrides the API base URL. Tests point it at an httptest server.
	URL string

	HTTPClient        *http.Client
	MaxNetworkRetries int64
	Logger            *slog.Logger
}

// Provider talks to Stripe through per-resource clients sharing one backend.
type Provider struct {
	webhookSecret string
	logger        *slog.Logger

	customers      *customer.Client
	paymentMethods *paymentmethod.Client
	prices         *price.Client
	products       *product.Client
	subscriptions  *subscription.Client

	mu       sync.Mutex
	priceIDs billing.PriceIDs
}

// New builds a Provider. It never touches the network.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bcfg := &stripelib.BackendConfig{
		LeveledLogger:     &leveledLogger{logger: logger.With("component", "stripe")},
		MaxNetworkRetries: stripelib.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.URL != "" {
		bcfg.URL = stripelib.String(cfg.URL)
	}
	if cfg.HTTPClient != nil {
		bcfg.HTTPClient = cfg.HTTPClient
	}
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, bcfg)

	return &Provider{
		webhookSecret:  cfg.WebhookSecret,
		logger:         logger,
		customers:      &customer.Client{B: backend, Key: cfg.SecretKey},
		paymentMethods: &paymentmethod.Client{B: backend, Key: cfg.SecretKey},
		prices:         &price.Client{B: backend, Key: cfg.SecretKey},
		products:       &product.Client{B: backend, Key: cfg.SecretKey},
		subscriptions:  &subscription.Client{B: backend, Key: cfg.SecretKey},
	}
}

// ==================== Subscriptions ====================

func (p *Provider) GetSubscription(ctx context.Context, ref string) (*billing.Subscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	s, err := p.subscriptions.Get(ref, params)
	if err != nil {
		return nil, classify("get subscription", err)
	}
	return fromStripeSubscription(s), nil
}

func (p *Provider) CreateSubscription(ctx context.Context, sp billing.SubscriptionParams) (*billing.Subscription, error) {
	params := &stripelib.SubscriptionParams{
		Customer: stripelib.String(sp.CustomerID),
		Items: []*stripelib.SubscriptionItemsParams{
			{Price: stripelib.String(sp.PriceID)},
		},
		Metadata: sp.Metadata,
	}
	if sp.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripelib.String(sp.PaymentMethodID)
	}
	params.Context = ctx

	s, err := p.subscriptions.New(params)
	if err != nil {
		return nil, classify("create subscription", err)
	}
	return fromStripeSubscription(s), nil
}

func (p *Provider) UpdateSubscriptionMetadata(ctx context.Context, ref string, md map[string]string) error {
	params := &stripelib.SubscriptionParams{Metadata: md}
	params.Context = ctx

	if _, err := p.subscriptions.Update(ref, params); err != nil {
		return classify("update subscription metadata", err)
	}
	return nil
}

func (p *Provider) SetCancelAtPeriodEnd(ctx context.Context, ref string, cancel bool) (*billing.Subscription, error) {
	params := &stripelib.SubscriptionParams{CancelAtPeriodEnd: stripelib.Bool(cancel)}
	params.Context = ctx

	s, err := p.subscriptions.Update(ref, params)
	if err != nil {
		return nil, classify("set cancel at period end", err)
	}
	return fromStripeSubscription(s), nil
}

func (p *Provider) CancelSubscription(ctx context.Context, ref string) error {
	params := &stripelib.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := p.subscriptions.Cancel(ref, params); err != nil {
		return classify("cancel subscription", err)
	}
	return nil
}

// ==================== Customers ====================

func (p *Provider) CreateCustomer(ctx context.Context, cp billing.CustomerParams) (*billing.Customer, error) {
	params := &stripelib.CustomerParams{
		Email:    stripelib.String(cp.Email),
		Metadata: cp.Metadata,
	}
	if cp.Name != "" {
		params.Name = stripelib.String(cp.Name)
	}
	params.Context = ctx

	c, err := p.customers.New(params)
	if err != nil {
		return nil, classify("create customer", err)
	}
	return &billing.Customer{ID: c.ID, Email: c.Email, Name: c.Name, Metadata: c.Metadata}, nil
}

func (p *Provider) UpdateCustomerMetadata(ctx context.Context, customerID string, md map[string]string) error {
	params := &stripelib.CustomerParams{Metadata: md}
	params.Context = ctx

	if _, err := p.customers.Update(customerID, params); err != nil {
		return classify("update customer metadata", err)
	}
	return nil
}

func (p *Provider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripelib.PaymentMethodAttachParams{Customer: stripelib.String(customerID)}
	params.Context = ctx

	if _, err := p.paymentMethods.Attach(paymentMethodID, params); err != nil {
		return classify("attach payment method", err)
	}
	return nil
}

// ==================== Products and prices ====================

// EnsurePrices matches products by name and prices by interval, amount and
// currency. Anything missing is created. Results are cached for the life of
// the provider since Stripe prices are immutable.
func (p *Provider) EnsurePrices(ctx context.Context, catalog *plan.Catalog) (billing.PriceIDs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.priceIDs != nil {
		return clonePriceIDs(p.priceIDs), nil
	}

	products, err := p.findProducts(ctx, catalog)
	if err != nil {
		return nil, err
	}

	ids := make(billing.PriceIDs, len(products))
	for _, pl := range catalog.All() {
		productID, ok := products[pl.ID]
		if !ok {
			productID, err = p.createProduct(ctx, pl)
			if err != nil {
				return nil, err
			}
		}

		priceID, err := p.findPrice(ctx, productID, pl)
		if err != nil {
			return nil, err
		}
		if priceID == "" {
			priceID, err = p.createPrice(ctx, productID, pl)
			if err != nil {
				return nil, err
			}
		}
		ids[pl.ID] = priceID
	}

	p.priceIDs = ids
	return clonePriceIDs(ids), nil
}

func (p *Provider) findProducts(ctx context.Context, catalog *plan.Catalog) (map[plan.ID]string, error) {
	byName := make(map[string]plan.ID)
	for _, pl := range catalog.All() {
		byName[pl.ProductName] = pl.ID
	}

	params := &stripelib.ProductListParams{Active: stripelib.Bool(true)}
	params.Context = ctx

	found := make(map[plan.ID]string)
	it := p.products.List(params)
	for it.Next() {
		prod := it.Product()
		if planID, ok := byName[prod.Name]; ok {
			if _, seen := found[planID]; !seen {
				found[planID] = prod.ID
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, classify("list products", err)
	}
	return found, nil
}

func (p *Provider) createProduct(ctx context.Context, pl plan.Plan) (string, error) {
	params := &stripelib.ProductParams{
		Name:        stripelib.String(pl.ProductName),
		Description: stripelib.String(pl.Description),
	}
	params.Context = ctx

	prod, err := p.products.New(params)
	if err != nil {
		return "", classify("create product", err)
	}
	p.logger.Info("created stripe product", "plan", pl.ID, "product_id", prod.ID)
	return prod.ID, nil
}

func (p *Provider) findPrice(ctx context.Context, productID string, pl plan.Plan) (string, error) {
	params := &stripelib.PriceListParams{
		Product: stripelib.String(productID),
		Active:  stripelib.Bool(true),
	}
	params.Context = ctx

	it := p.prices.List(params)
	for it.Next() {
		pr := it.Price()
		if pr.Recurring == nil || string(pr.Recurring.Interval) != string(pl.Interval) {
			continue
		}
		if pr.UnitAmount != pl.Price.Amount || !strings.EqualFold(string(pr.Currency), pl.Price.Currency) {
			continue
		}
		return pr.ID, nil
	}
	if err := it.Err(); err != nil {
		return "", classify("list prices", err)
	}
	return "", nil
}

func (p *Provider) createPrice(ctx context.Context, productID string, pl plan.Plan) (string, error) {
	params := &stripelib.PriceParams{
		Product:    stripelib.String(productID),
		UnitAmount: stripelib.Int64(pl.Price.Amount),
		Currency:   stripelib.String(strings.ToLower(pl.Price.Currency)),
		Recurring: &stripelib.PriceRecurringParams{
			Interval: stripelib.String(string(pl.Interval)),
		},
	}
	params.Context = ctx

	pr, err := p.prices.New(params)
	if err != nil {
		return "", classify("create price", err)
	}
	p.logger.Info("created stripe price",
		"plan", pl.ID,
		"price_id", pr.ID,
		"amount", pl.Price.String(),
	)
	return pr.ID, nil
}

// ==================== Conversion ====================

func fromStripeSubscription(s *stripelib.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		StartDate:         unixTime(s.StartDate),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func clonePriceIDs(in billing.PriceIDs) billing.PriceIDs {
	out := make(billing.PriceIDs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// leveledLogger routes stripe-go's logging into slog.
type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
