package stripe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/plan"
)

// fakeStripe is a minimal Stripe API double. Handlers are keyed by
// "METHOD /path".
type fakeStripe struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
	forms    map[string][]string
}

func newFakeStripe(t *testing.T) (*fakeStripe, *Provider) {
	t.Helper()
	f := &fakeStripe{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
		forms:    make(map[string][]string),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	p := New(Config{
		SecretKey: "sk_test_123",
		URL:       srv.URL,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f, p
}

func (f *fakeStripe) handle(route string, h http.HandlerFunc) { f.handlers[route] = h }

func (f *fakeStripe) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	_ = r.ParseForm()

	f.mu.Lock()
	f.calls[route]++
	for k, v := range r.PostForm {
		f.forms[route+" "+k] = v
	}
	h, ok := f.handlers[route]
	f.mu.Unlock()

	if !ok {
		writeStripeError(w, http.StatusNotFound, "invalid_request_error", "No such route: "+route)
		return
	}
	h(w, r)
}

func (f *fakeStripe) form(route, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := f.forms[route+" "+key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (f *fakeStripe) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStripeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"type": typ, "message": msg}})
}

func list(path string, items ...map[string]any) map[string]any {
	if items == nil {
		items = []map[string]any{}
	}
	return map[string]any{"object": "list", "url": path, "has_more": false, "data": items}
}

func subscriptionJSON(id, status string) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"status":               status,
		"customer":             "cus_1",
		"cancel_at_period_end": false,
		"start_date":           1735689600,
		"items": list("/v1/subscription_items", map[string]any{
			"id":                 "si_1",
			"object":             "subscription_item",
			"current_period_end": 1738368000,
			"price": map[string]any{
				"id":        "price_m",
				"object":    "price",
				"recurring": map[string]any{"interval": "month"},
			},
		}),
	}
}

func TestGetSubscription(t *testing.T) {
	f, p := newFakeStripe(t)
	f.handle("GET /v1/subscriptions/sub_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, subscriptionJSON("sub_1", "past_due"))
	})

	s, err := p.GetSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if s.Status != billing.StatusPastDue || s.CustomerID != "cus_1" {
		t.Errorf("subscription: %+v", s)
	}
	if s.Interval != "month" || s.PriceID != "price_m" {
		t.Errorf("price: %q %q", s.PriceID, s.Interval)
	}
	if !s.CurrentPeriodEnd.Equal(time.Unix(1738368000, 0)) {
		t.Errorf("period end: %v", s.CurrentPeriodEnd)
	}
}

func TestGetSubscriptionErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		typ    string
		want   billing.Kind
	}{
		{"missing", http.StatusNotFound, "invalid_request_error", billing.KindInvalidRequest},
		{"rate limited", http.StatusTooManyRequests, "invalid_request_error", billing.KindRateLimit},
		{"bad key", http.StatusUnauthorized, "invalid_request_error", billing.KindAuthentication},
		{"card", http.StatusPaymentRequired, "card_error", billing.KindCard},
		{"server", http.StatusInternalServerError, "api_error", billing.KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, p := newFakeStripe(t)
			f.handle("GET /v1/subscriptions/sub_x", func(w http.ResponseWriter, _ *http.Request) {
				writeStripeError(w, tt.status, tt.typ, "nope")
			})

			_, err := p.GetSubscription(context.Background(), "sub_x")
			if got := billing.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestGetSubscriptionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := New(Config{SecretKey: "sk_test_123", URL: url, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := p.GetSubscription(context.Background(), "sub_1")
	if billing.KindOf(err) != billing.KindConnection {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestEnsurePricesCreatesMissing(t *testing.T) {
	f, p := newFakeStripe(t)

	f.handle("GET /v1/products", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, list("/v1/products", map[string]any{
			"id": "prod_w", "object": "product", "name": "IvyLab Weekly Subscription",
		}))
	})
	f.handle("POST /v1/products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "prod_m", "object": "product", "name": r.PostForm.Get("name")})
	})
	f.handle("GET /v1/prices", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("product") == "prod_w" {
			writeJSON(w, http.StatusOK, list("/v1/prices",
				// Wrong amount from an older price point.
				map[string]any{"id": "price_old", "object": "price", "unit_amount": 799, "currency": "usd",
					"recurring": map[string]any{"interval": "week"}},
				map[string]any{"id": "price_w", "object": "price", "unit_amount": 999, "currency": "usd",
					"recurring": map[string]any{"interval": "week"}},
			))
			return
		}
		writeJSON(w, http.StatusOK, list("/v1/prices"))
	})
	f.handle("POST /v1/prices", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "price_m_new", "object": "price"})
	})

	ids, err := p.EnsurePrices(context.Background(), plan.NewCatalog(plan.DefaultPrices()))
	if err != nil {
		t.Fatalf("EnsurePrices: %v", err)
	}
	if ids[plan.Weekly] != "price_w" {
		t.Errorf("weekly price: got %q", ids[plan.Weekly])
	}
	if ids[plan.Monthly] != "price_m_new" {
		t.Errorf("monthly price: got %q", ids[plan.Monthly])
	}
	if got := f.form("POST /v1/products", "name"); got != "IvyLab Monthly Subscription" {
		t.Errorf("created product name: %q", got)
	}
	if got := f.form("POST /v1/prices", "unit_amount"); got != "2499" {
		t.Errorf("created price amount: %q", got)
	}
	if got := f.form("POST /v1/prices", "recurring[interval]"); got != "month" {
		t.Errorf("created price interval: %q", got)
	}

	// Second call is served from the cache.
	if _, err := p.EnsurePrices(context.Background(), plan.NewCatalog(plan.DefaultPrices())); err != nil {
		t.Fatalf("EnsurePrices (cached): %v", err)
	}
	if n := f.count("GET /v1/products"); n != 1 {
		t.Errorf("products listed %d times, want 1", n)
	}
}

func TestCheckoutCalls(t *testing.T) {
	f, p := newFakeStripe(t)
	ctx := context.Background()

	f.handle("POST /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "cus_1", "object": "customer", "email": r.PostForm.Get("email")})
	})
	f.handle("POST /v1/customers/cus_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "cus_1", "object": "customer"})
	})
	f.handle("POST /v1/payment_methods/pm_1/attach", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "pm_1", "object": "payment_method"})
	})
	f.handle("POST /v1/subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, subscriptionJSON("sub_new", "active"))
	})
	f.handle("POST /v1/subscriptions/sub_new", func(w http.ResponseWriter, r *http.Request) {
		s := subscriptionJSON("sub_new", "active")
		s["cancel_at_period_end"] = r.PostForm.Get("cancel_at_period_end") == "true"
		writeJSON(w, http.StatusOK, s)
	})
	f.handle("DELETE /v1/subscriptions/sub_new", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, subscriptionJSON("sub_new", "canceled"))
	})

	c, err := p.CreateCustomer(ctx, billing.CustomerParams{
		Email:    "a@example.com",
		Name:     "Ada",
		Metadata: map[string]string{billing.MetaUserID: "u1"},
	})
	if err != nil || c.ID != "cus_1" {
		t.Fatalf("CreateCustomer: %v %+v", err, c)
	}
	if got := f.form("POST /v1/customers", "metadata[user_id]"); got != "u1" {
		t.Errorf("customer metadata: %q", got)
	}

	if err := p.AttachPaymentMethod(ctx, "pm_1", "cus_1"); err != nil {
		t.Fatalf("AttachPaymentMethod: %v", err)
	}
	if got := f.form("POST /v1/payment_methods/pm_1/attach", "customer"); got != "cus_1" {
		t.Errorf("attach customer: %q", got)
	}

	s, err := p.CreateSubscription(ctx, billing.SubscriptionParams{
		CustomerID:      "cus_1",
		PriceID:         "price_m",
		PaymentMethodID: "pm_1",
		Metadata:        map[string]string{billing.MetaUserID: "u1", billing.MetaPlan: "monthly"},
	})
	if err != nil || !s.Succeeded() {
		t.Fatalf("CreateSubscription: %v %+v", err, s)
	}
	if got := f.form("POST /v1/subscriptions", "items[0][price]"); got != "price_m" {
		t.Errorf("subscription price: %q", got)
	}
	if got := f.form("POST /v1/subscriptions", "default_payment_method"); got != "pm_1" {
		t.Errorf("default payment method: %q", got)
	}

	s, err = p.SetCancelAtPeriodEnd(ctx, "sub_new", true)
	if err != nil || !s.CancelAtPeriodEnd {
		t.Fatalf("SetCancelAtPeriodEnd: %v %+v", err, s)
	}

	if err := p.UpdateSubscriptionMetadata(ctx, "sub_new", map[string]string{billing.MetaFirebaseUID: "f1"}); err != nil {
		t.Fatalf("UpdateSubscriptionMetadata: %v", err)
	}
	if err := p.UpdateCustomerMetadata(ctx, "cus_1", map[string]string{billing.MetaStatus: "active"}); err != nil {
		t.Fatalf("UpdateCustomerMetadata: %v", err)
	}
	if err := p.CancelSubscription(ctx, "sub_new"); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
}

func TestCardDeclined(t *testing.T) {
	f, p := newFakeStripe(t)
	f.handle("POST /v1/subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		writeStripeError(w, http.StatusPaymentRequired, "card_error", "Your card was declined.")
	})

	_, err := p.CreateSubscription(context.Background(), billing.SubscriptionParams{CustomerID: "cus_1", PriceID: "price_m"})
	if billing.KindOf(err) != billing.KindCard {
		t.Fatalf("expected card error, got %v", err)
	}
	if !strings.Contains(billing.MessageOf(err), "declined") {
		t.Errorf("message: %q", billing.MessageOf(err))
	}
}
