package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/billing"
	billingmem "github.com/ivylab/ivylab/billing/memory"
	"github.com/ivylab/ivylab/llm"
	"github.com/ivylab/ivylab/observability"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/server"
	"github.com/ivylab/ivylab/session"
	"github.com/ivylab/ivylab/store/memory"
	"github.com/ivylab/ivylab/subscription"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// tokens maps ID tokens to identities. "expired" always fails as expired.
type tokens map[string]*auth.Identity

func (tk tokens) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if token == "expired" {
		return nil, auth.ErrTokenExpired
	}
	if ident, ok := tk[token]; ok {
		return ident, nil
	}
	return nil, auth.ErrTokenInvalid
}

type brokenStreamer struct{}

func (brokenStreamer) Stream(_ context.Context, _ llm.Request, emit llm.ChunkFunc) error {
	if err := emit("partial "); err != nil {
		return err
	}
	return errors.New("upstream closed")
}

type harness struct {
	t       *testing.T
	store   *memory.Store
	billing *billingmem.Provider
	srv     *httptest.Server
	client  *http.Client
}

func newHarness(t *testing.T, streamer llm.Streamer, opts ...server.Option) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		store:   memory.New(),
		billing: billingmem.New(),
	}
	engine := ivylab.New(h.store, h.billing,
		ivylab.WithLogger(quiet),
		ivylab.WithAccounts(auth.NewMemoryAccounts()),
		ivylab.WithAllowlist(auth.NewAllowlist("legacy@example.com")),
		ivylab.WithBillingTimeout(50*time.Millisecond),
	)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	sessions := session.NewManager(session.NewMemoryStore(time.Hour), []byte("test-secret"), session.WithLogger(quiet))
	verifier := tokens{
		"tok-1": {UID: "uid-1", Email: "ada@example.com", Name: "Ada"},
		"tok-2": {UID: "uid-2", Email: "legacy@example.com"},
	}
	if streamer == nil {
		streamer = llm.DemoStreamer{}
	}

	opts = append([]server.Option{
		server.WithLogger(quiet),
		server.WithDemoDelay(0),
		server.WithPublishableKey("pk_test_123"),
	}, opts...)
	s := server.New(engine, sessions, verifier, llm.NewAssistant(streamer, nil), opts...)

	h.srv = httptest.NewServer(s)
	t.Cleanup(func() {
		h.srv.Close()
		_ = s.Shutdown(context.Background())
	})

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	h.client = &http.Client{Jar: jar}
	return h
}

func (h *harness) do(req *http.Request) (*http.Response, []byte) {
	h.t.Helper()
	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatal(err)
	}
	return resp, body
}

func (h *harness) get(path string) (*http.Response, map[string]any) {
	h.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	resp, body := h.do(req)
	return resp, decode(h.t, body)
}

func (h *harness) postJSON(path string, v any) (*http.Response, map[string]any) {
	h.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		h.t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, body := h.do(req)
	return resp, decode(h.t, body)
}

func (h *harness) postForm(path string, vals url.Values) (*http.Response, string) {
	h.t.Helper()
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body := h.do(req)
	return resp, string(body)
}

func (h *harness) login() {
	h.t.Helper()
	resp, body := h.postJSON("/login", map[string]string{"idToken": "tok-1", "uid": "uid-1"})
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("login: %d %v", resp.StatusCode, body)
	}
}

func (h *harness) subscribe() string {
	h.t.Helper()
	resp, body := h.postJSON("/create-payment", map[string]string{"plan": "weekly", "payment_method_id": "pm_card"})
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("create-payment: %d %v", resp.StatusCode, body)
	}
	return body["subscription_id"].(string)
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	if len(body) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return m
}

func TestLoginSessionRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.get("/check-auth")
	if body["authenticated"] != false {
		t.Fatalf("anonymous check-auth = %v", body)
	}
	if got := resp.Header.Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q", got)
	}

	h.login()

	_, body = h.get("/check-auth")
	user, _ := body["user"].(map[string]any)
	if body["authenticated"] != true || user["id"] != "uid-1" || user["name"] != "Ada" {
		t.Fatalf("check-auth = %v", body)
	}

	rec, err := h.store.GetRecord(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("login should create the record: %v", err)
	}
	if rec.Email != "ada@example.com" {
		t.Errorf("record email = %q", rec.Email)
	}

	h.get("/logout")
	if _, body = h.get("/check-auth"); body["authenticated"] != false {
		t.Errorf("after logout = %v", body)
	}
}

func TestLoginRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]string
		status  int
		message string
	}{
		{"no token", map[string]string{"email": "ada@example.com"}, http.StatusBadRequest, "Wrong username or password"},
		{"invalid token", map[string]string{"idToken": "forged", "uid": "uid-1"}, http.StatusUnauthorized, "Invalid Firebase Auth token"},
		{"expired token", map[string]string{"idToken": "expired", "uid": "uid-1"}, http.StatusUnauthorized, "Firebase Auth token expired"},
		{"uid mismatch", map[string]string{"idToken": "tok-1", "uid": "uid-9"}, http.StatusUnauthorized, "Token UID mismatch"},
	}

	h := newHarness(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.postJSON("/login", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if body["success"] != false || body["message"] != tt.message {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestLegacyLoginAndMigration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.store.CreateRecord(ctx, &subscription.Record{
		UserID: "legacy-1",
		Email:  "legacy@example.com",
		Name:   "Grace",
		Status: subscription.StatusActive,
		Plan:   plan.Monthly,
	}); err != nil {
		t.Fatal(err)
	}

	// An allowlisted email without a token takes the legacy path.
	resp, body := h.postJSON("/login", map[string]string{"email": "legacy@example.com"})
	if resp.StatusCode != http.StatusOK || body["legacy_user"] != true || body["legacy_user_id"] != "legacy-1" {
		t.Fatalf("legacy login = %d %v", resp.StatusCode, body)
	}

	resp, body = h.postJSON("/migrate-to-firebase", map[string]string{
		"idToken":      "tok-2",
		"uid":          "uid-2",
		"email":        "legacy@example.com",
		"legacyUserId": "legacy-1",
	})
	if resp.StatusCode != http.StatusOK || body["migrated"] != true || body["user_id"] != "uid-2" {
		t.Fatalf("migrate = %d %v", resp.StatusCode, body)
	}

	_, body = h.get("/check-auth")
	if user, _ := body["user"].(map[string]any); user["id"] != "uid-2" || user["name"] != "Grace" {
		t.Errorf("check-auth after migration = %v", body)
	}

	legacy, err := h.store.GetRecord(ctx, "legacy-1")
	if err != nil {
		t.Fatal(err)
	}
	if legacy.MigratedTo != "uid-2" {
		t.Errorf("legacy MigratedTo = %q", legacy.MigratedTo)
	}

	// No billing reference, so the copied subscription grants session-based.
	resp, out := h.postForm("/analyze", url.Values{"essay": {"An essay."}})
	if resp.StatusCode != http.StatusOK || !strings.Contains(out, "Essay Analysis") {
		t.Errorf("analyze after migration = %d %q", resp.StatusCode, out)
	}

	// The legacy record cannot be handed to a second account.
	if resp, body := h.postJSON("/login", map[string]string{"email": "legacy@example.com"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("second legacy login = %d %v", resp.StatusCode, body)
	}
	resp, body = h.postJSON("/migrate-to-firebase", map[string]string{
		"idToken":      "tok-1",
		"uid":          "uid-1",
		"email":        "ada@example.com",
		"legacyUserId": "legacy-1",
	})
	if resp.StatusCode != http.StatusConflict || body["success"] != false {
		t.Fatalf("second migration = %d %v", resp.StatusCode, body)
	}
	h.login()
	resp, out = h.postForm("/analyze", url.Values{"essay": {"An essay."}})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("second account analyze = %d %q", resp.StatusCode, out)
	}
}

func TestMigrateRequiresMatchingLegacySession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for id, email := range map[string]string{"legacy-1": "legacy@example.com", "legacy-2": "other@example.com"} {
		if err := h.store.CreateRecord(ctx, &subscription.Record{
			UserID: id,
			Email:  email,
			Status: subscription.StatusActive,
			Plan:   plan.Monthly,
		}); err != nil {
			t.Fatal(err)
		}
	}
	migrate := map[string]string{
		"idToken": "tok-2", "uid": "uid-2", "email": "legacy@example.com", "legacyUserId": "legacy-2",
	}

	// Token sign-in is not a legacy session.
	h.login()
	if resp, body := h.postJSON("/migrate-to-firebase", migrate); resp.StatusCode != http.StatusForbidden {
		t.Errorf("token session = %d %v", resp.StatusCode, body)
	}

	// A legacy session may only migrate its own record.
	if resp, body := h.postJSON("/login", map[string]string{"email": "legacy@example.com"}); resp.StatusCode != http.StatusOK || body["legacy_user_id"] != "legacy-1" {
		t.Fatalf("legacy login = %d %v", resp.StatusCode, body)
	}
	if resp, body := h.postJSON("/migrate-to-firebase", migrate); resp.StatusCode != http.StatusForbidden {
		t.Errorf("other legacy record = %d %v", resp.StatusCode, body)
	}
	if rec, _ := h.store.GetRecord(ctx, "legacy-2"); rec.MigratedTo != "" {
		t.Errorf("legacy-2 claimed by %q", rec.MigratedTo)
	}
}

func TestLegacyLoginRejects(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		path   string
		email  string
		status int
	}{
		{"missing email", "/legacy-login", "", http.StatusBadRequest},
		{"not allowlisted", "/legacy-login", "ada@example.com", http.StatusForbidden},
		{"allowlisted without record", "/legacy-login", "legacy@example.com", http.StatusUnauthorized},
		{"login with non-legacy email", "/login", "ada@example.com", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.postJSON(tt.path, map[string]string{"email": tt.email})
			if resp.StatusCode != tt.status || body["success"] != false {
				t.Errorf("got %d %v, want %d", resp.StatusCode, body, tt.status)
			}
		})
	}

	resp, body := h.postJSON("/migrate-to-firebase", map[string]string{"idToken": "tok-2", "uid": "uid-2"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("migrate without fields = %d %v", resp.StatusCode, body)
	}
	resp, _ = h.postJSON("/migrate-to-firebase", map[string]string{
		"idToken": "tok-2", "uid": "uid-2", "email": "legacy@example.com", "legacyUserId": "nobody",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("migrate without a legacy session = %d", resp.StatusCode)
	}
}

func TestPaidEndpointsGate(t *testing.T) {
	h := newHarness(t, nil)

	resp, out := h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(out, "Authentication required") {
		t.Fatalf("anonymous analyze = %d %q", resp.StatusCode, out)
	}

	h.login()
	resp, out = h.postForm("/generate", url.Values{"outline": {"x"}})
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(out, "Subscription required: no active subscription") {
		t.Fatalf("unsubscribed generate = %d %q", resp.StatusCode, out)
	}

	h.subscribe()

	resp, out = h.postForm("/analyze", url.Values{"essay": {"An essay."}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze = %d %q", resp.StatusCode, out)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("analyze Content-Type = %q", ct)
	}
	if !strings.Contains(out, "Essay Analysis") {
		t.Errorf("analyze body = %q", out)
	}

	resp, out = h.postForm("/generate", url.Values{"outline": {"An outline."}})
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("generate = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(out, "Generated Essay") {
		t.Errorf("generate body = %q", out)
	}

	resp, out = h.postForm("/analyze", url.Values{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("analyze without essay = %d %q", resp.StatusCode, out)
	}
}

func TestPaidEndpointLiveDenial(t *testing.T) {
	h := newHarness(t, nil)
	h.login()
	ref := h.subscribe()

	sub, _ := h.billing.Subscription(ref)
	sub.Status = billing.StatusPastDue
	h.billing.Put(sub)

	resp, out := h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(out, "payment failed: update payment method") {
		t.Errorf("past due analyze = %d %q", resp.StatusCode, out)
	}
}

func TestStreamErrorIsWrittenInline(t *testing.T) {
	h := newHarness(t, brokenStreamer{})
	h.login()
	h.subscribe()

	resp, out := h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out != "partial Error: upstream closed" {
		t.Errorf("body = %q", out)
	}
}

func TestCreatePaymentFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *billingmem.Provider)
		plan    string
		status  int
		message string
	}{
		{
			name:    "invalid plan",
			plan:    "yearly",
			status:  http.StatusBadRequest,
			message: "Invalid plan",
		},
		{
			name: "card declined",
			setup: func(p *billingmem.Provider) {
				p.FailOn(billingmem.OpAttachPayment, &billing.Error{Kind: billing.KindCard, Op: "attach", Message: "Your card was declined."})
			},
			status:  http.StatusBadRequest,
			message: "Card error: Your card was declined.",
		},
		{
			name: "rate limited",
			setup: func(p *billingmem.Provider) {
				p.FailOn(billingmem.OpCreateCustomer, &billing.Error{Kind: billing.KindRateLimit, Op: "customer"})
			},
			status:  http.StatusTooManyRequests,
			message: "Rate limit exceeded",
		},
		{
			name: "provider auth",
			setup: func(p *billingmem.Provider) {
				p.FailOn(billingmem.OpEnsurePrices, &billing.Error{Kind: billing.KindAuthentication, Op: "prices"})
			},
			status:  http.StatusUnauthorized,
			message: "Authentication failed",
		},
		{
			name: "network",
			setup: func(p *billingmem.Provider) {
				p.FailOn(billingmem.OpCreateSubscription, &billing.Error{Kind: billing.KindConnection, Op: "subscription"})
			},
			status:  http.StatusInternalServerError,
			message: "Network error",
		},
		{
			name:    "not activated",
			setup:   func(p *billingmem.Provider) { p.SetInitialStatus("incomplete") },
			status:  http.StatusBadRequest,
			message: "Payment failed: incomplete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.login()
			if tt.setup != nil {
				tt.setup(h.billing)
			}
			p := tt.plan
			if p == "" {
				p = "monthly"
			}

			resp, body := h.postJSON("/create-payment", map[string]string{"plan": p, "payment_method_id": "pm_card"})
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if body["message"] != tt.message {
				t.Errorf("message = %v, want %q", body["message"], tt.message)
			}
		})
	}

	t.Run("anonymous", func(t *testing.T) {
		h := newHarness(t, nil)
		resp, _ := h.postJSON("/create-payment", map[string]string{"plan": "weekly"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestSignupAndSubscribe(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.postJSON("/signup-and-subscribe", map[string]string{"userEmail": "new@example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing fields = %d %v", resp.StatusCode, body)
	}

	resp, body = h.postJSON("/signup-and-subscribe", map[string]string{
		"userName":          "Lin",
		"userEmail":         "new@example.com",
		"userPassword":      "hunter22",
		"plan":              "monthly",
		"payment_method_id": "pm_card",
	})
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("signup = %d %v", resp.StatusCode, body)
	}
	uid, _ := body["user_id"].(string)
	if uid == "" || body["firebase_uid"] != uid || body["subscription_id"] == "" {
		t.Errorf("signup body = %v", body)
	}

	_, body = h.get("/check-auth")
	if user, _ := body["user"].(map[string]any); body["authenticated"] != true || user["id"] != uid {
		t.Errorf("check-auth after signup = %v", body)
	}

	resp, out := h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("analyze after signup = %d %q", resp.StatusCode, out)
	}
}

func TestCancelAndReactivate(t *testing.T) {
	h := newHarness(t, nil)
	h.login()

	resp, body := h.postJSON("/cancel-subscription", nil)
	if resp.StatusCode != http.StatusBadRequest || body["message"] != "No active subscription found" {
		t.Fatalf("cancel without subscription = %d %v", resp.StatusCode, body)
	}

	ref := h.subscribe()

	resp, body = h.get("/subscription")
	info, _ := body["subscription"].(map[string]any)
	if resp.StatusCode != http.StatusOK || info["id"] != ref || info["plan"] != "weekly" {
		t.Fatalf("subscription = %d %v", resp.StatusCode, body)
	}

	resp, body = h.postJSON("/cancel-subscription", nil)
	if resp.StatusCode != http.StatusOK || body["cancel_at_period_end"] != true {
		t.Fatalf("cancel = %d %v", resp.StatusCode, body)
	}
	rec, _ := h.store.GetRecord(context.Background(), "uid-1")
	if rec.Status != subscription.StatusCanceledAtPeriodEnd {
		t.Errorf("stored status = %q", rec.Status)
	}

	resp, out := h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("analyze after cancel = %d %q", resp.StatusCode, out)
	}

	resp, body = h.postJSON("/reactivate-subscription", nil)
	if resp.StatusCode != http.StatusOK || body["cancel_at_period_end"] != false {
		t.Fatalf("reactivate = %d %v", resp.StatusCode, body)
	}
	if resp, _ := h.postForm("/analyze", url.Values{"essay": {"x"}}); resp.StatusCode != http.StatusOK {
		t.Errorf("analyze after reactivate = %d", resp.StatusCode)
	}
}

func TestSubscriptionWithoutReference(t *testing.T) {
	h := newHarness(t, nil)
	h.login()

	resp, body := h.get("/subscription")
	if resp.StatusCode != http.StatusOK || body["subscription"] != nil {
		t.Errorf("subscription = %d %v", resp.StatusCode, body)
	}
}

func TestWebhook(t *testing.T) {
	post := func(h *harness, payload []byte, sig string) (*http.Response, map[string]any) {
		req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", sig)
		resp, body := h.do(req)
		return resp, decode(h.t, body)
	}
	event, _ := json.Marshal(billing.Event{Type: billing.EventPaymentFailed, Invoice: &billing.Invoice{
		ID: "in_1", Metadata: map[string]string{billing.MetaUserID: "uid-1"},
	}})

	t.Run("bad signature", func(t *testing.T) {
		h := newHarness(t, nil)
		resp, body := post(h, event, "forged")
		if resp.StatusCode != http.StatusBadRequest || body["error"] != "Invalid signature" {
			t.Errorf("got %d %v", resp.StatusCode, body)
		}
	})

	t.Run("payment failed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.login()
		h.subscribe()

		resp, body := post(h, event, billingmem.Signature)
		if resp.StatusCode != http.StatusOK || body["status"] != "success" {
			t.Fatalf("got %d %v", resp.StatusCode, body)
		}
		rec, _ := h.store.GetRecord(context.Background(), "uid-1")
		if rec.Status != subscription.StatusPastDue {
			t.Errorf("status = %q", rec.Status)
		}
	})

	t.Run("store down asks for redelivery", func(t *testing.T) {
		h := newHarness(t, nil)
		h.store.FailWith(ivylab.ErrStoreUnavailable)
		resp, _ := post(h, event, billingmem.Signature)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestDemoAnalyze(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.postJSON("/demo-analyze", map[string]string{"essay": "too short"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short essay = %d %v", resp.StatusCode, body)
	}

	resp, body = h.postJSON("/demo-analyze", map[string]string{"essay": strings.Repeat("word ", 30)})
	if resp.StatusCode != http.StatusOK || body["ivy_ready"] != "Not Ivy Ready" || body["demo"] != true {
		t.Errorf("demo = %d %v", resp.StatusCode, body)
	}
}

func TestHealthConfigMetrics(t *testing.T) {
	factory := observability.NewPrometheusFactory(prometheus.NewRegistry())
	h := newHarness(t, nil, server.WithMetrics(factory.Handler(), observability.NewHTTPMetrics(factory.Registry())))

	resp, body := h.get("/healthz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, body)
	}

	_, body = h.get("/config")
	if body["stripe_publishable_key"] != "pk_test_123" || body["billing_enabled"] != true {
		t.Errorf("config = %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/metrics", nil)
	resp, raw := h.do(req)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `ivylab_http_requests_total{method="GET",path="/healthz",status_code="200"} 1`) {
		t.Errorf("metrics = %d\n%s", resp.StatusCode, raw)
	}

	h.store.FailWith(ivylab.ErrStoreUnavailable)
	if resp, _ := h.get("/healthz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz with store down = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, nil, server.WithRateLimit(0.001, 1))

	resp, _ := h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first = %d", resp.StatusCode)
	}
	resp, _ = h.postForm("/analyze", url.Values{"essay": {"x"}})
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Errorf("second = %d retry-after %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	// Unlimited endpoints are unaffected.
	if resp, _ := h.get("/check-auth"); resp.StatusCode != http.StatusOK {
		t.Errorf("check-auth = %d", resp.StatusCode)
	}
}
