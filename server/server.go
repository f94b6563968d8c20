// Package server exposes the subscription engine, sign-in flows and the
// essay assistant over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/llm"
	"github.com/ivylab/ivylab/observability"
	"github.com/ivylab/ivylab/session"
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	engine    *ivylab.Engine
	sessions  *session.Manager
	verifier  auth.Verifier
	assistant *llm.Assistant
	logger    *slog.Logger

	publishableKey string
	metrics        http.Handler
	httpMetrics    *observability.HTTPMetrics
	limiter        *limiterStore
	demoDelay      time.Duration

	router chi.Router
	http   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPublishableKey sets the key served by /config for client-side card
// collection.
func WithPublishableKey(key string) Option {
	return func(s *Server) { s.publishableKey = key }
}

// WithMetrics mounts handler at /metrics and records request metrics with m.
// Either may be nil.
func WithMetrics(handler http.Handler, m *observability.HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = handler
		s.httpMetrics = m
	}
}

// WithRateLimit limits each client to perSecond sustained requests with the
// given burst on the paid endpoints. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newLimiterStore(perSecond, burst)
	}
}

// WithDemoDelay sets how long /demo-analyze pretends to think.
func WithDemoDelay(d time.Duration) Option {
	return func(s *Server) { s.demoDelay = d }
}

// DefaultDemoDelay is the /demo-analyze pause.
const DefaultDemoDelay = 4 * time.Second

// New builds a Server. verifier may be nil, in which case token login is
// refused and only legacy login works. assistant may be nil, in which case
// the paid endpoints answer 503 after the entitlement check.
func New(engine *ivylab.Engine, sessions *session.Manager, verifier auth.Verifier, assistant *llm.Assistant, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		sessions:  sessions,
		verifier:  verifier,
		assistant: assistant,
		logger:    slog.Default(),
		demoDelay: DefaultDemoDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.http = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.httpMetrics != nil {
		r.Use(s.httpMetrics.Middleware)
	}
	r.Use(s.sessions.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/config", s.handleConfig)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Sign-in responses must never be served from a cache.
	r.Group(func(r chi.Router) {
		r.Use(noCache)
		r.Post("/login", s.handleLogin)
		r.Post("/legacy-login", s.handleLegacyLogin)
		r.Post("/migrate-to-firebase", s.handleMigrate)
		r.Get("/logout", s.handleLogout)
		r.Get("/check-auth", s.handleCheckAuth)
		r.Post("/signup-and-subscribe", s.handleSignupAndSubscribe)
	})

	r.Post("/webhook", s.handleWebhook)
	r.Post("/create-payment", s.handleCreatePayment)
	r.Get("/subscription", s.handleSubscription)
	r.Post("/cancel-subscription", s.handleCancel)
	r.Post("/reactivate-subscription", s.handleReactivate)

	r.Post("/demo-analyze", s.handleDemoAnalyze)
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/generate", s.handleGenerate)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// A server shut down before Serve never starts.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	s.logger.Info("http server stopping")
	return s.http.Shutdown(ctx)
}

// Addr formats a listen address for port.
func Addr(port int) string {
	return ":" + strconv.Itoa(port)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Health(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stripe_publishable_key": s.publishableKey,
		"billing_enabled":        s.engine.BillingConfigured(),
	})
}

// noCache marks responses as uncacheable.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
