package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ivylab/ivylab"
	audithook "github.com/ivylab/ivylab/audit_hook"
	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/billing/stripe"
	"github.com/ivylab/ivylab/config"
	"github.com/ivylab/ivylab/llm"
	"github.com/ivylab/ivylab/observability"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/server"
	"github.com/ivylab/ivylab/session"
	"github.com/ivylab/ivylab/store"
	"github.com/ivylab/ivylab/store/memory"
	"github.com/ivylab/ivylab/store/mongo"
)

// app is the wired process: engine, session cache and HTTP server.
type app struct {
	engine  *ivylab.Engine
	server  *server.Server
	redis   *redis.Client
	logger  *slog.Logger
	metrics *observability.PrometheusFactory
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	sessions, err := a.openSessions(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var provider billing.Provider
	if cfg.BillingEnabled() {
		provider = stripe.New(stripe.Config{
			SecretKey:         cfg.Stripe.SecretKey,
			WebhookSecret:     cfg.Stripe.WebhookSecret,
			MaxNetworkRetries: 2,
			Logger:            logger,
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewPrometheusFactory(reg)

	opts := []ivylab.Option{
		ivylab.WithLogger(logger),
		ivylab.WithBillingTimeout(cfg.Billing.Timeout),
		ivylab.WithCatalog(plan.NewCatalog(cfg.Billing.Prices)),
		ivylab.WithAllowlist(auth.NewAllowlist(cfg.LegacyEmails...)),
		ivylab.WithPlugin(audithook.New(audithook.SlogRecorder{Logger: logger.With("component", "audit")},
			audithook.WithLogger(logger),
			audithook.WithDisabledActions(audithook.ActionEntitlementGranted),
		)),
		ivylab.WithPlugin(observability.NewMetricsExtension(a.metrics)),
	}
	if cfg.Firebase.APIKey != "" {
		opts = append(opts, ivylab.WithAccounts(auth.NewIdentityToolkit(cfg.Firebase.APIKey, "", nil)))
	} else {
		logger.Warn("FIREBASE_API_KEY not set, signup disabled")
	}
	a.engine = ivylab.New(st, provider, opts...)

	var verifier auth.Verifier
	if cfg.Firebase.ProjectID != "" {
		verifier = auth.NewFirebaseVerifier(cfg.Firebase.ProjectID, auth.WithLogger(logger))
	} else {
		logger.Warn("FIREBASE_PROJECT_ID not set, token login disabled")
	}

	a.server = server.New(a.engine, sessions, verifier, newAssistant(cfg.LLM),
		server.WithLogger(logger),
		server.WithPublishableKey(cfg.Stripe.PublishableKey),
		server.WithMetrics(a.metrics.Handler(), observability.NewHTTPMetrics(reg)),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	)
	return a, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Mongo.URI == "" {
		logger.Warn("MONGO_URI not set, user records kept in memory")
		return memory.New(), nil
	}
	st, err := mongo.Open(cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("identity store connected", "database", cfg.Mongo.Database)
	return st, nil
}

func (a *app) openSessions(ctx context.Context, cfg *config.Config) (*session.Manager, error) {
	var backend session.Store
	if cfg.Redis.Addr == "" {
		a.logger.Warn("REDIS_ADDR not set, sessions kept in memory")
		backend = session.NewMemoryStore(cfg.Session.TTL)
	} else {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("session cache: %w", err)
		}
		backend = session.NewRedisStore(a.redis, session.RedisConfig{
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.Session.TTL,
		})
	}

	return session.NewManager(backend, []byte(cfg.Session.Secret),
		session.WithCookieName(cfg.Session.CookieName),
		session.WithTTL(cfg.Session.TTL),
		session.WithSecure(cfg.Session.Secure),
		session.WithLogger(a.logger),
	), nil
}

func newAssistant(cfg config.LLMConfig) *llm.Assistant {
	if cfg.Demo {
		return llm.NewAssistant(llm.DemoStreamer{}, nil)
	}

	var prompts map[llm.Task]llm.Prompt
	if cfg.Model != "" {
		prompts = map[llm.Task]llm.Prompt{
			llm.TaskAnalyze:  {Model: cfg.Model},
			llm.TaskGenerate: {Model: cfg.Model},
		}
	}
	return llm.NewAssistant(llm.NewOpenAIClient(cfg.APIKey, cfg.BaseURL), prompts)
}

func (a *app) close() {
	if err := a.engine.Stop(); err != nil {
		a.logger.Warn("engine stop failed", "error", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("session cache close failed", "error", err)
		}
	}
}
