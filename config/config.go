// Package config loads the ivylab binary's configuration from a YAML file,
// an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ivylab/ivylab/plan"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `json:"server"   mapstructure:"server"   yaml:"server"`
	Log      LogConfig      `json:"log"      mapstructure:"log"      yaml:"log"`
	Mongo    MongoConfig    `json:"mongo"    mapstructure:"mongo"    yaml:"mongo"`
	Redis    RedisConfig    `json:"redis"    mapstructure:"redis"    yaml:"redis"`
	Session  SessionConfig  `json:"session"  mapstructure:"session"  yaml:"session"`
	Stripe   StripeConfig   `json:"stripe"   mapstructure:"stripe"   yaml:"stripe"`
	Firebase FirebaseConfig `json:"firebase" mapstructure:"firebase" yaml:"firebase"`
	LLM      LLMConfig      `json:"llm"      mapstructure:"llm"      yaml:"llm"`
	Billing  BillingConfig  `json:"billing"  mapstructure:"billing"  yaml:"billing"`

	// LegacyEmails may sign in by email alone until they migrate.
	LegacyEmails []string `json:"legacy_emails" mapstructure:"legacy_emails" yaml:"legacy_emails"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `json:"port"             mapstructure:"port"             yaml:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per client on
	// the paid endpoints. Zero disables limiting.
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" mapstructure:"rate_burst" yaml:"rate_burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"  mapstructure:"level"  yaml:"level"`  // debug, info, warn, error
	Format string `json:"format" mapstructure:"format" yaml:"format"` // text, json
}

// MongoConfig configures the identity store. An empty URI selects the
// in-memory store.
type MongoConfig struct {
	URI      string `json:"uri"      mapstructure:"uri"      yaml:"uri"`
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// RedisConfig configures the session cache. An empty Addr keeps sessions
// in process memory.
type RedisConfig struct {
	Addr     string `json:"addr"     mapstructure:"addr"     yaml:"addr"`
	Password string `json:"password" mapstructure:"password" yaml:"password"`
	DB       int    `json:"db"       mapstructure:"db"       yaml:"db"`
	Prefix   string `json:"prefix"   mapstructure:"prefix"   yaml:"prefix"`
}

// SessionConfig configures session cookies.
type SessionConfig struct {
	Secret     string        `json:"-"           mapstructure:"secret"      yaml:"secret"`
	CookieName string        `json:"cookie_name" mapstructure:"cookie_name" yaml:"cookie_name"`
	TTL        time.Duration `json:"ttl"         mapstructure:"ttl"         yaml:"ttl"`
	Secure     bool          `json:"secure"      mapstructure:"secure"      yaml:"secure"`
}

// StripeConfig holds the payment provider keys. An empty SecretKey disables
// billing.
type StripeConfig struct {
	SecretKey      string `json:"-"               mapstructure:"secret_key"      yaml:"secret_key"`
	PublishableKey string `json:"publishable_key" mapstructure:"publishable_key" yaml:"publishable_key"`
	WebhookSecret  string `json:"-"               mapstructure:"webhook_secret"  yaml:"webhook_secret"`
}

// FirebaseConfig identifies the identity provider project.
type FirebaseConfig struct {
	ProjectID string `json:"project_id" mapstructure:"project_id" yaml:"project_id"`
	APIKey    string `json:"-"          mapstructure:"api_key"    yaml:"api_key"`
}

// LLMConfig configures the streaming completion API. BaseURL is the API
// root of an OpenAI-compatible service. Demo streams canned text instead of
// calling out.
type LLMConfig struct {
	APIKey  string `json:"-"        mapstructure:"api_key"  yaml:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	Model   string `json:"model"    mapstructure:"model"    yaml:"model"`
	Demo    bool   `json:"demo"     mapstructure:"demo"     yaml:"demo"`
}

// BillingConfig configures plan pricing and the entitlement lookup.
type BillingConfig struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	Prices  plan.Prices   `json:"prices"  mapstructure:"prices"  yaml:"prices"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			ShutdownTimeout: 15 * time.Second,
			RateBurst:       10,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Mongo:   MongoConfig{Database: "ivylab"},
		Redis:   RedisConfig{Prefix: "ivylab:session:"},
		Session: SessionConfig{CookieName: "ivylab_session", TTL: 7 * 24 * time.Hour},
		Billing: BillingConfig{Timeout: 3 * time.Second, Prices: plan.DefaultPrices()},
	}
}

// Load reads path (optional), then envFile (or ".env" when empty and
// present), then the process environment. Missing files other than an
// explicit path are ignored.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	dotenv, err := readDotenv(envFile)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func readDotenv(file string) (map[string]string, error) {
	explicit := file != ""
	if !explicit {
		file = ".env"
	}
	env, err := godotenv.Read(file)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", file, err)
	}
	return env, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup func(string) string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"STRIPE_SECRET_KEY", &c.Stripe.SecretKey},
		{"STRIPE_PUBLISHABLE_KEY", &c.Stripe.PublishableKey},
		{"STRIPE_WEBHOOK_SECRET", &c.Stripe.WebhookSecret},
		{"SECRET_KEY", &c.Session.Secret},
		{"MONGO_URI", &c.Mongo.URI},
		{"MONGO_DATABASE", &c.Mongo.Database},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"FIREBASE_PROJECT_ID", &c.Firebase.ProjectID},
		{"FIREBASE_API_KEY", &c.Firebase.APIKey},
		{"LLM_API_KEY", &c.LLM.APIKey},
		{"LLM_BASE_URL", &c.LLM.BaseURL},
		{"LOG_LEVEL", &c.Log.Level},
		{"LOG_FORMAT", &c.Log.Format},
	}
	for _, s := range strs {
		if v := lookup(s.key); v != "" {
			*s.dst = v
		}
	}

	// Deployments configured for the OpenAI SDK set OPENAI_API_KEY.
	if lookup("LLM_API_KEY") == "" {
		if v := lookup("OPENAI_API_KEY"); v != "" {
			c.LLM.APIKey = v
		}
	}

	if v := lookup("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT must be a valid integer: %w", err)
		}
		c.Server.Port = n
	}
	if v := lookup("LEGACY_USER_EMAILS"); v != "" {
		c.LegacyEmails = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fillDefaults replaces zero values left by a sparse YAML file.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = d.Mongo.Database
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = d.Redis.Prefix
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = d.Session.CookieName
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = d.Session.TTL
	}
	if c.Billing.Timeout <= 0 {
		c.Billing.Timeout = d.Billing.Timeout
	}
	if c.Billing.Prices.WeeklyCents <= 0 {
		c.Billing.Prices.WeeklyCents = d.Billing.Prices.WeeklyCents
	}
	if c.Billing.Prices.MonthlyCents <= 0 {
		c.Billing.Prices.MonthlyCents = d.Billing.Prices.MonthlyCents
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if !c.LLM.Demo && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required unless llm.demo is set"))
	}
	return errors.Join(errs...)
}

// BillingEnabled reports whether a payment provider is configured.
func (c *Config) BillingEnabled() bool { return c.Stripe.SecretKey != "" }

// NewLogger builds the configured slog.Logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
