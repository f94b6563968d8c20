package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ivylab/ivylab/id"
)

// DefaultCookieName is the cookie that carries the signed session ID.
const DefaultCookieName = "ivylab_session"

// Manager issues session cookies and loads sessions behind them. Cookie
// values are "<session id>.<hmac>" so a forged ID is rejected before the
// store is consulted.
type Manager struct {
	store      Store
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(m *Manager) { m.cookieName = name }
}

// WithTTL sets the cookie lifetime. Zero means a browser-session cookie.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithSecure marks the cookie Secure.
func WithSecure(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager signing cookies with secret.
func NewManager(store Store, secret []byte, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		secret:     secret,
		cookieName: DefaultCookieName,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// New returns an empty unsaved session with a fresh ID.
func (m *Manager) New() *Session {
	return &Session{ID: id.NewSessionID().String(), CreatedAt: time.Now().UTC()}
}

// Load returns the session for the request. Missing, forged or expired
// cookies yield a new empty session. A failing store also yields an empty
// session so callers degrade to "no cached snapshot".
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return m.New()
	}

	sid, ok := m.verify(c.Value)
	if !ok {
		m.logger.Debug("session cookie rejected")
		return m.New()
	}

	s, err := m.store.Load(r.Context(), sid)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("session store unavailable", "error", err)
		}
		return m.New()
	}
	return s
}

// Save persists the session and sets its cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Save(ctx, s); err != nil {
		return err
	}

	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    m.sign(s.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.ttl > 0 {
		c.MaxAge = int(m.ttl / time.Second)
	}
	http.SetCookie(w, c)
	return nil
}

// Destroy deletes the session and expires its cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return m.store.Destroy(ctx, s.ID)
}

func (m *Manager) mac(sid string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(sid))
	return h.Sum(nil)
}

func (m *Manager) sign(sid string) string {
	return sid + "." + base64.RawURLEncoding.EncodeToString(m.mac(sid))
}

func (m *Manager) verify(value string) (string, bool) {
	sid, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, m.mac(sid)) {
		return "", false
	}
	if _, err := id.ParseWithPrefix(sid, id.PrefixSession); err != nil {
		return "", false
	}
	return sid, true
}

type ctxKey struct{}

// Middleware loads the session into the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
