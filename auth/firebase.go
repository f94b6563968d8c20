// Package auth verifies identity tokens and manages provider-side accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"golang.org/x/time/rate"
)

// Token verification failures.
var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// DefaultJWKSURL publishes the keys that sign Firebase ID tokens.
const DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// DefaultUnknownKeyInterval is how often a token signed by a key id never
// seen before may trigger a key set refetch.
const DefaultUnknownKeyInterval = time.Minute

// Identity is a verified caller.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type tokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// FirebaseVerifier checks RS256 Firebase ID tokens against the published
// key set. Key fetches run on a context owned by the verifier, so a caller
// that goes away does not fail the others waiting on the same fetch.
type FirebaseVerifier struct {
	projectID       string
	jwksURL         string
	client          *http.Client
	logger          *slog.Logger
	unknownInterval time.Duration

	keys     *gatedKeySet
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*FirebaseVerifier)(nil)

// FirebaseOption configures a FirebaseVerifier.
type FirebaseOption func(*FirebaseVerifier)

// WithJWKSURL overrides DefaultJWKSURL.
func WithJWKSURL(url string) FirebaseOption {
	return func(v *FirebaseVerifier) { v.jwksURL = url }
}

// WithHTTPClient sets the client used to fetch keys.
func WithHTTPClient(c *http.Client) FirebaseOption {
	return func(v *FirebaseVerifier) { v.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FirebaseOption {
	return func(v *FirebaseVerifier) { v.logger = l }
}

// WithUnknownKeyInterval overrides DefaultUnknownKeyInterval.
func WithUnknownKeyInterval(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) { v.unknownInterval = d }
}

// NewFirebaseVerifier creates a verifier for tokens issued to projectID.
func NewFirebaseVerifier(projectID string, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{
		projectID:       projectID,
		jwksURL:         DefaultJWKSURL,
		client:          &http.Client{Timeout: 10 * time.Second},
		logger:          slog.Default(),
		unknownInterval: DefaultUnknownKeyInterval,
	}
	for _, opt := range opts {
		opt(v)
	}

	ctx := oidc.ClientContext(context.Background(), v.client)
	v.keys = &gatedKeySet{
		remote: oidc.NewRemoteKeySet(ctx, v.jwksURL),
		limit:  rate.NewLimiter(rate.Every(v.unknownInterval), 1),
		known:  make(map[string]bool),
	}
	v.verifier = oidc.NewVerifier(v.Issuer(), v.keys, &oidc.Config{
		ClientID:             projectID,
		SupportedSigningAlgs: []string{oidc.RS256},
	})
	return v
}

// Issuer is the iss claim Firebase sets for this project.
func (v *FirebaseVerifier) Issuer() string {
	return "https://securetoken.google.com/" + v.projectID
}

// Verify validates signature, issuer, audience, expiry and subject.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	tok, err := v.verifier.Verify(ctx, token)
	if err != nil {
		v.logger.Debug("id token rejected", "error", err)
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if tok.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrTokenInvalid)
	}

	var claims tokenClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return &Identity{
		UID:           tok.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

// gatedKeySet lets a token whose kid has never verified reach the remote
// key set at most once per limiter interval. Until the first successful
// verification every kid passes, so start-up requests share one fetch.
type gatedKeySet struct {
	remote oidc.KeySet
	limit  *rate.Limiter

	mu    sync.RWMutex
	known map[string]bool
}

func (g *gatedKeySet) VerifySignature(ctx context.Context, raw string) ([]byte, error) {
	sig, err := jose.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("malformed jwt: %w", err)
	}
	if len(sig.Signatures) != 1 {
		return nil, errors.New("expected exactly one signature")
	}
	kid := sig.Signatures[0].Header.KeyID

	g.mu.RLock()
	known, seeded := g.known[kid], len(g.known) > 0
	g.mu.RUnlock()
	if seeded && !known && !g.limit.Allow() {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}

	payload, err := g.remote.VerifySignature(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !known {
		g.mu.Lock()
		g.known[kid] = true
		g.mu.Unlock()
	}
	return payload, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}
