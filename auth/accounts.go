package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrEmailExists is returned when an account already uses the email.
var ErrEmailExists = errors.New("auth: email already in use")

// DefaultIdentityToolkitURL is the Identity Toolkit REST base URL.
const DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"

// Account is a newly created provider account. IDToken authorizes deleting
// it again during rollback.
type Account struct {
	UID         string
	Email       string
	DisplayName string
	IDToken     string
}

// Accounts creates and removes identity-provider accounts for server-side
// signup.
type Accounts interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (*Account, error)
	DeleteAccount(ctx context.Context, a *Account) error
}

// IdentityToolkit implements Accounts over the Firebase Identity Toolkit
// REST API using a web API key.
type IdentityToolkit struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Accounts = (*IdentityToolkit)(nil)

// NewIdentityToolkit creates a client. An empty baseURL uses the public
// endpoint.
func NewIdentityToolkit(apiKey, baseURL string, client *http.Client) *IdentityToolkit {
	if baseURL == "" {
		baseURL = DefaultIdentityToolkitURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityToolkit{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type toolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (t *IdentityToolkit) call(ctx context.Context, method string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("auth: encode %s: %w", method, err)
	}

	url := t.baseURL + "/accounts:" + method + "?key=" + t.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("auth: read %s response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		var te toolkitError
		_ = json.Unmarshal(raw, &te)
		// Messages look like "EMAIL_EXISTS" or "WEAK_PASSWORD : Password should be ...".
		if strings.HasPrefix(te.Error.Message, "EMAIL_EXISTS") {
			return ErrEmailExists
		}
		return fmt.Errorf("auth: %s returned status %d: %s", method, resp.StatusCode, te.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("auth: decode %s response: %w", method, err)
		}
	}
	return nil
}

func (t *IdentityToolkit) CreateAccount(ctx context.Context, email, password, displayName string) (*Account, error) {
	var out struct {
		LocalID string `json:"localId"`
		Email   string `json:"email"`
		IDToken string `json:"idToken"`
	}
	err := t.call(ctx, "signUp", map[string]any{
		"email":             email,
		"password":          password,
		"displayName":       displayName,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.LocalID == "" {
		return nil, errors.New("auth: signUp returned no uid")
	}
	return &Account{UID: out.LocalID, Email: out.Email, DisplayName: displayName, IDToken: out.IDToken}, nil
}

func (t *IdentityToolkit) DeleteAccount(ctx context.Context, a *Account) error {
	return t.call(ctx, "delete", map[string]string{"idToken": a.IDToken}, nil)
}

// MemoryAccounts is an in-process Accounts for tests and local development.
type MemoryAccounts struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]*Account

	// FailCreate, when set, is returned by CreateAccount.
	FailCreate error
}

var _ Accounts = (*MemoryAccounts)(nil)

// NewMemoryAccounts creates an empty account set.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: make(map[string]*Account)}
}

func (m *MemoryAccounts) CreateAccount(_ context.Context, email, _, displayName string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return nil, m.FailCreate
	}
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			return nil, ErrEmailExists
		}
	}
	m.seq++
	a := &Account{
		UID:         fmt.Sprintf("uid_%d", m.seq),
		Email:       email,
		DisplayName: displayName,
		IDToken:     fmt.Sprintf("token_%d", m.seq),
	}
	m.accounts[a.UID] = a
	cp := *a
	return &cp, nil
}

func (m *MemoryAccounts) DeleteAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, a.UID)
	return nil
}

// Exists reports whether uid has an account.
func (m *MemoryAccounts) Exists(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[uid]
	return ok
}
