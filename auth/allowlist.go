package auth

import "strings"

// Allowlist holds the legacy accounts permitted to sign in without the
// identity provider. Matching is case-insensitive.
type Allowlist struct {
	emails map[string]struct{}
}

// NewAllowlist builds an allowlist. Blank entries are ignored.
func NewAllowlist(emails ...string) *Allowlist {
	a := &Allowlist{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether email is on the list. A nil list allows nobody.
func (a *Allowlist) Allowed(email string) bool {
	if a == nil {
		return false
	}
	_, ok := a.emails[normalizeEmail(email)]
	return ok
}

// Len returns the number of entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.emails)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
