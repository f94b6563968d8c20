// Package session holds per-browser state between requests: the signed-in
// identity and a snapshot of its subscription fields.
//
// The snapshot is a cache. The identity store stays authoritative for
// status, plan and start date; the snapshot is the only place the billing
// reference is read from when deciding entitlement.
package session

import (
	"errors"
	"time"

	"github.com/ivylab/ivylab/entitlement"
	"github.com/ivylab/ivylab/subscription"
)

// ErrNotFound is returned by Store.Load for unknown or expired sessions.
var ErrNotFound = errors.New("session: not found")

// Session is the state stored behind a session cookie.
type Session struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"user_email,omitempty"`
	Name        string `json:"user_name,omitempty"`
	FirebaseUID string `json:"firebase_uid,omitempty"`
	Legacy      bool   `json:"legacy_user,omitempty"`

	Status             subscription.Status `json:"subscription_status,omitempty"`
	Plan               subscription.Plan   `json:"plan,omitempty"`
	StartDate          time.Time           `json:"subscription_start_date,omitzero"`
	BillingReference   string              `json:"stripe_subscription_id,omitempty"`
	BillingCustomerRef string              `json:"stripe_customer_id,omitempty"`
	Canceled           bool                `json:"subscription_canceled,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Authenticated reports whether a user is signed in.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// Snapshot returns the cached subscription fields for the resolver.
func (s *Session) Snapshot() entitlement.Snapshot {
	if s == nil {
		return entitlement.Snapshot{}
	}
	return entitlement.Snapshot{
		Status:           s.Status,
		Plan:             s.Plan,
		StartDate:        s.StartDate,
		BillingReference: s.BillingReference,
	}
}

// Fill copies identity and subscription fields from a stored record, as
// done on login.
func (s *Session) Fill(r *subscription.Record) {
	s.UserID = r.UserID
	s.Email = r.Email
	s.Name = r.DisplayName()
	s.Legacy = r.Legacy
	if r.FirebaseUID != "" {
		s.FirebaseUID = r.FirebaseUID
	}
	s.Status = r.Status
	s.Plan = r.Plan
	s.StartDate = r.StartDate
	s.BillingReference = r.BillingReference
	s.BillingCustomerRef = r.BillingCustomerRef
	s.Canceled = r.Status == subscription.StatusCanceledAtPeriodEnd
}

// ApplyDelta mirrors a lifecycle change the caller just persisted.
func (s *Session) ApplyDelta(d subscription.Delta) {
	s.Status = d.Status
	if d.Plan != "" {
		s.Plan = d.Plan
	}
	if !d.StartDate.IsZero() {
		s.StartDate = d.StartDate.UTC()
	}
	if d.BillingReference != "" {
		s.BillingReference = d.BillingReference
	}
	if d.BillingCustomerRef != "" {
		s.BillingCustomerRef = d.BillingCustomerRef
	}
	s.Canceled = d.Status == subscription.StatusCanceledAtPeriodEnd
}

// Clear drops everything but the session ID, as on logout.
func (s *Session) Clear() {
	*s = Session{ID: s.ID, CreatedAt: s.CreatedAt}
}

// Clone returns a copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
