// Package subscription defines the per-user subscription record kept in the
// identity store and the partial update applied to it on lifecycle events.
package subscription

import (
	"strings"
	"time"

	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/types"
)

// Status is the locally tracked subscription state.
type Status string

const (
	StatusNone                Status = "none"
	StatusActive              Status = "active"
	StatusPastDue             Status = "past_due"
	StatusCanceled            Status = "canceled"
	StatusCanceledAtPeriodEnd Status = "canceled_at_period_end"
	StatusUnpaid              Status = "unpaid"
)

// Valid reports whether s is part of the local vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusPastDue, StatusCanceled,
		StatusCanceledAtPeriodEnd, StatusUnpaid:
		return true
	}
	return false
}

// Plan is the plan a record is subscribed to. Empty means absent.
type Plan = plan.ID

// MigrationStatus marks legacy documents that were copied to a verified
// account.
type MigrationStatus string

const MigrationCompleted MigrationStatus = "completed"

// Record is the authoritative per-user document. Records are never deleted;
// canceled subscriptions stay behind with StatusCanceled.
type Record struct {
	types.Entity

	UserID      string `json:"user_id"`
	Email       string `json:"user_email,omitempty"`
	Name        string `json:"user_name,omitempty"`
	FirebaseUID string `json:"firebase_uid,omitempty"`

	Status             Status    `json:"subscription_status,omitempty"`
	Plan               Plan      `json:"plan,omitempty"`
	StartDate          time.Time `json:"subscription_start_date,omitzero"`
	BillingReference   string    `json:"stripe_subscription_id,omitempty"`
	BillingCustomerRef string    `json:"stripe_customer_id,omitempty"`

	Legacy          bool            `json:"legacy_user,omitempty"`
	MigratedTo      string          `json:"migrated_to_firebase_uid,omitempty"`
	MigratedFrom    string          `json:"migrated_from_legacy,omitempty"`
	MigrationStatus MigrationStatus `json:"migration_status,omitempty"`
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// HasSubscription reports whether the record carries any subscription state.
func (r *Record) HasSubscription() bool {
	return r != nil && r.Status != "" && r.Status != StatusNone
}

// DisplayName returns the stored name or the local part of the email.
func (r *Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	local, _, _ := strings.Cut(r.Email, "@")
	return local
}

// Delta is a partial update of a Record. Zero-valued fields are left alone
// when the delta is applied; only Status is mandatory.
type Delta struct {
	Status             Status    `json:"subscription_status"`
	Plan               Plan      `json:"plan,omitempty"`
	StartDate          time.Time `json:"subscription_start_date,omitzero"`
	BillingReference   string    `json:"stripe_subscription_id,omitempty"`
	BillingCustomerRef string    `json:"stripe_customer_id,omitempty"`
	Email              string    `json:"user_email,omitempty"`
	Name               string    `json:"user_name,omitempty"`
}

// Validate checks that the delta can be applied.
func (d Delta) Validate() error {
	if d.Status == "" {
		return errMissingStatus
	}
	if !d.Status.Valid() {
		return &invalidStatusError{status: d.Status}
	}
	if d.Plan != "" {
		if _, err := plan.Parse(string(d.Plan)); err != nil {
			return err
		}
	}
	return nil
}

// Apply merges the non-empty fields of d into r and touches UpdatedAt.
func (d Delta) Apply(r *Record) {
	r.Status = d.Status
	if d.Plan != "" {
		r.Plan = d.Plan
	}
	if !d.StartDate.IsZero() {
		r.StartDate = d.StartDate.UTC()
	}
	if d.BillingReference != "" {
		r.BillingReference = d.BillingReference
	}
	if d.BillingCustomerRef != "" {
		r.BillingCustomerRef = d.BillingCustomerRef
	}
	if d.Email != "" {
		r.Email = d.Email
	}
	if d.Name != "" {
		r.Name = d.Name
	}
	r.Touch()
}
