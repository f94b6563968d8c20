// Package entitlement decides whether a user may use paid functionality.
//
// The decision is a pure function of two snapshots (session cache and
// identity store) and an optional live billing lookup. All I/O lives with the
// caller, so every branch here can be tested without a network.
package entitlement

import (
	"time"

	"github.com/ivylab/ivylab/subscription"
)

// Reasons returned with a Decision.
const (
	ReasonNoIdentity    = "no identity"
	ReasonNoActive      = "no active subscription"
	ReasonNoPlan        = "no subscription plan"
	ReasonConfirmed     = "active subscription confirmed"
	ReasonPaymentFailed = "payment failed: update payment method"
	ReasonCanceled      = "subscription canceled"
	ReasonUnpaid        = "subscription unpaid"
	ReasonSessionBased  = "active subscription (session-based)"
	ReasonCheckFailed   = "entitlement check failed"
	reasonStatusPrefix  = "subscription status: "
)

// Live billing statuses understood by Evaluate. Anything else is reported
// verbatim.
const (
	LiveActive   = "active"
	LiveTrialing = "trialing"
	LivePastDue  = "past_due"
	LiveCanceled = "canceled"
	LiveUnpaid   = "unpaid"
)

// Basis records what a decision rests on.
type Basis string

const (
	BasisNone    Basis = "none"
	BasisBilling Basis = "billing"
	BasisSession Basis = "session"
)

// Snapshot is the subset of a subscription record the resolver looks at.
// The zero value means "no data".
type Snapshot struct {
	Status           subscription.Status `json:"subscription_status,omitempty"`
	Plan             subscription.Plan   `json:"plan,omitempty"`
	StartDate        time.Time           `json:"subscription_start_date,omitzero"`
	BillingReference string              `json:"stripe_subscription_id,omitempty"`
}

// SnapshotOf extracts a snapshot from a stored record. A nil record yields
// the empty snapshot.
func SnapshotOf(r *subscription.Record) Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Status:           r.Status,
		Plan:             r.Plan,
		StartDate:        r.StartDate,
		BillingReference: r.BillingReference,
	}
}

// IsEmpty reports whether the snapshot holds no data at all.
func (s Snapshot) IsEmpty() bool {
	return s.Status == "" && s.Plan == "" && s.StartDate.IsZero() && s.BillingReference == ""
}

// Merge reconciles the identity store and the session cache. The store wins
// for status, plan and start date; the cache fills whatever the store leaves
// empty. The billing reference always comes from the cache because it
// correlates the current session with the provider.
func Merge(store, cache Snapshot) Snapshot {
	merged := Snapshot{
		Status:           store.Status,
		Plan:             store.Plan,
		StartDate:        store.StartDate,
		BillingReference: cache.BillingReference,
	}
	if merged.Status == "" {
		merged.Status = cache.Status
	}
	if merged.Plan == "" {
		merged.Plan = cache.Plan
	}
	if merged.StartDate.IsZero() {
		merged.StartDate = cache.StartDate
	}
	return merged
}

// LiveStatus is the outcome of a billing-provider lookup. Known is false when
// the provider could not be reached or returned an error.
type LiveStatus struct {
	Status string
	Known  bool
}

// Unknown is the LiveStatus of a failed lookup.
var Unknown = LiveStatus{}

// Lookup fetches the live status for a billing reference.
type Lookup func(ref string) LiveStatus

// Decision is the resolver output.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
	Basis   Basis  `json:"basis"`
}

// Deny returns a denial with the given reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason, Basis: BasisNone}
}

// Evaluate turns a merged snapshot into a decision. lookup is called at most
// once, and only when the snapshot is active, has a plan and carries a
// billing reference. A nil lookup is treated as an unreachable provider.
func Evaluate(merged Snapshot, lookup Lookup) Decision {
	if merged.Status != subscription.StatusActive {
		return Deny(ReasonNoActive)
	}
	// Active without a plan is a corrupted write, never a grant.
	if merged.Plan == "" {
		return Deny(ReasonNoPlan)
	}

	if merged.BillingReference != "" && lookup != nil {
		if live := lookup(merged.BillingReference); live.Known {
			return fromLive(live.Status)
		}
	}

	return Decision{Granted: true, Reason: ReasonSessionBased, Basis: BasisSession}
}

// NeedsLookup reports whether Evaluate would consult the billing provider.
func NeedsLookup(merged Snapshot) bool {
	return merged.Status == subscription.StatusActive && merged.Plan != "" && merged.BillingReference != ""
}

func fromLive(status string) Decision {
	d := Decision{Basis: BasisBilling}
	switch status {
	case LiveActive:
		d.Granted = true
		d.Reason = ReasonConfirmed
	case LivePastDue:
		d.Reason = ReasonPaymentFailed
	case LiveCanceled:
		d.Reason = ReasonCanceled
	case LiveUnpaid:
		d.Reason = ReasonUnpaid
	default:
		d.Reason = reasonStatusPrefix + status
	}
	return d
}
