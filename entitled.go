package ivylab

import (
	"context"
	"errors"

	"github.com/ivylab/ivylab/entitlement"
)

// Entitled decides whether userID may use paid functionality. cache is the
// subscription snapshot held in the caller's session and may be empty.
//
// Entitled never fails. An unreachable identity store is treated as holding
// no record and an unreachable billing provider falls back to a
// session-based grant. Malformed stored data and unexpected faults deny.
func (e *Engine) Entitled(ctx context.Context, userID string, cache entitlement.Snapshot) (d entitlement.Decision) {
	if userID == "" {
		return entitlement.Deny(entitlement.ReasonNoIdentity)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("entitlement check panicked",
				"user_id", userID,
				"panic", r,
			)
			d = entitlement.Deny(entitlement.ReasonCheckFailed)
		}
		e.plugins.EmitEntitlementChecked(ctx, userID, d)
	}()

	stored, err := e.storedSnapshot(ctx, userID)
	if err != nil {
		e.logger.Error("stored record is malformed",
			"user_id", userID,
			"error", err,
		)
		return entitlement.Deny(entitlement.ReasonCheckFailed)
	}

	merged := entitlement.Merge(stored, cache)
	d = entitlement.Evaluate(merged, e.lookup(ctx, userID))

	e.logger.Debug("entitlement resolved",
		"user_id", userID,
		"granted", d.Granted,
		"reason", d.Reason,
		"basis", d.Basis,
	)
	return d
}

// storedSnapshot reads the identity record. Only a malformed record is an
// error; a missing record or an unavailable store yields the empty snapshot.
func (e *Engine) storedSnapshot(ctx context.Context, userID string) (entitlement.Snapshot, error) {
	rec, err := e.store.GetRecord(ctx, userID)
	switch {
	case err == nil:
		return entitlement.SnapshotOf(rec), nil
	case errors.Is(err, ErrMalformedRecord):
		return entitlement.Snapshot{}, err
	case IsNotFound(err):
		return entitlement.Snapshot{}, nil
	default:
		e.logger.Warn("identity store unavailable, using session snapshot",
			"user_id", userID,
			"error", err,
		)
		return entitlement.Snapshot{}, nil
	}
}

// lookup returns the live-status function used by entitlement.Evaluate. It
// returns nil without a billing provider.
func (e *Engine) lookup(ctx context.Context, userID string) entitlement.Lookup {
	if e.billing == nil {
		return nil
	}

	return func(ref string) entitlement.LiveStatus {
		ctx, cancel := context.WithTimeout(ctx, e.billingTimeout)
		defer cancel()

		sub, err := e.billing.GetSubscription(ctx, ref)
		if err != nil {
			e.logger.Warn("billing lookup failed, falling back to session",
				"user_id", userID,
				"billing_reference", ref,
				"error", err,
			)
			return entitlement.Unknown
		}
		return entitlement.LiveStatus{Status: sub.Status, Known: true}
	}
}
