package ivylab

import (
	"context"
	"fmt"

	"github.com/ivylab/ivylab/subscription"
)

// ApplyLifecycle upsert-merges d into the record of userID. Fields left zero
// in d keep their stored values. Concurrent calls for the same user are not
// serialized; the last write wins.
func (e *Engine) ApplyLifecycle(ctx context.Context, userID string, d subscription.Delta) error {
	if userID == "" {
		return ErrNoIdentity
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := e.store.MergeRecord(ctx, userID, d); err != nil {
		e.logger.Error("failed to merge subscription record",
			"user_id", userID,
			"status", d.Status,
			"error", err,
		)
		return fmt.Errorf("ivylab: merge record %s: %w", userID, err)
	}

	e.logger.Info("subscription record updated",
		"user_id", userID,
		"status", d.Status,
		"plan", d.Plan,
	)
	e.plugins.EmitRecordMerged(ctx, userID, d)
	return nil
}

// Record returns the stored record of userID.
func (e *Engine) Record(ctx context.Context, userID string) (*subscription.Record, error) {
	if userID == "" {
		return nil, ErrNoIdentity
	}
	return e.store.GetRecord(ctx, userID)
}
