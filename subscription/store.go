package subscription

import "context"

// Store is the identity-store contract used by the entitlement resolver and
// the lifecycle mutator.
type Store interface {
	// GetRecord returns the record for userID, or an error satisfying
	// ivylab.IsNotFound when none exists.
	GetRecord(ctx context.Context, userID string) (*Record, error)

	// MergeRecord upserts d into the record for userID. Fields left empty in
	// d keep their stored values.
	MergeRecord(ctx context.Context, userID string, d Delta) error
}
