// Package store defines the identity-store contract shared by the memory and
// MongoDB backends.
package store

import (
	"context"

	"github.com/ivylab/ivylab/subscription"
)

// Store is the unified storage interface for user records.
type Store interface {
	subscription.Store

	// CreateRecord inserts a new record. It fails with ivylab.ErrAlreadyExists
	// when the user already has one.
	CreateRecord(ctx context.Context, r *subscription.Record) error

	// FindLegacyByEmail returns the legacy record whose email matches,
	// ignoring case. Records created by token sign-in or by migration are
	// never returned.
	FindLegacyByEmail(ctx context.Context, email string) (*subscription.Record, error)

	// FindByBillingReference returns the record holding the given provider
	// subscription ID.
	FindByBillingReference(ctx context.Context, ref string) (*subscription.Record, error)

	// MarkMigrated claims a legacy record for newUserID. It fails with
	// ErrAlreadyMigrated when another user already claimed it.
	MarkMigrated(ctx context.Context, legacyUserID, newUserID string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
