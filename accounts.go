package ivylab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ivylab/ivylab/subscription"
	"github.com/ivylab/ivylab/types"
)

// Profile identifies a verified user signing in.
type Profile struct {
	UID         string
	Email       string
	DisplayName string
}

func (p Profile) name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}

// Login returns the record of a verified user, creating an empty one on first
// sign-in. The returned record seeds the caller's session.
func (e *Engine) Login(ctx context.Context, p Profile) (*subscription.Record, error) {
	if p.UID == "" {
		return nil, ErrNoIdentity
	}

	rec, err := e.store.GetRecord(ctx, p.UID)
	if err == nil {
		return rec, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	rec = &subscription.Record{
		Entity:      types.NewEntity(),
		UserID:      p.UID,
		Email:       p.Email,
		Name:        p.name(),
		FirebaseUID: p.UID,
	}
	if err := e.store.CreateRecord(ctx, rec); err != nil {
		// Another request created it first.
		if errors.Is(err, ErrAlreadyExists) {
			return e.store.GetRecord(ctx, p.UID)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	e.logger.Info("user record created", "user_id", p.UID)
	return rec, nil
}

// IsLegacyEmail reports whether email may use legacy login.
func (e *Engine) IsLegacyEmail(email string) bool {
	return e.allowlist.Allowed(email)
}

// LegacyLogin signs in an allowlisted account by email alone. The record is
// returned with Legacy set so the caller can prompt for migration.
func (e *Engine) LegacyLogin(ctx context.Context, email string) (*subscription.Record, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ValidationError{Field: "email", Message: "email is required"}
	}
	if !e.allowlist.Allowed(email) {
		return nil, ErrNotLegacyAccount
	}

	rec, err := e.store.FindLegacyByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	rec.Legacy = true
	e.logger.Info("legacy login", "user_id", rec.UserID)
	return rec, nil
}

// MigrateLegacy copies the subscription of a legacy record onto the verified
// account p and marks the legacy record as migrated. It returns the new
// record. A legacy record migrates to one account only; repeating the
// migration for the same account is allowed, any other account gets
// ErrAlreadyMigrated.
func (e *Engine) MigrateLegacy(ctx context.Context, legacyUserID string, p Profile) (*subscription.Record, error) {
	if legacyUserID == "" || p.UID == "" || p.Email == "" {
		return nil, ValidationError{Field: "migration", Message: "missing required fields for migration"}
	}

	legacy, err := e.store.GetRecord(ctx, legacyUserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if legacy.FirebaseUID != "" || legacy.MigratedFrom != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotLegacyAccount, legacyUserID)
	}
	claimed := legacy.MigratedTo != "" || legacy.MigrationStatus == subscription.MigrationCompleted
	if claimed && legacy.MigratedTo != p.UID {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMigrated, legacyUserID)
	}
	// Claim before copying so concurrent migrations cannot both win.
	if err := e.store.MarkMigrated(ctx, legacyUserID, p.UID); err != nil {
		if errors.Is(err, ErrAlreadyMigrated) || IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("ivylab: mark %s migrated: %w", legacyUserID, err)
	}

	name := p.DisplayName
	if name == "" {
		name = legacy.DisplayName()
	}

	rec := &subscription.Record{
		Entity:             types.Entity{CreatedAt: legacy.CreatedAt, UpdatedAt: e.now()},
		UserID:             p.UID,
		Email:              p.Email,
		Name:               name,
		FirebaseUID:        p.UID,
		Status:             legacy.Status,
		Plan:               legacy.Plan,
		StartDate:          legacy.StartDate,
		BillingReference:   legacy.BillingReference,
		BillingCustomerRef: legacy.BillingCustomerRef,
		MigratedFrom:       legacyUserID,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		// The verified account already signed in once. Keep its profile and
		// carry over the subscription only.
		if legacy.HasSubscription() {
			if err := e.ApplyLifecycle(ctx, p.UID, subscription.Delta{
				Status:             legacy.Status,
				Plan:               legacy.Plan,
				StartDate:          legacy.StartDate,
				BillingReference:   legacy.BillingReference,
				BillingCustomerRef: legacy.BillingCustomerRef,
			}); err != nil {
				return nil, err
			}
		}
		if rec, err = e.store.GetRecord(ctx, p.UID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}

	e.logger.Info("legacy account migrated",
		"legacy_user_id", legacyUserID,
		"user_id", p.UID,
	)
	e.plugins.EmitLegacyMigrated(ctx, legacyUserID, p.UID)
	return rec, nil
}
