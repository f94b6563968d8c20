package ivylab_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/subscription"
	"github.com/ivylab/ivylab/types"
)

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("first sign-in creates record", func(t *testing.T) {
		f := newFixture(t)
		rec, err := f.engine.Login(ctx, ivylab.Profile{UID: "fb1", Email: "ada@example.com"})
		if err != nil {
			t.Fatal(err)
		}
		if rec.UserID != "fb1" || rec.FirebaseUID != "fb1" || rec.Name != "ada" {
			t.Errorf("record = %+v", rec)
		}
		if rec.HasSubscription() {
			t.Error("new record should carry no subscription")
		}
		if _, err := f.engine.Record(ctx, "fb1"); err != nil {
			t.Errorf("record not persisted: %v", err)
		}
	})

	t.Run("existing record is returned", func(t *testing.T) {
		f := newFixture(t)
		f.putRecord(t, &subscription.Record{
			UserID: "fb1", Email: "ada@example.com",
			Status: subscription.StatusActive, Plan: plan.Monthly,
		})
		rec, err := f.engine.Login(ctx, ivylab.Profile{UID: "fb1", Email: "ada@example.com", DisplayName: "Ada"})
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != subscription.StatusActive || rec.Plan != plan.Monthly {
			t.Errorf("record = %+v", rec)
		}
	})

	t.Run("store down", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailWith(errors.New("connection refused"))
		_, err := f.engine.Login(ctx, ivylab.Profile{UID: "fb1"})
		if !errors.Is(err, ivylab.ErrStoreUnavailable) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("no uid", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.Login(ctx, ivylab.Profile{Email: "ada@example.com"}); !errors.Is(err, ivylab.ErrNoIdentity) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestLegacyLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.putRecord(t, &subscription.Record{
		UserID: "legacy-1", Email: "Legacy@Example.com", Name: "Old Timer",
		Status: subscription.StatusActive, Plan: plan.Weekly,
	})

	tests := []struct {
		name    string
		email   string
		wantErr error
	}{
		{"allowlisted", " legacy@example.com ", nil},
		{"not allowlisted", "someone@example.com", ivylab.ErrNotLegacyAccount},
		{"empty", "", ivylab.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := f.engine.LegacyLogin(ctx, tt.email)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if rec.UserID != "legacy-1" || !rec.Legacy {
				t.Errorf("record = %+v", rec)
			}
		})
	}

	t.Run("allowlisted without record", func(t *testing.T) {
		g := newFixture(t)
		if _, err := g.engine.LegacyLogin(ctx, "legacy@example.com"); !ivylab.IsNotFound(err) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	legacy := func() *subscription.Record {
		return &subscription.Record{
			Entity:             types.Entity{CreatedAt: created, UpdatedAt: created},
			UserID:             "legacy-1",
			Email:              "legacy@example.com",
			Name:               "Old Timer",
			Status:             subscription.StatusActive,
			Plan:               plan.Monthly,
			StartDate:          created,
			BillingReference:   "sub_legacy",
			BillingCustomerRef: "cus_legacy",
		}
	}
	profile := ivylab.Profile{UID: "fb9", Email: "legacy@example.com"}

	t.Run("copies subscription", func(t *testing.T) {
		f := newFixture(t)
		f.putRecord(t, legacy())

		rec, err := f.engine.MigrateLegacy(ctx, "legacy-1", profile)
		if err != nil {
			t.Fatal(err)
		}
		if rec.UserID != "fb9" || rec.Name != "Old Timer" || rec.MigratedFrom != "legacy-1" {
			t.Errorf("record = %+v", rec)
		}
		if rec.Plan != plan.Monthly || rec.BillingReference != "sub_legacy" || !rec.CreatedAt.Equal(created) {
			t.Errorf("subscription not copied: %+v", rec)
		}

		old, _ := f.engine.Record(ctx, "legacy-1")
		if old.MigratedTo != "fb9" || old.MigrationStatus != subscription.MigrationCompleted {
			t.Errorf("legacy record = %+v", old)
		}
		if len(f.rec.migrated) != 1 || f.rec.migrated[0] != "legacy-1->fb9" {
			t.Errorf("migrated hooks = %v", f.rec.migrated)
		}
	})

	t.Run("verified account already exists", func(t *testing.T) {
		f := newFixture(t)
		f.putRecord(t, legacy())
		if _, err := f.engine.Login(ctx, ivylab.Profile{UID: "fb9", Email: "legacy@example.com", DisplayName: "New Name"}); err != nil {
			t.Fatal(err)
		}

		rec, err := f.engine.MigrateLegacy(ctx, "legacy-1", profile)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Name != "New Name" {
			t.Errorf("existing profile overwritten: %+v", rec)
		}
		if rec.Status != subscription.StatusActive || rec.BillingReference != "sub_legacy" {
			t.Errorf("subscription not carried over: %+v", rec)
		}
	})

	t.Run("migrates to one account only", func(t *testing.T) {
		f := newFixture(t)
		f.putRecord(t, legacy())

		if _, err := f.engine.MigrateLegacy(ctx, "legacy-1", profile); err != nil {
			t.Fatal(err)
		}
		// Retrying for the same account is harmless.
		if _, err := f.engine.MigrateLegacy(ctx, "legacy-1", profile); err != nil {
			t.Fatalf("repeat migration: %v", err)
		}

		other := ivylab.Profile{UID: "fbB", Email: "legacy@example.com"}
		if _, err := f.engine.MigrateLegacy(ctx, "legacy-1", other); !errors.Is(err, ivylab.ErrAlreadyMigrated) {
			t.Fatalf("err = %v, want ErrAlreadyMigrated", err)
		}
		if _, err := f.engine.Record(ctx, "fbB"); !ivylab.IsNotFound(err) {
			t.Errorf("second account got a record: %v", err)
		}
		if d := f.engine.Entitled(ctx, "fbB", ivylab.Snapshot{}); d.Granted {
			t.Errorf("second account entitled: %+v", d)
		}
		old, _ := f.engine.Record(ctx, "legacy-1")
		if old.MigratedTo != "fb9" {
			t.Errorf("legacy claim moved to %q", old.MigratedTo)
		}
	})

	t.Run("source is not a legacy record", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.Login(ctx, ivylab.Profile{UID: "fbA", Email: "legacy@example.com"}); err != nil {
			t.Fatal(err)
		}
		if err := f.engine.ApplyLifecycle(ctx, "fbA", subscription.Delta{Status: subscription.StatusActive, Plan: plan.Weekly}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.MigrateLegacy(ctx, "fbA", profile); !errors.Is(err, ivylab.ErrNotLegacyAccount) {
			t.Errorf("err = %v, want ErrNotLegacyAccount", err)
		}
	})

	t.Run("status marker without target", func(t *testing.T) {
		f := newFixture(t)
		r := legacy()
		r.MigrationStatus = subscription.MigrationCompleted
		f.putRecord(t, r)

		if _, err := f.engine.MigrateLegacy(ctx, "legacy-1", profile); !errors.Is(err, ivylab.ErrAlreadyMigrated) {
			t.Errorf("err = %v, want ErrAlreadyMigrated", err)
		}
	})

	t.Run("legacy record missing", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.MigrateLegacy(ctx, "legacy-1", profile); !ivylab.IsNotFound(err) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.engine.MigrateLegacy(ctx, "", profile); !errors.Is(err, ivylab.ErrInvalidInput) {
			t.Errorf("err = %v", err)
		}
	})
}
