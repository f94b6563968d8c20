// Package memory provides an in-process identity store for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/store"
	"github.com/ivylab/ivylab/subscription"
	"github.com/ivylab/ivylab/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps records in a map guarded by a RWMutex. Records are copied in
// and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*subscription.Record
	closed  bool

	// failWith, when set, is returned by every read and write.
	failWith error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*subscription.Record),
	}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Store) check() error {
	if s.closed {
		return ivylab.ErrStoreClosed
	}
	return s.failWith
}

func (s *Store) GetRecord(_ context.Context, userID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	if r, ok := s.records[userID]; ok {
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ivylab.ErrRecordNotFound, userID)
}

func (s *Store) MergeRecord(_ context.Context, userID string, d subscription.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}

	r, ok := s.records[userID]
	if !ok {
		r = &subscription.Record{Entity: types.NewEntity(), UserID: userID}
		s.records[userID] = r
	}
	d.Apply(r)
	return nil
}

func (s *Store) CreateRecord(_ context.Context, r *subscription.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	if _, exists := s.records[r.UserID]; exists {
		return ivylab.ErrAlreadyExists
	}

	cp := r.Clone()
	if cp.CreatedAt.IsZero() {
		cp.Entity = types.NewEntity()
	}
	s.records[r.UserID] = cp
	return nil
}

func (s *Store) FindLegacyByEmail(_ context.Context, email string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	for _, r := range s.records {
		if r.FirebaseUID == "" && r.MigratedFrom == "" && strings.EqualFold(r.Email, email) {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: email %s", ivylab.ErrRecordNotFound, email)
}

func (s *Store) FindByBillingReference(_ context.Context, ref string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, ivylab.ErrRecordNotFound
	}
	for _, r := range s.records {
		if r.BillingReference == ref {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: billing reference %s", ivylab.ErrRecordNotFound, ref)
}

func (s *Store) MarkMigrated(_ context.Context, legacyUserID, newUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	r, ok := s.records[legacyUserID]
	if !ok {
		return fmt.Errorf("%w: %s", ivylab.ErrRecordNotFound, legacyUserID)
	}
	if r.MigratedTo != "" && r.MigratedTo != newUserID {
		return fmt.Errorf("%w: %s", ivylab.ErrAlreadyMigrated, legacyUserID)
	}
	r.MigratedTo = newUserID
	r.MigrationStatus = subscription.MigrationCompleted
	r.Touch()
	return nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
