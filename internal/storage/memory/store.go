// Package memory provides an in-memory StateStore and CrisisAuditStore
// for tests.
package memory

import (
	"context"
	"sync"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

// Store is an in-memory implementation of ports.StateStore and
// ports.CrisisAuditStore.
type Store struct {
	mu     sync.RWMutex
	states map[string]*domain.ConversationState
	crisis []*ports.CrisisEventRecord

	// FailUpserts makes every Upsert fail. Test hook for exercising the
	// state worker's error path.
	FailUpserts bool
}

var (
	_ ports.StateStore       = (*Store)(nil)
	_ ports.CrisisAuditStore = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{states: make(map[string]*domain.ConversationState)}
}

func (s *Store) Load(ctx context.Context, key domain.OwnerKey) (*domain.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[key.String()]
	if !ok {
		return nil, ports.ErrNotFound
	}
	clone := *state
	return &clone, nil
}

func (s *Store) Upsert(ctx context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpserts {
		return domain.NewError(domain.KindPersistence, "storage.upsert", "injected failure", nil)
	}
	clone := *state
	s.states[state.OwnerKey.String()] = &clone
	return nil
}

func (s *Store) Delete(ctx context.Context, key domain.OwnerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, key.String())
	return nil
}

func (s *Store) RecordCrisisEvent(ctx context.Context, rec *ports.CrisisEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.crisis = append(s.crisis, &clone)
	return nil
}

// CrisisEvents returns the recorded audit rows. Test helper.
func (s *Store) CrisisEvents() []*ports.CrisisEventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ports.CrisisEventRecord, len(s.crisis))
	copy(out, s.crisis)
	return out
}

// Len returns the number of stored states. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *Store) Close() error {
	return nil
}
