// Package memory provides an in-memory Cache and Queue implementation
// for tests and single-process development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahandley/textline/internal/ports"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory implementation of ports.Cache and ports.Queue.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	queues  map[string][][]byte
	notify  chan struct{}
}

var (
	_ ports.Cache = (*Store)(nil)
	_ ports.Queue = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		queues:  make(map[string][][]byte),
		notify:  make(chan struct{}, 1),
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		delete(s.entries, key)
		return nil, ports.ErrNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = s.newEntry(value, ttl)
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !s.expired(e) {
		return false, nil
	}

	s.entries[key] = s.newEntry(value, ttl)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *Store) Push(ctx context.Context, queue string, value []byte) error {
	s.mu.Lock()
	v := make([]byte, len(value))
	copy(v, value)
	s.queues[queue] = append(s.queues[queue], v)
	s.mu.Unlock()

	// Wake one waiting consumer. Non-blocking: a pending signal is enough.
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Store) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if items := s.queues[queue]; len(items) > 0 {
			head := items[0]
			s.queues[queue] = items[1:]
			s.mu.Unlock()
			return head, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
			// Re-check; the signal may be for another queue.
		case <-deadline.C:
			return nil, ports.ErrNotFound
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) Close() error {
	return nil
}

// Expire removes key immediately. Test helper for simulating TTL lapse.
func (s *Store) Expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *Store) newEntry(value []byte, ttl time.Duration) entry {
	v := make([]byte, len(value))
	copy(v, value)
	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}
