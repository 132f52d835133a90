// Package badger provides a BadgerDB-backed Cache and Queue. Badger
// gives low-latency embedded storage with native TTL support, which
// covers both the state manager's hot tier and the event bus's dedup
// keys without an external cache server.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

// pollInterval is how often a blocked Pop re-checks its queue.
const pollInterval = 50 * time.Millisecond

// Store implements ports.Cache and ports.Queue on a single Badger DB.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

var (
	_ ports.Cache = (*Store)(nil)
	_ ports.Queue = (*Store)(nil)
)

// Options configures a Store.
type Options struct {
	// Path is the Badger directory. Empty selects in-memory mode.
	Path string

	// Logger receives store-level logs. Badger's own chatty logger is
	// always disabled.
	Logger *slog.Logger
}

// New opens (or creates) the Badger database.
func New(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, "cache.open", "open badger", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		seqs:   make(map[string]*badger.Sequence),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, "cache.get", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return domain.NewError(domain.KindUnavailable, "cache.set", key, err)
	}
	return nil
}

// SetNX relies on Badger's serializable transactions: the read of the
// absent key conflicts with any concurrent writer of the same key, so
// exactly one of two racing emitters commits.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	set := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil // already present
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		set = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent writer won the race; the key exists now.
		return false, nil
	}
	if err != nil {
		return false, domain.NewError(domain.KindUnavailable, "cache.setnx", key, err)
	}
	return set, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return domain.NewError(domain.KindUnavailable, "cache.delete", key, err)
	}
	return nil
}

// Push appends value to the named queue. Entries are keyed by a
// monotonic sequence so iteration order is insertion order.
func (s *Store) Push(ctx context.Context, queue string, value []byte) error {
	seq, err := s.sequence(queue)
	if err != nil {
		return err
	}
	n, err := seq.Next()
	if err != nil {
		return domain.NewError(domain.KindUnavailable, "queue.push", queue, err)
	}

	key := queueKey(queue, n)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return domain.NewError(domain.KindUnavailable, "queue.push", queue, err)
	}
	return nil
}

// Pop removes the oldest entry of the named queue, polling until the
// timeout elapses. Badger has no blocking read, so bounded polling
// stands in for BRPOP-style waits.
func (s *Store) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		value, ok, err := s.tryPop(queue)
		if err != nil {
			return nil, err
		}
		if ok {
			return value, nil
		}
		if time.Now().After(deadline) {
			return nil, ports.ErrNotFound
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) tryPop(queue string) ([]byte, bool, error) {
	var value []byte
	found := false

	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte("q:" + queue + ":")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		key := item.KeyCopy(nil)
		if err := txn.Delete(key); err != nil {
			return err
		}
		value = v
		found = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// Another consumer took the head entry; treat as empty and let
		// the caller poll again.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.NewError(domain.KindUnavailable, "queue.pop", queue, err)
	}
	return value, found, nil
}

func (s *Store) sequence(queue string) (*badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.seqs[queue]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte("seq:"+queue), 64)
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, "queue.seq", queue, err)
	}
	s.seqs[queue] = seq
	return seq, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	for _, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.logger.Warn("sequence release failed", slog.String("error", err.Error()))
		}
	}
	s.mu.Unlock()
	return s.db.Close()
}

func queueKey(queue string, n uint64) []byte {
	prefix := "q:" + queue + ":"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], n)
	return key
}
