// Package state provides the hybrid conversation-state manager: reads
// and writes go to a short-TTL cache first, with durable persistence
// applied asynchronously by a background worker. The cache is the
// source of truth for active conversations; the durable store exists
// for cold recovery and audit.
package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

const (
	// DefaultTTL is the cache lifetime of a state entry.
	DefaultTTL = 5 * time.Minute

	// DefaultQueueSize bounds the persistence queue. When the queue is
	// full, UpdateState blocks until the worker drains a slot; blocking
	// the producer was chosen over dropping because a dropped record
	// would silently widen the staleness window past recovery.
	DefaultQueueSize = 1024

	// DefaultErrBackoff is the pause after a failed persistence attempt.
	DefaultErrBackoff = time.Second
)

type taskAction string

const (
	actionPersist taskAction = "persist"
	actionDelete  taskAction = "delete"
)

type persistTask struct {
	action taskAction
	key    domain.OwnerKey
	state  *domain.ConversationState
}

// Manager implements cache-first conversation state with background
// durable persistence.
type Manager struct {
	cache   ports.Cache
	store   ports.StateStore
	ttl     time.Duration
	backoff time.Duration
	logger  *slog.Logger

	tasks chan persistTask
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// Options configures a Manager.
type Options struct {
	Cache     ports.Cache
	Store     ports.StateStore
	TTL       time.Duration // defaults to DefaultTTL
	QueueSize int           // defaults to DefaultQueueSize

	// ErrBackoff is the worker's pause after a failed persistence
	// attempt. Defaults to DefaultErrBackoff.
	ErrBackoff time.Duration

	Logger *slog.Logger
}

// New creates a Manager. Call Start before the first UpdateState.
func New(opts Options) (*Manager, error) {
	if opts.Cache == nil || opts.Store == nil {
		return nil, errors.New("state: cache and store required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	backoff := opts.ErrBackoff
	if backoff <= 0 {
		backoff = DefaultErrBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cache:   opts.Cache,
		store:   opts.Store,
		ttl:     ttl,
		backoff: backoff,
		logger:  logger,
		tasks:   make(chan persistTask, size),
	}, nil
}

// GetState returns the conversation state for key, or nil if it exists
// in neither tier. Cache hits are authoritative within the TTL; on a
// miss the durable copy is loaded and the cache repopulated.
func (m *Manager) GetState(ctx context.Context, key domain.OwnerKey) (*domain.ConversationState, error) {
	cached, err := m.cache.Get(ctx, key.String())
	if err == nil {
		state, derr := domain.UnmarshalState(cached)
		if derr != nil {
			return nil, domain.NewError(domain.KindPersistence, "state.get", "decode cached state", derr)
		}
		return state, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}

	m.logger.Debug("state cache miss", slog.String("owner_key", key.String()))

	state, err := m.store.Load(ctx, key)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if data, merr := state.Marshal(); merr == nil {
		if cerr := m.cache.Set(ctx, key.String(), data, m.ttl); cerr != nil {
			// Repopulation failure is not fatal; the next read pays
			// another durable load.
			m.logger.Warn("cache repopulation failed",
				slog.String("owner_key", key.String()),
				slog.String("error", cerr.Error()),
			)
		}
	}
	return state, nil
}

// UpdateState writes the state to the cache synchronously and enqueues
// the durable write. The caller observes success as soon as the cache
// write completes; the durable copy may trail by up to one drain cycle.
func (m *Manager) UpdateState(ctx context.Context, state *domain.ConversationState) error {
	if state.LastActivityAt.IsZero() {
		state.LastActivityAt = time.Now().UTC()
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = state.LastActivityAt
	}

	data, err := state.Marshal()
	if err != nil {
		return domain.NewError(domain.KindPersistence, "state.update", "encode state", err)
	}
	if err := m.cache.Set(ctx, state.OwnerKey.String(), data, m.ttl); err != nil {
		return err
	}

	// Snapshot for the worker comes from the bytes just written to the
	// cache. A struct copy would still share FlowData with the caller,
	// who is free to mutate it after we return.
	queued, err := domain.UnmarshalState(data)
	if err != nil {
		return domain.NewError(domain.KindPersistence, "state.update", "snapshot state", err)
	}
	return m.enqueue(ctx, persistTask{action: actionPersist, key: state.OwnerKey, state: queued})
}

// DeleteState removes the state from the cache synchronously and
// enqueues the durable delete.
func (m *Manager) DeleteState(ctx context.Context, key domain.OwnerKey) error {
	if err := m.cache.Delete(ctx, key.String()); err != nil {
		return err
	}
	return m.enqueue(ctx, persistTask{action: actionDelete, key: key})
}

func (m *Manager) enqueue(ctx context.Context, task persistTask) error {
	select {
	case m.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the background persistence worker. The worker runs
// until Stop is called, logging and backing off on individual failures
// but never exiting on them.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run(ctx)
	})
}

// Stop closes the queue and waits for the worker to drain it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.tasks)
		m.wg.Wait()
	})
}

// QueueDepth reports the number of pending persistence tasks.
func (m *Manager) QueueDepth() int {
	return len(m.tasks)
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("state persistence worker started")

	for task := range m.tasks {
		var err error
		switch task.action {
		case actionPersist:
			err = m.store.Upsert(ctx, task.state)
		case actionDelete:
			err = m.store.Delete(ctx, task.key)
		}
		if err != nil {
			// A single record's failure must not stop the worker.
			m.logger.Error("state persistence failed",
				slog.String("action", string(task.action)),
				slog.String("owner_key", task.key.String()),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(m.backoff):
			case <-ctx.Done():
			}
			continue
		}
		m.logger.Debug("state persisted",
			slog.String("action", string(task.action)),
			slog.String("owner_key", task.key.String()),
		)
	}

	m.logger.Info("state persistence worker stopped")
}
