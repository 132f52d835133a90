// Package ports defines the interfaces between the resilience core and
// its external collaborators. Adapters under internal/cache,
// internal/storage, internal/provider, internal/messenger and
// internal/blob implement them.
package ports

import (
	"context"
	"time"

	"github.com/ahandley/textline/internal/domain"
)

// ErrNotFound is returned by Cache.Get and StateStore.Load when a key is
// absent. Adapters must return this exact sentinel so callers can
// distinguish a miss from a store failure.
var ErrNotFound = domain.NewError(domain.KindPersistence, "ports", "not found", nil)

// Cache is a key/value store with expiry, backing both the state
// manager's hot tier and the event bus's dedup keys.
// Implementations: badger (default), memory (tests).
type Cache interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A zero TTL means
	// no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX atomically stores value only if key is absent. Returns true
	// if the value was stored, false if the key already existed. The
	// check and the write must be a single atomic operation.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Queue is a named FIFO queue with blocking consumption, backing the
// event bus's per-type delivery queues.
type Queue interface {
	// Push appends value to the named queue.
	Push(ctx context.Context, queue string, value []byte) error

	// Pop removes and returns the oldest value from the named queue,
	// waiting up to timeout. Returns ErrNotFound if the wait elapses
	// with the queue still empty.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
}

// StateStore is the durable home of conversation state.
// Implementations: sqlite (default), memory (tests).
type StateStore interface {
	// Load returns the stored state for key, or ErrNotFound.
	Load(ctx context.Context, key domain.OwnerKey) (*domain.ConversationState, error)

	// Upsert inserts or updates the state for its owner key.
	Upsert(ctx context.Context, state *domain.ConversationState) error

	// Delete removes the state for key. Absent keys are not an error.
	Delete(ctx context.Context, key domain.OwnerKey) error

	Close() error
}

// CrisisAuditStore persists risk findings for compliance review.
type CrisisAuditStore interface {
	RecordCrisisEvent(ctx context.Context, rec *CrisisEventRecord) error
}

// CrisisEventRecord is one audited risk match.
type CrisisEventRecord struct {
	ID              string
	OwnerKey        domain.OwnerKey
	Category        domain.RiskCategory
	MatchedTerms    []string
	Confidence      float64
	HotlineProvided bool
	CorrelationID   string
	CreatedAt       time.Time
}

// Generator is the black-box text-generation capability.
// Implementations: openai (default), fakes in tests.
type Generator interface {
	Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error)
}

// Messenger sends a single outbound message and returns the provider's
// message ID. Implementations: twilio (default), memory (tests).
type Messenger interface {
	Send(ctx context.Context, msg *domain.OutboundMessage) (string, error)
}

// BlobStore stores opaque assets (inbound media) for workflows.
// Implementations: gcs (default), memory (tests).
type BlobStore interface {
	// Upload stores data at path and returns a stable URL.
	Upload(ctx context.Context, data []byte, path string) (string, error)

	// Delete removes the asset previously returned by Upload.
	Delete(ctx context.Context, url string) error
}

// EventBus is the idempotent event surface exposed to the rest of the
// process.
type EventBus interface {
	// Emit queues event unless its ID was already seen within the
	// retention window. Returns true if newly queued, false on a
	// duplicate. A store outage is an error, never a silent drop.
	Emit(ctx context.Context, event *domain.Event) (bool, error)

	// Consume pops the next event of the given type, waiting up to
	// timeout. Returns nil with no error on timeout.
	Consume(ctx context.Context, eventType string, timeout time.Duration) (*domain.Event, error)
}
