// Package eventbus deduplicates and queues domain events. Every event
// carries a caller-supplied idempotency key; within the retention window
// an event ID is delivered to its queue at most once.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

// DefaultRetention is how long a dedup key outlives its emission.
const DefaultRetention = 24 * time.Hour

// Bus implements ports.EventBus over a Cache (dedup keys) and a Queue
// (per-type delivery).
type Bus struct {
	cache     ports.Cache
	queue     ports.Queue
	retention time.Duration
	logger    *slog.Logger
}

var _ ports.EventBus = (*Bus)(nil)

// Options configures a Bus.
type Options struct {
	Cache     ports.Cache
	Queue     ports.Queue
	Retention time.Duration // defaults to DefaultRetention
	Logger    *slog.Logger
}

// New creates an event bus.
func New(opts Options) (*Bus, error) {
	if opts.Cache == nil || opts.Queue == nil {
		return nil, errors.New("eventbus: cache and queue required")
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{cache: opts.Cache, queue: opts.Queue, retention: retention, logger: logger}, nil
}

// Emit queues event unless its ID was seen within the retention window.
// The dedup mark and the queue push both happen; the mark is written
// first with a single atomic set-if-absent so two concurrent emitters
// of the same ID cannot both succeed. If the backing store is down the
// error propagates; silent loss would defeat the delivery guarantee.
func (b *Bus) Emit(ctx context.Context, event *domain.Event) (bool, error) {
	if event == nil || event.ID == "" {
		return false, errors.New("eventbus: event with id required")
	}

	set, err := b.cache.SetNX(ctx, dedupKey(event.ID), []byte("1"), b.retention)
	if err != nil {
		return false, domain.NewError(domain.KindUnavailable, "eventbus.emit", event.ID, err)
	}
	if !set {
		b.logger.Warn("duplicate event dropped",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.String("correlation_id", event.CorrelationID),
		)
		return false, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return false, domain.NewError(domain.KindUnavailable, "eventbus.emit", "encode event", err)
	}
	if err := b.queue.Push(ctx, queueName(event.Type), payload); err != nil {
		// The dedup mark is already written. Release it so a retry of
		// the same emission is not treated as a duplicate.
		if delErr := b.cache.Delete(ctx, dedupKey(event.ID)); delErr != nil {
			b.logger.Error("dedup key release failed after push error",
				slog.String("event_id", event.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return false, domain.NewError(domain.KindUnavailable, "eventbus.emit", event.ID, err)
	}

	b.logger.Info("event emitted",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("correlation_id", event.CorrelationID),
	)
	return true, nil
}

// Consume pops the next event of eventType, waiting up to timeout.
// Returns (nil, nil) when the wait elapses with nothing queued.
func (b *Bus) Consume(ctx context.Context, eventType string, timeout time.Duration) (*domain.Event, error) {
	payload, err := b.queue.Pop(ctx, queueName(eventType), timeout)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, "eventbus.consume", eventType, err)
	}

	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.NewError(domain.KindUnavailable, "eventbus.consume", "decode event", err)
	}
	return &event, nil
}

func dedupKey(id string) string {
	return "event:" + id
}

func queueName(eventType string) string {
	return "events:" + eventType
}
