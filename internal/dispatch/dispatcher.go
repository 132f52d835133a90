// Package dispatch sends outbound message batches under the messaging
// provider's per-second ceiling. Messages drain in fixed-size windows
// dispatched concurrently, with at least one rate-limit interval between
// window starts; each message carries its own retry loop. Delivery is
// per-message best effort with complete accounting, never all-or-nothing.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
	"github.com/ahandley/textline/internal/retry"
)

const (
	// DefaultWindowSize stays under a 100 msg/s provider ceiling.
	DefaultWindowSize = 80

	// DefaultInterval is the rate-limit window between dispatches.
	DefaultInterval = time.Second
)

// Receipt records one delivered message.
type Receipt struct {
	To        string `json:"to"`
	MessageID string `json:"message_id"`
}

// Failure records one message that exhausted its retries.
type Failure struct {
	To    string `json:"to"`
	Error string `json:"error"`
}

// BatchResult is the complete accounting for one batch.
type BatchResult struct {
	Success []Receipt `json:"success"`
	Failed  []Failure `json:"failed"`
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Retried int64 `json:"retried"`
	Windows int64 `json:"windows"`
}

// Dispatcher sends batches through a Messenger.
type Dispatcher struct {
	messenger  ports.Messenger
	windowSize int
	limiter    *rate.Limiter
	policy     *retry.Policy
	logger     *slog.Logger

	sent    atomic.Int64
	failed  atomic.Int64
	retried atomic.Int64
	windows atomic.Int64
}

// Options configures a Dispatcher.
type Options struct {
	Messenger  ports.Messenger
	WindowSize int           // defaults to DefaultWindowSize
	Interval   time.Duration // defaults to DefaultInterval
	Policy     *retry.Policy // defaults to retry.Default()
	Logger     *slog.Logger
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Messenger == nil {
		return nil, errors.New("dispatch: messenger required")
	}
	windowSize := opts.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	policy := opts.Policy
	if policy == nil {
		policy = retry.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		messenger:  opts.Messenger,
		windowSize: windowSize,
		// Burst 1: the first window starts immediately, every later
		// window waits out the full interval.
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		policy:  policy,
		logger:  logger,
	}, nil
}

// SendBatch delivers messages and returns the outcome of every one.
// The only error return is context cancellation mid-batch; provider
// failures land in the result's Failed list instead.
func (d *Dispatcher) SendBatch(ctx context.Context, messages []domain.OutboundMessage) (*BatchResult, error) {
	d.logger.Info("batch send start", slog.Int("total_messages", len(messages)))

	result := &BatchResult{}
	var mu sync.Mutex

	for start := 0; start < len(messages); start += d.windowSize {
		if err := d.limiter.Wait(ctx); err != nil {
			return result, err
		}

		end := start + d.windowSize
		if end > len(messages) {
			end = len(messages)
		}
		window := messages[start:end]
		d.windows.Add(1)

		var wg sync.WaitGroup
		for i := range window {
			msg := window[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := d.sendWithRetry(ctx, &msg)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					d.failed.Add(1)
					result.Failed = append(result.Failed, Failure{To: msg.To, Error: err.Error()})
					return
				}
				d.sent.Add(1)
				result.Success = append(result.Success, Receipt{To: msg.To, MessageID: id})
			}()
		}
		wg.Wait()
	}

	d.logger.Info("batch send complete",
		slog.Int("sent", len(result.Success)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	var messageID string
	attempt := 0
	err := d.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		id, err := d.messenger.Send(ctx, msg)
		if err != nil {
			d.logger.Warn("message send failed",
				slog.String("to", msg.To),
				slog.String("correlation_id", msg.CorrelationID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		messageID = id
		return nil
	})
	if err != nil {
		d.logger.Error("message send exhausted retries",
			slog.String("to", msg.To),
			slog.String("correlation_id", msg.CorrelationID),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	if attempt > 1 {
		d.retried.Add(1)
	}
	return messageID, nil
}

// Stats returns cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Retried: d.retried.Load(),
		Windows: d.windows.Load(),
	}
}
