// Package gateway bounds calls to the external generation provider: a
// weighted semaphore caps aggregate concurrency under the provider's
// ceiling, and a per-owner retry budget keeps one failing caller from
// exhausting the shared pool for everyone else.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

const (
	// DefaultMaxConcurrent is the concurrency slot count.
	DefaultMaxConcurrent = 5

	// DefaultMaxRetries is the per-owner consecutive-failure ceiling.
	DefaultMaxRetries = 3

	// DefaultCallTimeout is the fixed deadline on each provider call.
	DefaultCallTimeout = 30 * time.Second
)

// Gateway wraps a Generator with concurrency gating and retry budgets.
type Gateway struct {
	generator   ports.Generator
	sem         *semaphore.Weighted
	slots       int64
	maxRetries  int
	callTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	budgets map[string]int // owner key -> consecutive failures

	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	queued     atomic.Int64
	inFlight   atomic.Int64
}

// Options configures a Gateway.
type Options struct {
	Generator     ports.Generator
	MaxConcurrent int           // defaults to DefaultMaxConcurrent
	MaxRetries    int           // defaults to DefaultMaxRetries
	CallTimeout   time.Duration // defaults to DefaultCallTimeout
	Logger        *slog.Logger
}

// Metrics is a point-in-time utilization snapshot.
type Metrics struct {
	Total          int64 `json:"total"`
	Successful     int64 `json:"successful"`
	Failed         int64 `json:"failed"`
	Queued         int64 `json:"queued"`
	AvailableSlots int64 `json:"available_slots"`
}

// New creates a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Generator == nil {
		return nil, errors.New("gateway: generator required")
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		generator:   opts.Generator,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		slots:       int64(maxConcurrent),
		maxRetries:  maxRetries,
		callTimeout: timeout,
		logger:      logger,
		budgets:     make(map[string]int),
	}, nil
}

// Call runs one generation request for owner. The retry budget is
// checked before a slot is consumed so an exhausted owner fails fast
// without touching the pool. Success resets the owner's budget; a
// failure increments it and propagates.
func (g *Gateway) Call(ctx context.Context, owner domain.OwnerKey, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	ownerID := owner.String()

	if used := g.budgetUsed(ownerID); used >= g.maxRetries {
		g.logger.Warn("retry budget exhausted",
			slog.String("owner_key", ownerID),
			slog.Int("failures", used),
		)
		return nil, domain.NewError(domain.KindCapacity, "gateway.call",
			fmt.Sprintf("maximum %d attempts reached", g.maxRetries), nil)
	}

	g.queued.Add(1)
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.queued.Add(-1)
		return nil, domain.NewError(domain.KindCapacity, "gateway.call", "slot acquisition aborted", err)
	}
	g.queued.Add(-1)
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
	}()

	g.total.Add(1)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	result, err := g.generator.Generate(callCtx, req)
	if err != nil {
		g.failed.Add(1)
		failures := g.recordFailure(ownerID)

		kind := domain.KindProvider
		msg := "provider call failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = domain.KindTimeout
			msg = fmt.Sprintf("provider call timed out after %s", g.callTimeout)
		}

		g.logger.Error("generation call failed",
			slog.String("owner_key", ownerID),
			slog.String("kind", string(kind)),
			slog.Int("consecutive_failures", failures),
			slog.String("error", err.Error()),
		)
		return nil, domain.NewError(kind, "gateway.call", msg, err)
	}

	g.successful.Add(1)
	g.resetBudget(ownerID)
	result.Latency = time.Since(start)

	g.logger.Info("generation call succeeded",
		slog.String("owner_key", ownerID),
		slog.Int("tokens_used", result.TokensUsed),
		slog.Duration("latency", result.Latency),
	)
	return result, nil
}

// Metrics returns a utilization snapshot.
func (g *Gateway) Metrics() Metrics {
	return Metrics{
		Total:          g.total.Load(),
		Successful:     g.successful.Load(),
		Failed:         g.failed.Load(),
		Queued:         g.queued.Load(),
		AvailableSlots: g.slots - g.inFlight.Load(),
	}
}

func (g *Gateway) budgetUsed(owner string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budgets[owner]
}

func (g *Gateway) recordFailure(owner string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgets[owner]++
	return g.budgets[owner]
}

func (g *Gateway) resetBudget(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgets[owner] = 0
}
