// Package runtime assembles the resilience components into a running
// process: cache, durable store, event bus, state manager, gated
// gateway, dispatcher, pipeline, workflows and the HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahandley/textline/internal/config"
	"github.com/ahandley/textline/internal/dispatch"
	"github.com/ahandley/textline/internal/eventbus"
	"github.com/ahandley/textline/internal/gateway"
	"github.com/ahandley/textline/internal/metrics"
	"github.com/ahandley/textline/internal/pipeline"
	"github.com/ahandley/textline/internal/ports"
	"github.com/ahandley/textline/internal/retry"
	"github.com/ahandley/textline/internal/server"
	"github.com/ahandley/textline/internal/state"
	"github.com/ahandley/textline/internal/telemetry"
	"github.com/ahandley/textline/internal/workflow"
)

// CacheQueue is the combined hot-tier surface: the same backend serves
// cache entries and the event queues.
type CacheQueue interface {
	ports.Cache
	ports.Queue
}

// App owns the wired components and their lifecycle.
type App struct {
	// Dependencies (injected via options)
	cfg       *config.Config
	cache     CacheQueue
	store     ports.StateStore
	audit     ports.CrisisAuditStore
	generator ports.Generator
	messenger ports.Messenger
	blobs     ports.BlobStore
	resolver  server.OwnerResolver
	logger    *slog.Logger

	// Wired components
	manager    *state.Manager
	bus        *eventbus.Bus
	gateway    *gateway.Gateway
	dispatcher *dispatch.Dispatcher
	scheduler  *dispatch.Scheduler
	pipeline   *pipeline.Pipeline
	extractor  *workflow.Extractor
	metrics    *metrics.Metrics
	server     *server.Server

	shutdownTracer func(context.Context) error
	cancel         context.CancelFunc
	mu             sync.Mutex
}

// New creates an App from the given options and wires the component
// graph. Start must be called before the app serves traffic.
func New(opts ...Option) (*App, error) {
	a := &App{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if a.cfg == nil {
		return nil, fmt.Errorf("config required (use WithConfig)")
	}
	if a.cache == nil {
		return nil, fmt.Errorf("cache required (use WithBadgerCache or WithMemoryCache)")
	}
	if a.store == nil {
		return nil, fmt.Errorf("state store required (use WithSQLiteStore)")
	}
	if a.generator == nil {
		return nil, fmt.Errorf("generator required (use WithOpenAI or WithGenerator)")
	}
	if a.messenger == nil {
		return nil, fmt.Errorf("messenger required (use WithTwilio or WithMessenger)")
	}

	if err := a.wire(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	var err error

	a.manager, err = state.New(state.Options{
		Cache:     a.cache,
		Store:     a.store,
		TTL:       a.cfg.State.TTL,
		QueueSize: a.cfg.State.QueueSize,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("wire state manager: %w", err)
	}

	a.bus, err = eventbus.New(eventbus.Options{
		Cache:     a.cache,
		Queue:     a.cache,
		Retention: a.cfg.EventBus.Retention,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("wire event bus: %w", err)
	}

	a.gateway, err = gateway.New(gateway.Options{
		Generator:     a.generator,
		MaxConcurrent: a.cfg.Gateway.MaxConcurrent,
		MaxRetries:    a.cfg.Gateway.MaxRetries,
		CallTimeout:   a.cfg.Gateway.CallTimeout,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("wire gateway: %w", err)
	}

	policy := retry.Default()
	if a.cfg.Dispatch.RetryAttempts > 0 {
		policy.MaxAttempts = a.cfg.Dispatch.RetryAttempts
	}
	a.dispatcher, err = dispatch.New(dispatch.Options{
		Messenger:  a.messenger,
		WindowSize: a.cfg.Dispatch.WindowSize,
		Interval:   a.cfg.Dispatch.Interval,
		Policy:     policy,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("wire dispatcher: %w", err)
	}
	a.scheduler = dispatch.NewScheduler(a.dispatcher, 0, time.Second, a.logger)

	a.metrics = metrics.New()
	a.metrics.ObserveGateway(a.gateway)
	a.metrics.ObserveStateManager(a.manager)
	a.metrics.ObserveDispatcher(a.dispatcher)

	a.pipeline, err = pipeline.New(pipeline.Options{
		States:        a.manager,
		Caller:        a.gateway,
		Messenger:     a.messenger,
		Bus:           a.bus,
		Audit:         a.audit,
		HotlineNumber: a.cfg.Safety.HotlineNumber,
		OnRiskMatch:   a.metrics.RiskMatchCounter(),
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("wire pipeline: %w", err)
	}

	if a.blobs != nil {
		a.extractor, err = workflow.NewExtractor(workflow.ExtractorOptions{
			Blobs:     a.blobs,
			Caller:    a.gateway,
			States:    a.manager,
			Messenger: a.messenger,
			Logger:    a.logger,
		})
		if err != nil {
			return fmt.Errorf("wire extractor: %w", err)
		}
	} else {
		a.logger.Info("no blob store configured, media extraction disabled")
	}

	a.server = server.New(server.Options{
		Port:            a.cfg.Server.Port,
		Webhook:         server.NewWebhookHandler(a.pipeline, a.extractor, a.resolver, a.logger),
		Announcements:   server.NewAnnouncementHandler(a.scheduler, a.logger),
		MetricsGatherer: a.metrics.Registry,
		Logger:          a.logger,
	})
	return nil
}

// Start launches the background workers and serves HTTP until Stop or
// a listener error.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	ctx, a.cancel = context.WithCancel(ctx)

	shutdown, err := telemetry.InitTracer("textline", a.logger)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdownTracer = shutdown

	a.manager.Start(ctx)
	a.mu.Unlock()

	a.logger.Info("textline starting", slog.Int("port", a.cfg.Server.Port))
	return a.server.Start()
}

// Stop drains HTTP, flushes the persistence queue and closes the
// stores.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("server shutdown", slog.String("error", err.Error()))
	}

	// Stop the worker only after HTTP drained so late requests still
	// enqueue their persistence tasks.
	a.manager.Stop()

	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown", slog.String("error", err.Error()))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("store close", slog.String("error", err.Error()))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("cache close", slog.String("error", err.Error()))
	}

	a.logger.Info("textline stopped")
	return nil
}

// Pipeline exposes the wired pipeline for embedding scenarios.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Gateway exposes the wired gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Router exposes the HTTP router for embedding scenarios.
func (a *App) Router() *server.Server { return a.server }
