// Package server exposes the HTTP surface: the provider webhook, the
// announcement endpoint, health and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wires the router and owns the listener.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

// Options configures the Server.
type Options struct {
	Port            int
	Webhook         *WebhookHandler
	Announcements   *AnnouncementHandler // optional
	MetricsGatherer prometheus.Gatherer  // optional, /metrics omitted when nil
	RequestTimeout  time.Duration        // defaults to 30s
	Logger          *slog.Logger
}

// New builds the router with the standard middleware chain.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "textline")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	if opts.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.MetricsGatherer, promhttp.HandlerOpts{}))
	}
	if opts.Webhook != nil {
		r.Post("/webhooks/sms", opts.Webhook.ServeHTTP)
	}
	if opts.Announcements != nil {
		r.Post("/v1/announcements", opts.Announcements.ServeHTTP)
	}

	return &Server{
		Router: r,
		Port:   opts.Port,
		logger: logger,
		http:   &http.Server{Addr: fmt.Sprintf(":%d", opts.Port), Handler: r},
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
