// Package metrics exposes the resilience components' counters to
// Prometheus. Components keep their own atomic counters; collectors
// here read them at scrape time instead of duplicating bookkeeping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahandley/textline/internal/dispatch"
	"github.com/ahandley/textline/internal/gateway"
	"github.com/ahandley/textline/internal/state"
)

// Metrics owns the process registry.
type Metrics struct {
	Registry *prometheus.Registry
}

// New creates a registry with the standard process and Go collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{Registry: reg}
}

// ObserveGateway registers collectors over the gateway's snapshot.
func (m *Metrics) ObserveGateway(g *gateway.Gateway) {
	factory := promauto.With(m.Registry)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_gateway_calls_total",
		Help: "Generation calls attempted.",
	}, func() float64 { return float64(g.Metrics().Total) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_gateway_calls_successful_total",
		Help: "Generation calls that returned a result.",
	}, func() float64 { return float64(g.Metrics().Successful) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_gateway_calls_failed_total",
		Help: "Generation calls that failed or timed out.",
	}, func() float64 { return float64(g.Metrics().Failed) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "textline_gateway_queued",
		Help: "Callers waiting for a concurrency slot.",
	}, func() float64 { return float64(g.Metrics().Queued) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "textline_gateway_available_slots",
		Help: "Unused concurrency slots.",
	}, func() float64 { return float64(g.Metrics().AvailableSlots) })
}

// ObserveStateManager registers the persistence queue depth gauge.
func (m *Metrics) ObserveStateManager(mgr *state.Manager) {
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "textline_state_persist_queue_depth",
		Help: "Conversation states awaiting durable persistence.",
	}, func() float64 { return float64(mgr.QueueDepth()) })
}

// RiskMatchCounter registers a per-category counter and returns the
// increment hook handed to the pipeline.
func (m *Metrics) RiskMatchCounter() func(category string) {
	vec := promauto.With(m.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "textline_risk_matches_total",
		Help: "Inbound messages with a safety-relevant match, by category.",
	}, []string{"category"})
	return func(category string) {
		vec.WithLabelValues(category).Inc()
	}
}

// ObserveDispatcher registers collectors over the dispatcher's counters.
func (m *Metrics) ObserveDispatcher(d *dispatch.Dispatcher) {
	factory := promauto.With(m.Registry)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_dispatch_sent_total",
		Help: "Outbound messages delivered.",
	}, func() float64 { return float64(d.Stats().Sent) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_dispatch_failed_total",
		Help: "Outbound messages that exhausted their retries.",
	}, func() float64 { return float64(d.Stats().Failed) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_dispatch_retried_total",
		Help: "Outbound messages that needed more than one attempt.",
	}, func() float64 { return float64(d.Stats().Retried) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "textline_dispatch_windows_total",
		Help: "Rate-limit windows dispatched.",
	}, func() float64 { return float64(d.Stats().Windows) })
}
