// Package observability exposes Prometheus metrics and the OpenTelemetry
// tracer provider for the sourcer binary.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sourcer/internal/shared/logging"
)

const namespace = "sourcer"

// MetricsCollector records turn, tool and provider metrics on a private
// registry.
type MetricsCollector struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	turnPasses    *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	providerCalls *prometheus.CounterVec
	providerTime  *prometheus.HistogramVec

	server *http.Server
	logger logging.Logger
}

// NewMetricsCollector registers all collectors plus the Go runtime and
// process collectors.
func NewMetricsCollector(logger logging.Logger) *MetricsCollector {
	reg := prometheus.NewRegistry()
	m := &MetricsCollector{
		registry: reg,
		logger:   logging.OrNop(logger),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns handled, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock time per turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"strategy"}),
		turnPasses: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_passes",
			Help:      "Agent passes consumed per turn.",
			Buckets:   prometheus.LinearBuckets(0, 1, 7),
		}, []string{"strategy"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions, by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Search provider calls, by provider and status.",
		}, []string{"provider", "status"}),
		providerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Search provider latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	reg.MustRegister(
		m.turns, m.turnDuration, m.turnPasses,
		m.toolCalls, m.toolDuration,
		m.providerCalls, m.providerTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTurn records one finished turn.
func (m *MetricsCollector) ObserveTurn(strategy, outcome string, passes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(strategy, outcome).Inc()
	m.turnDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	m.turnPasses.WithLabelValues(strategy).Observe(float64(passes))
}

// ObserveToolCall records one tool execution.
func (m *MetricsCollector) ObserveToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveProviderCall records one search provider call. Its signature
// matches search.Observer.
func (m *MetricsCollector) ObserveProviderCall(provider, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, status).Inc()
	m.providerTime.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsCollector) Registry() *prometheus.Registry { return m.registry }

// Serve starts the /metrics endpoint on addr and returns the bound address.
func (m *MetricsCollector) Serve(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		m.logger.Info("metrics endpoint listening on %s", ln.Addr())
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error: %v", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the metrics endpoint if it was started.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
