package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pact_proxy"

// Metrics holds the proxy's Prometheus collectors.
//
// Metrics:
//   - pact_proxy_cache_lookups_total: lookups by provider and result (hit, miss)
//   - pact_proxy_forward_attempts_total: outbound sends by provider and outcome
//   - pact_proxy_persist_failures_total: failed document writes by provider
//   - pact_proxy_request_duration_seconds: proxied request latency by outcome
//   - pact_proxy_interactions: recorded interactions per provider
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	forwardAttempts *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	interactions    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with registry. A nil
// registry gets a fresh one that also carries the Go and process collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of interaction lookups",
			},
			[]string{"provider", "result"},
		),
		forwardAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_attempts_total",
				Help:      "Total number of outbound send attempts",
			},
			[]string{"provider", "outcome"},
		),
		persistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Total number of failed pact file writes",
			},
			[]string{"provider"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Proxied request latency",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		interactions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "interactions",
				Help:      "Recorded interactions per provider",
			},
			[]string{"consumer", "provider"},
		),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.forwardAttempts,
		m.persistFailures,
		m.requestDuration,
		m.interactions,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordLookup counts a cache hit or miss for provider.
func (m *Metrics) RecordLookup(provider string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(provider, result).Inc()
}

// ForwardAttempt counts one outbound send. The outcome is the status code,
// or "error" when the send itself failed.
func (m *Metrics) ForwardAttempt(provider string, status int, err error) {
	if m == nil {
		return
	}
	outcome := "error"
	if err == nil && status != 0 {
		outcome = strconv.Itoa(status)
	}
	m.forwardAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordPersistFailure counts a failed document write.
func (m *Metrics) RecordPersistFailure(provider string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(provider).Inc()
}

// ObserveRequest records the latency of one proxied request.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetInteractions sets the recorded interaction count for a document.
func (m *Metrics) SetInteractions(consumer, provider string, n int) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(consumer, provider).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
