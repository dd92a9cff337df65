// Package telemetry exposes the gateway's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	TokensTotal       *prometheus.CounterVec
	ErrorTotal        *prometheus.CounterVec
	DumpFailureTotal  *prometheus.CounterVec
	RateLimitHitTotal *prometheus.CounterVec
	PolicyDenyTotal   *prometheus.CounterVec
}

// NewMetrics creates metrics registered on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_request_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"channel", "model", "provider", "status", "stream"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirage_request_duration_ms",
			Help:    "Total request duration in milliseconds, provider latency included.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model", "provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		ErrorTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_error_total",
			Help: "Total domain errors surfaced to clients, by error type.",
		}, []string{"type"}),

		DumpFailureTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_dump_failure_total",
			Help: "Total swallowed artifact dump failures, by stage.",
		}, []string{"stage"}),

		RateLimitHitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_rate_limit_hit_total",
			Help: "Total requests rejected by rate limiting.",
		}, []string{"dimension"}),

		PolicyDenyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirage_policy_deny_total",
			Help: "Total requests denied by the policy gate.",
		}, []string{"model"}),
	}
}

// RequestLabels carries the values for one completed request.
type RequestLabels struct {
	Channel      string
	Model        string
	Provider     string
	Status       string
	Stream       bool
	DurationMs   float64
	InputTokens  int
	OutputTokens int
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	stream := "false"
	if labels.Stream {
		stream = "true"
	}
	m.RequestTotal.WithLabelValues(
		labels.Channel, labels.Model, labels.Provider, labels.Status, stream,
	).Inc()

	m.RequestDurationMs.WithLabelValues(labels.Model, labels.Provider).Observe(labels.DurationMs)

	if labels.InputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "input").Add(float64(labels.InputTokens))
	}
	if labels.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "output").Add(float64(labels.OutputTokens))
	}
}

// RecordError counts a domain error surfaced to a client.
func (m *Metrics) RecordError(errType string) {
	m.ErrorTotal.WithLabelValues(errType).Inc()
}

// RecordDumpFailure counts a swallowed artifact dump failure.
func (m *Metrics) RecordDumpFailure(stage string) {
	m.DumpFailureTotal.WithLabelValues(stage).Inc()
}

// RecordRateLimitHit counts a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(dimension string) {
	m.RateLimitHitTotal.WithLabelValues(dimension).Inc()
}

// RecordPolicyDeny counts a policy gate denial.
func (m *Metrics) RecordPolicyDeny(model string) {
	m.PolicyDenyTotal.WithLabelValues(model).Inc()
}
