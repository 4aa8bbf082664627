package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solatis/uploadwaf/internal/types"
)

// Metrics exports engine activity to Prometheus.
//
// Metrics:
//   - <ns>_rule_evaluations_total{rule,matched}: per-rule match signals
//   - <ns>_decisions_total{action}: final decisions
//   - <ns>_decision_duration_seconds: time spent in Decide
//   - <ns>_samples_dropped_total: samples lost to a full buffer
type Metrics struct {
	registry *prometheus.Registry

	evaluations *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics creates and registers metrics under namespace on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "uploadwaf"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_evaluations_total",
				Help:      "Rule evaluations by rule name and match outcome",
			},
			[]string{"rule", "matched"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Policy decisions by final action",
			},
			[]string{"action"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Duration of policy decisions in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
		),
	}

	m.registry.MustRegister(m.evaluations, m.decisions, m.duration)
	return m
}

// Record implements rules.Recorder.
func (m *Metrics) Record(rule string, matched bool) {
	m.evaluations.WithLabelValues(rule, strconv.FormatBool(matched)).Inc()
}

// ObserveDecision records a completed decision and its latency.
func (m *Metrics) ObserveDecision(d types.Decision, elapsed time.Duration) {
	m.decisions.WithLabelValues(d.Action.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// WatchBuffer exports b's dropped count.
func (m *Metrics) WatchBuffer(namespace string, b *SampleBuffer) {
	if namespace == "" {
		namespace = "uploadwaf"
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Sampled requests dropped because the buffer was full",
		},
		func() float64 { return float64(b.Dropped()) },
	))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
