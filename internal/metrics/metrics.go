// Package metrics holds the prometheus collectors shared by the dispatcher,
// history manager and turn controller. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "earnings_agent"

// Batch request outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeUnknownMethod = "unknown_method"
	OutcomeInvalid       = "invalid"
	OutcomeFailed        = "failed"
)

type Metrics struct {
	BatchRequests    *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	BatchTruncations prometheus.Counter

	HistoryDuplicates prometheus.Counter
	HistoryTrimmed    prometheus.Counter

	Turns        *prometheus.CounterVec
	TurnDuration prometheus.Histogram
	Tokens       *prometheus.CounterVec
	ToolCalls    *prometheus.CounterVec
}

// New registers every collector on reg. Passing nil uses a private registry,
// which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		BatchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "requests_total",
			Help:      "Analytics requests executed by the batch dispatcher, by outcome.",
		}, []string{"outcome"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size",
			Help:      "Number of requests per batch after truncation.",
			Buckets:   []float64{1, 2, 3, 5, 8, 15, 30},
		}),
		BatchTruncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "truncations_total",
			Help:      "Batches that exceeded the configured cap.",
		}),
		HistoryDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "duplicate_pairs_total",
			Help:      "Repeated exchange pairs seen while preparing history.",
		}),
		HistoryTrimmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "trimmed_messages_total",
			Help:      "Messages hidden from the model by trimming.",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Agent turns by result.",
		}, []string{"result"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one agent turn.",
			Buckets:   prometheus.DefBuckets,
		}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tokens_total",
			Help:      "Model tokens reported by the provider, by direction.",
		}, []string{"direction"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and status.",
		}, []string{"tool", "status"}),
	}
}

func (m *Metrics) BatchRequest(outcome string) {
	if m == nil {
		return
	}
	m.BatchRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Batch(size int, truncated bool) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
	if truncated {
		m.BatchTruncations.Inc()
	}
}

func (m *Metrics) History(duplicates, trimmed int) {
	if m == nil {
		return
	}
	m.HistoryDuplicates.Add(float64(duplicates))
	m.HistoryTrimmed.Add(float64(trimmed))
}

func (m *Metrics) Turn(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(result).Inc()
	m.TurnDuration.Observe(seconds)
}

func (m *Metrics) Usage(input, output int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(input))
	m.Tokens.WithLabelValues("output").Add(float64(output))
}

func (m *Metrics) ToolCall(name, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(name, status).Inc()
}
