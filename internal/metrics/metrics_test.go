package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BatchRequest(OutcomeOK)
	m.BatchRequest(OutcomeOK)
	m.BatchRequest(OutcomeInvalid)
	m.Batch(15, true)
	m.History(2, 4)
	m.Usage(10, 3)
	m.ToolCall("batch_analytics", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchRequests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRequests.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchTruncations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HistoryDuplicates))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HistoryTrimmed))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Tokens.WithLabelValues("input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("batch_analytics", "ok")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchRequest(OutcomeOK)
		m.Batch(1, false)
		m.History(1, 1)
		m.Turn("ok", 0.1)
		m.Usage(1, 1)
		m.ToolCall("x", "ok")
	})
}

func TestNew_NilRegistererIsPrivate(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
