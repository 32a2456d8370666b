package history

import (
	"log/slog"

	"github.com/stupiduntilnot/earnings-agent/internal/metrics"
)

const DefaultMaxPairs = 3

// Manager runs Dedupe then Trim before every model call.
type Manager struct {
	DedupeEnabled bool
	MaxPairs      int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewManager(dedupe bool, maxPairs int, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		DedupeEnabled: dedupe,
		MaxPairs:      maxPairs,
		logger:        logger.With("component", "history"),
		metrics:       m,
	}
}

// Prepare returns the durable history (deduplicated, to be persisted) and the
// trimmed view that is sent to the model for this call only.
func (m *Manager) Prepare(messages []Message) (durable, visible []Message) {
	durable, report := Dedupe(messages, m.DedupeEnabled)
	if report.Duplicates > 0 {
		m.logger.Info("duplicate exchange pairs",
			"pairs", report.Pairs,
			"duplicates", report.Duplicates,
			"removed", m.DedupeEnabled,
			"input", report.Input,
			"output", report.Output,
		)
	}

	visible = Trim(durable, m.MaxPairs)
	trimmed := len(durable) - len(visible)
	m.logger.Debug("history prepared",
		"durable", len(durable),
		"visible", len(visible),
		"trimmed", trimmed,
		"max_pairs", m.MaxPairs,
	)
	m.metrics.History(report.Duplicates, trimmed)
	return durable, visible
}
