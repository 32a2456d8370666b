// Package batch executes ordered lists of analytics requests against the
// registry. A failing request degrades to the apology text for its slot and
// never fails the batch.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/earnings-agent/internal/analytics"
	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
	"github.com/stupiduntilnot/earnings-agent/internal/metrics"
)

// Apology is the block returned for a request that could not be served.
const Apology = "Sorry, I got distracted. Please repeat your question."

// Separator joins result blocks.
const Separator = "\n\n"

const DefaultMaxBatch = 15

// Request is one unit of work. By is never rejected: ungrouped methods drop
// it and grouped methods fall back to category for unknown keys.
type Request struct {
	Method string `json:"method" validate:"required"`
	By     string `json:"by,omitempty"`
}

// Options tunes the dispatcher.
type Options struct {
	MaxBatch int
	// Parallel fans registry calls out over goroutines. Output order is unchanged.
	Parallel bool
}

type Dispatcher struct {
	registry *analytics.Registry
	rows     []dataset.Row
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func New(registry *analytics.Registry, rows []dataset.Row, opts Options, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		registry: registry,
		rows:     rows,
		opts:     opts,
		validate: validator.New(),
		logger:   logger.With("component", "batch"),
		metrics:  m,
	}
}

func (d *Dispatcher) MaxBatch() int {
	return d.opts.MaxBatch
}

// Execute returns one block per request, in input order, after truncating to
// the configured cap.
func (d *Dispatcher) Execute(ctx context.Context, reqs []Request) []string {
	truncated := false
	if len(reqs) > d.opts.MaxBatch {
		d.logger.Warn("batch truncated", "requested", len(reqs), "max", d.opts.MaxBatch, "dropped", len(reqs)-d.opts.MaxBatch)
		reqs = reqs[:d.opts.MaxBatch]
		truncated = true
	}
	d.metrics.Batch(len(reqs), truncated)

	out := make([]string, len(reqs))
	if !d.opts.Parallel || len(reqs) < 2 {
		for i, req := range reqs {
			out[i] = d.executeOne(ctx, i, req)
		}
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = d.executeOne(gctx, i, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Run executes reqs and joins the blocks with a blank line.
func (d *Dispatcher) Run(ctx context.Context, reqs []Request) string {
	return strings.Join(d.Execute(ctx, reqs), Separator)
}

// One executes a single request outside any batch. It neither truncates nor
// records batch-level metrics.
func (d *Dispatcher) One(ctx context.Context, req Request) string {
	return d.executeOne(ctx, 0, req)
}

func (d *Dispatcher) executeOne(ctx context.Context, index int, req Request) string {
	log := d.logger.With("index", index, "method", req.Method, "by", req.By)
	if err := ctx.Err(); err != nil {
		log.Warn("request skipped", "error", err)
		d.metrics.BatchRequest(metrics.OutcomeFailed)
		return Apology
	}
	if err := d.validate.Struct(req); err != nil {
		log.Warn("request invalid", "error", err)
		d.metrics.BatchRequest(metrics.OutcomeInvalid)
		return Apology
	}
	out, err := d.registry.Invoke(req.Method, d.rows, dataset.GroupKey(req.By))
	switch {
	case errors.Is(err, analytics.ErrUnknownMethod):
		log.Warn("unknown method")
		d.metrics.BatchRequest(metrics.OutcomeUnknownMethod)
		return Apology
	case err != nil:
		log.Error("method failed", "error", err)
		d.metrics.BatchRequest(metrics.OutcomeFailed)
		return Apology
	}
	d.metrics.BatchRequest(metrics.OutcomeOK)
	return out
}

// Decode parses either a JSON array of requests or an object of the form
// {"methods": [...]}.
func Decode(raw []byte) ([]Request, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if raw[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return reqs, nil
	}
	var wrapped struct {
		Methods []Request `json:"methods"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return wrapped.Methods, nil
}
