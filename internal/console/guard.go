package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/stupiduntilnot/earnings-agent/internal/agent"
	"github.com/stupiduntilnot/earnings-agent/internal/control"
	"github.com/stupiduntilnot/earnings-agent/internal/db"
)

// TextCircuitOpen is answered while the breaker skips model calls.
const TextCircuitOpen = agent.ErrorPrefix + "too many failed requests, please try again later"

// Guard retries transient answers and stops calling the model after
// repeated transient failures until the breaker cooldown has passed.
type Guard struct {
	Ask      AskFunc
	Retrier  control.Retrier
	Breaker  *control.CircuitBreaker
	Recorder agent.Recorder
	ParentID *int64
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewGuard(ask AskFunc, policy control.Policy, breaker *control.CircuitBreaker, recorder agent.Recorder, parentID *int64, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if recorder == nil {
		recorder = agent.NopRecorder{}
	}
	g := &Guard{
		Ask:      ask,
		Breaker:  breaker,
		Recorder: recorder,
		ParentID: parentID,
		Logger:   logger.With("component", "guard"),
		Now:      time.Now,
	}
	g.Retrier = control.Retrier{
		Policy:      policy,
		IsTransient: agent.IsTransient,
		OnRetry: func(attempt int, wait time.Duration, answer string) {
			g.Logger.Warn("retrying model call", "attempt", attempt, "wait", wait, "error_class", agent.Class(answer))
			g.record(db.EventRetryScheduled, map[string]any{
				"attempt":     attempt,
				"wait_ms":     wait.Milliseconds(),
				"error_class": agent.Class(answer),
			})
		},
	}
	return g
}

func (g *Guard) Do(ctx context.Context, question string) string {
	if g.Breaker != nil {
		before := g.Breaker.State()
		if !g.Breaker.Allow(g.Now()) {
			g.Logger.Warn("circuit open, skipping model call", "error_class", g.Breaker.OpenedClass())
			return TextCircuitOpen
		}
		if before == control.CircuitOpen && g.Breaker.State() == control.CircuitHalfOpen {
			g.record(db.EventCircuitHalfOpen, map[string]any{"error_class": g.Breaker.OpenedClass()})
		}
	}

	answer := g.Retrier.Do(ctx, func(ctx context.Context) string { return g.Ask(ctx, question) })
	if agent.IsTransient(answer) {
		if g.Retrier.Policy.MaxRetries > 0 {
			g.record(db.EventRetryExhausted, map[string]any{
				"max_retries": g.Retrier.Policy.MaxRetries,
				"error_class": agent.Class(answer),
			})
		}
		if g.Breaker != nil && g.Breaker.RecordFailure(agent.Class(answer), g.Now()) {
			g.Logger.Error("circuit opened", "error_class", agent.Class(answer))
			g.record(db.EventCircuitOpened, map[string]any{"error_class": agent.Class(answer)})
		}
		return answer
	}
	if g.Breaker != nil && !agent.IsError(answer) && g.Breaker.RecordSuccess() {
		g.Logger.Info("circuit closed")
		g.record(db.EventCircuitClosed, nil)
	}
	return answer
}

func (g *Guard) record(eventType string, payload map[string]any) {
	if _, err := g.Recorder.Record(g.ParentID, eventType, payload); err != nil {
		g.Logger.Warn("record event failed", "event_type", eventType, "error", err)
	}
}
