// Package agent runs one conversational turn: it guards the input, prepares
// the model-visible history, drives the model/tool loop and converts every
// failure into a textual answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stupiduntilnot/earnings-agent/internal/batch"
	"github.com/stupiduntilnot/earnings-agent/internal/control"
	"github.com/stupiduntilnot/earnings-agent/internal/db"
	"github.com/stupiduntilnot/earnings-agent/internal/history"
	"github.com/stupiduntilnot/earnings-agent/internal/metrics"
	"github.com/stupiduntilnot/earnings-agent/internal/model"
	"github.com/stupiduntilnot/earnings-agent/internal/tool"
)

var tracer = otel.Tracer("earnings-agent/agent")

// RejectTooLong is returned without calling the model when the input exceeds
// the token ceiling.
const RejectTooLong = "Request is too long, please shorten it."

// TextLimitReached is returned when a turn hits its turn, time or progress bound.
const TextLimitReached = "Sorry, I could not finish the analysis. Please ask a simpler question."

// noProgressRepeats is how many identical tool steps in a row end the loop.
const noProgressRepeats = 3

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingModel State = "awaiting_model"
	StateResponding    State = "responding"
	StateFailed        State = "failed"
)

// Turn results reported to metrics.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultLimit    = "limit"
	resultError    = "error"
)

type Config struct {
	SessionID    string
	SystemPrompt string
	Temperature  float32
	Policy       control.Policy
}

type Deps struct {
	Provider model.Provider
	Tools    *tool.Registry
	History  *history.Manager
	Store    history.Store
	Recorder Recorder
	// ParentEventID roots this controller's events, typically process.started.
	ParentEventID *int64
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Controller serves one session. Invoke calls are serialised.
type Controller struct {
	mu sync.Mutex

	cfg      Config
	provider model.Provider
	tools    *tool.Registry
	runner   *tool.Runner
	history  *history.Manager
	store    history.Store
	recorder Recorder
	parentID *int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	state State
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("agent: model provider is required")
	}
	if deps.Tools == nil {
		deps.Tools = tool.NewRegistry()
	}
	if deps.History == nil {
		deps.History = history.NewManager(false, history.DefaultMaxPairs, deps.Logger, deps.Metrics)
	}
	if deps.Store == nil {
		deps.Store = history.NewMemoryStore()
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, fmt.Errorf("agent: session id is required")
	}
	return &Controller{
		cfg:      cfg,
		provider: deps.Provider,
		tools:    deps.Tools,
		runner:   tool.NewRunner(deps.Tools),
		history:  deps.History,
		store:    deps.Store,
		recorder: deps.Recorder,
		parentID: deps.ParentEventID,
		logger:   deps.Logger.With("component", "agent", "session_id", cfg.SessionID),
		metrics:  deps.Metrics,
		now:      time.Now,
		state:    StateIdle,
	}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	return c.cfg.SessionID
}

type usage struct {
	input  int
	output int
}

// Invoke answers one user message. It never returns an error: failures come
// back as text starting with ErrorPrefix, limits as RejectTooLong or
// TextLimitReached.
func (c *Controller) Invoke(ctx context.Context, text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := c.now()
	ctx, span := tracer.Start(ctx, "agent.Invoke",
		trace.WithAttributes(
			attribute.String("session.id", c.cfg.SessionID),
			attribute.String("model", c.provider.Model()),
		),
	)
	defer span.End()

	agentID := c.record(c.parentID, db.EventAgentStarted, map[string]any{
		"session_id": c.cfg.SessionID,
		"model":      c.provider.Model(),
	})

	tokens := control.EstimateTokens(text)
	if err := control.CheckTokenLimit(c.cfg.Policy, tokens); err != nil {
		c.logger.Warn("user message rejected", "tokens", tokens, "max_tokens", c.cfg.Policy.MaxTokens)
		c.recordLimit(agentID, err)
		c.state = StateIdle
		c.finish(span, agentID, resultRejected, started, usage{})
		return RejectTooLong
	}

	messages, err := c.store.Load(ctx, c.cfg.SessionID)
	if err != nil {
		return c.fail(span, agentID, started, fmt.Errorf("load history: %w", err))
	}
	if len(messages) == 0 && c.cfg.SystemPrompt != "" {
		messages = append(messages, history.System(c.cfg.SystemPrompt))
	}
	messages = append(messages, history.User(text))

	answer, messages, used, err := c.loop(ctx, agentID, messages, started)
	var limitErr *control.LimitError
	switch {
	case errors.As(err, &limitErr):
		c.recordLimit(agentID, err)
		answer = TextLimitReached
	case err != nil:
		return c.fail(span, agentID, started, err)
	}

	if err := c.store.Replace(ctx, c.cfg.SessionID, messages); err != nil {
		c.logger.Error("persist history failed", "error", err)
	}
	c.record(&agentID, db.EventReplySent, map[string]any{"chars": len([]rune(answer))})

	result := resultOK
	if limitErr != nil {
		result = resultLimit
	}
	c.state = StateIdle
	c.finish(span, agentID, result, started, used)
	return answer
}

// loop drives model calls until an answer is produced. It returns the durable
// history including this turn's messages.
func (c *Controller) loop(ctx context.Context, agentID int64, messages []history.Message, started time.Time) (string, []history.Message, usage, error) {
	var used usage
	var fingerprints []string
	specs := c.tools.Specs()

	for turn := 0; ; turn++ {
		if err := control.CheckTurnLimit(c.cfg.Policy, turn); err != nil {
			return "", messages, used, err
		}
		if err := control.CheckWallTime(c.cfg.Policy, started, c.now()); err != nil {
			return "", messages, used, err
		}

		durable, visible := c.history.Prepare(messages)
		messages = durable
		c.record(&agentID, db.EventContextAssembled, map[string]any{
			"durable_count": len(durable),
			"visible_count": len(visible),
			"max_pairs":     c.history.MaxPairs,
			"tokens":        estimateTokensFromMessages(visible),
		})

		turnID := c.record(&agentID, db.EventTurnStarted, map[string]any{
			"model_name": c.provider.Model(),
			"turn":       turn + 1,
		})
		c.state = StateAwaitingModel
		turnStart := c.now()
		resp, err := c.complete(ctx, model.Request{
			Messages:    visible,
			Temperature: c.cfg.Temperature,
			Tools:       specs,
		})
		if err != nil {
			return "", messages, used, err
		}
		c.state = StateResponding
		used.input += resp.InputTokens
		used.output += resp.OutputTokens
		c.record(&agentID, db.EventTurnCompleted, map[string]any{
			"model_name":    c.provider.Model(),
			"latency_ms":    c.now().Sub(turnStart).Milliseconds(),
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
			"tool_calls":    len(resp.ToolCalls),
		})

		messages = append(messages, history.Assistant(resp.Content, resp.ToolCalls...))
		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), messages, used, nil
		}

		outputs, direct := c.runTools(ctx, turnID, resp.ToolCalls, &messages)
		if direct {
			return strings.Join(outputs, batch.Separator), messages, used, nil
		}

		fingerprints = append(fingerprints, fingerprint(resp.ToolCalls))
		if control.NoProgress(fingerprints, noProgressRepeats) {
			c.logger.Warn("tool loop stalled", "repeats", noProgressRepeats)
			c.record(&agentID, db.EventProgressStalled, map[string]any{
				"state_fingerprint": fingerprints[len(fingerprints)-1],
				"repeats":           noProgressRepeats,
			})
			return "", messages, used, &control.LimitError{
				Type:      control.LimitNoProgress,
				Value:     int64(noProgressRepeats),
				Threshold: int64(noProgressRepeats),
			}
		}
	}
}

func (c *Controller) complete(ctx context.Context, req model.Request) (model.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "model.Complete",
		trace.WithAttributes(
			attribute.String("model", c.provider.Model()),
			attribute.Int("messages", len(req.Messages)),
			attribute.Int("tools", len(req.Tools)),
		),
	)
	defer span.End()

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return resp, err
	}
	span.SetAttributes(
		attribute.Int("tokens.input", resp.InputTokens),
		attribute.Int("tokens.output", resp.OutputTokens),
	)
	return resp, nil
}

// runTools executes every call of one assistant step and appends a tool
// result per call. direct is true when every call succeeded on a
// return-direct tool.
func (c *Controller) runTools(ctx context.Context, turnID int64, calls []history.ToolCall, messages *[]history.Message) (outputs []string, direct bool) {
	direct = true
	for _, call := range calls {
		name := strings.TrimSpace(call.Name)
		toolEventID := c.record(&turnID, db.EventToolCallStarted, map[string]any{
			"tool_name": name,
			"arguments": truncate(call.Arguments, 500),
		})
		started := c.now()
		res, err := c.runner.RunOne(ctx, tool.Call{
			ID:        call.ID,
			Name:      name,
			Arguments: json.RawMessage(call.Arguments),
		})
		content := res.Output
		if err != nil {
			errClass := classifyToolError(err)
			c.logger.Warn("tool call failed", "tool", name, "error", err, "error_class", errClass)
			c.record(&toolEventID, db.EventToolCallFailed, map[string]any{
				"tool_name":   name,
				"error":       truncate(err.Error(), 500),
				"error_class": errClass,
			})
			c.metrics.ToolCall(name, "error")
			content = "error: " + err.Error()
			direct = false
		} else {
			c.record(&toolEventID, db.EventToolCallDone, map[string]any{
				"tool_name":  name,
				"latency_ms": c.now().Sub(started).Milliseconds(),
				"truncated":  res.Truncated,
			})
			c.metrics.ToolCall(name, "ok")
			if t, ok := c.runner.Lookup(name); !ok || !t.ReturnDirect() {
				direct = false
			}
		}
		outputs = append(outputs, content)
		*messages = append(*messages, history.ToolResult(call.ID, name, content))
	}
	return outputs, direct
}

func (c *Controller) fail(span trace.Span, agentID int64, started time.Time, err error) string {
	answer := ClassifyError(err)
	c.state = StateFailed
	c.logger.Error("turn failed", "error", err, "error_class", Class(answer))
	span.RecordError(err)
	span.SetStatus(codes.Error, Class(answer))
	c.record(&agentID, db.EventAgentFailed, map[string]any{
		"error":       truncate(err.Error(), 500),
		"error_class": Class(answer),
	})
	c.metrics.Turn(resultError, c.now().Sub(started).Seconds())
	return answer
}

func (c *Controller) finish(span trace.Span, agentID int64, result string, started time.Time, used usage) {
	elapsed := c.now().Sub(started)
	span.SetAttributes(attribute.String("result", result))
	c.record(&agentID, db.EventAgentCompleted, map[string]any{
		"result":        result,
		"elapsed_ms":    elapsed.Milliseconds(),
		"input_tokens":  used.input,
		"output_tokens": used.output,
	})
	c.logger.Info("turn completed",
		"result", result,
		"elapsed_ms", elapsed.Milliseconds(),
		"input_tokens", used.input,
		"output_tokens", used.output,
	)
	c.metrics.Turn(result, elapsed.Seconds())
	c.metrics.Usage(used.input, used.output)
}

func (c *Controller) record(parentID *int64, eventType string, payload map[string]any) int64 {
	id, err := c.recorder.Record(parentID, eventType, payload)
	if err != nil {
		c.logger.Warn("record event failed", "event_type", eventType, "error", err)
	}
	return id
}

func (c *Controller) recordLimit(agentID int64, err error) {
	var limitErr *control.LimitError
	if !errors.As(err, &limitErr) {
		return
	}
	c.logger.Warn("limit reached", "limit_type", string(limitErr.Type), "value", limitErr.Value, "threshold", limitErr.Threshold)
	c.record(&agentID, db.EventControlLimitReached, map[string]any{
		"limit_type": string(limitErr.Type),
		"value":      limitErr.Value,
		"threshold":  limitErr.Threshold,
	})
}

func classifyToolError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if errors.Is(err, tool.ErrUnknownTool) || strings.HasPrefix(err.Error(), "validation") {
		return "validation"
	}
	return "tool_exec"
}

func fingerprint(calls []history.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, strings.TrimSpace(call.Name)+"("+strings.TrimSpace(call.Arguments)+")")
	}
	return strings.Join(parts, "|")
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func estimateTokensFromMessages(messages []history.Message) int {
	total := 0
	for _, msg := range messages {
		total += control.EstimateTokens(msg.Content)
	}
	return total
}
