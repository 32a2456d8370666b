package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stupiduntilnot/earnings-agent/internal/analytics"
	"github.com/stupiduntilnot/earnings-agent/internal/batch"
	"github.com/stupiduntilnot/earnings-agent/internal/control"
	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
	"github.com/stupiduntilnot/earnings-agent/internal/db"
	"github.com/stupiduntilnot/earnings-agent/internal/dummy"
	"github.com/stupiduntilnot/earnings-agent/internal/history"
	"github.com/stupiduntilnot/earnings-agent/internal/metrics"
	"github.com/stupiduntilnot/earnings-agent/internal/tool"
)

// {"methods":[{"method":"top5_regions_by_experts"},{"method":"nonexistent_method"}]}
const batchArgsB64 = "eyJtZXRob2RzIjpbeyJtZXRob2QiOiJ0b3A1X3JlZ2lvbnNfYnlfZXhwZXJ0cyJ9LHsibWV0aG9kIjoibm9uZXhpc3RlbnRfbWV0aG9kIn1dfQ=="

var rows = []dataset.Row{
	{Earnings: 1000, PaymentMethod: "Crypto", Region: "RU", Experience: "Expert", Category: "Design"},
	{Earnings: 500, PaymentMethod: "Card", Region: "IN", Experience: "Beginner", Category: "Design"},
}

type eventRecorder struct {
	mu     sync.Mutex
	types  []string
	events []map[string]any
}

func (r *eventRecorder) Record(_ *int64, eventType string, payload map[string]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	r.events = append(r.events, payload)
	return int64(len(r.types)), nil
}

func (r *eventRecorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	controller *Controller
	provider   *dummy.Provider
	recorder   *eventRecorder
	store      *history.MemoryStore
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T, script string, tweak func(*Config, *Deps)) *fixture {
	t.Helper()
	provider, err := dummy.NewProvider("dummy", script)
	require.NoError(t, err)

	registry := analytics.NewRegistry(nil)
	dispatcher := batch.New(registry, rows, batch.Options{}, nil, nil)
	tools := tool.NewRegistry()
	require.NoError(t, tool.RegisterAnalytics(tools, registry.Methods(), dispatcher, tool.Limits{}))

	f := &fixture{
		provider: provider,
		recorder: &eventRecorder{},
		store:    history.NewMemoryStore(),
		metrics:  metrics.New(nil),
	}
	cfg := Config{
		SessionID:    "s1",
		SystemPrompt: SystemPrompt(registry.Methods(), batch.DefaultMaxBatch),
		Temperature:  0.1,
		Policy:       control.DefaultPolicy(),
	}
	deps := Deps{
		Provider: provider,
		Tools:    tools,
		History:  history.NewManager(false, history.DefaultMaxPairs, nil, f.metrics),
		Store:    f.store,
		Recorder: f.recorder,
		Metrics:  f.metrics,
	}
	if tweak != nil {
		tweak(&cfg, &deps)
	}
	f.controller, err = New(cfg, deps)
	require.NoError(t, err)
	return f
}

func countRole(msgs []history.Message, role history.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func TestNew_RequiresProviderAndSession(t *testing.T) {
	_, err := New(Config{SessionID: "s"}, Deps{})
	assert.Error(t, err)

	p, _ := dummy.NewProvider("x", "ok")
	_, err = New(Config{}, Deps{Provider: p})
	assert.Error(t, err)
}

func TestInvoke_RejectsLongInputWithoutModelCall(t *testing.T) {
	f := newFixture(t, "ok", func(c *Config, _ *Deps) { c.Policy.MaxTokens = 10 })

	answer := f.controller.Invoke(context.Background(), strings.Repeat("x", 100))

	assert.Equal(t, RejectTooLong, answer)
	assert.Empty(t, f.provider.Requests())
	assert.True(t, f.recorder.has(db.EventControlLimitReached))
	assert.Equal(t, StateIdle, f.controller.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues(resultRejected)))

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestInvoke_SystemPromptOnFirstTurnOnly(t *testing.T) {
	f := newFixture(t, "msg:first,msg:second", nil)
	ctx := context.Background()

	assert.Equal(t, "first", f.controller.Invoke(ctx, "hello"))
	assert.Equal(t, "second", f.controller.Invoke(ctx, "again"))

	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, history.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, 1, countRole(reqs[1].Messages, history.RoleSystem))
	assert.Equal(t, reqs[0].Messages[0].ID, reqs[1].Messages[0].ID)
	assert.InDelta(t, 0.1, reqs[0].Temperature, 1e-6)
	assert.Len(t, reqs[0].Tools, 20)

	stored, err := f.store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestInvoke_ReturnDirectToolEndsTurn(t *testing.T) {
	f := newFixture(t, "tool:income_by_region", nil)

	answer := f.controller.Invoke(context.Background(), "income by region?")

	assert.Equal(t, "Average income by region:\n- RU: 1000.00 USD\n- IN: 500.00 USD", answer)
	assert.Len(t, f.provider.Requests(), 1)

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	last := stored[len(stored)-1]
	assert.Equal(t, history.RoleTool, last.Role)
	assert.Equal(t, "income_by_region", last.Name)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.True(t, f.recorder.has(db.EventToolCallDone))
}

func TestInvoke_BatchToolFeedsModel(t *testing.T) {
	f := newFixture(t, "toolb64:batch_analytics:"+batchArgsB64+",msg:summary", nil)

	answer := f.controller.Invoke(context.Background(), "experts and something else")

	assert.Equal(t, "summary", answer)
	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	toolMsg := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, history.RoleTool, toolMsg.Role)
	assert.Equal(t, "Top 5 regions by number of experts:\n- RU: 1"+batch.Separator+batch.Apology, toolMsg.Content)
}

func TestInvoke_UnknownToolErrorGoesBackToModel(t *testing.T) {
	f := newFixture(t, "tool:nope,msg:sorry", nil)

	answer := f.controller.Invoke(context.Background(), "hi")

	assert.Equal(t, "sorry", answer)
	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	toolMsg := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, "error: validation: unknown tool: nope", toolMsg.Content)
	assert.True(t, f.recorder.has(db.EventToolCallFailed))
}

func TestInvoke_ClassifiesModelFailures(t *testing.T) {
	cases := map[string]string{
		"status:401": TextUnauthorized,
		"status:429": TextRateLimited,
		"status:503": TextUnavailable,
		"status:500": TextInternal,
		"status:418": "LLM error: HTTP 418",
		"err:boom":   "LLM error: dummy provider error: boom",
	}
	for script, want := range cases {
		t.Run(script, func(t *testing.T) {
			f := newFixture(t, script, nil)
			assert.Equal(t, want, f.controller.Invoke(context.Background(), "hi"))
			assert.Equal(t, StateFailed, f.controller.State())
			assert.True(t, f.recorder.has(db.EventAgentFailed))
		})
	}
}

func TestInvoke_FailedStateRecoversOnNextInvoke(t *testing.T) {
	f := newFixture(t, "status:503,ok", nil)
	ctx := context.Background()

	assert.Equal(t, TextUnavailable, f.controller.Invoke(ctx, "hi"))
	assert.Equal(t, StateFailed, f.controller.State())

	assert.Equal(t, "dummy-ok", f.controller.Invoke(ctx, "hi"))
	assert.Equal(t, StateIdle, f.controller.State())

	// The failed turn is not persisted.
	stored, err := f.store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, countRole(stored, history.RoleUser))
}

func TestInvoke_TurnLimit(t *testing.T) {
	f := newFixture(t, "toolb64:batch_analytics:"+batchArgsB64, func(c *Config, _ *Deps) { c.Policy.MaxTurns = 2 })

	answer := f.controller.Invoke(context.Background(), "loop")

	assert.Equal(t, TextLimitReached, answer)
	assert.Len(t, f.provider.Requests(), 2)
	assert.True(t, f.recorder.has(db.EventControlLimitReached))
	assert.Equal(t, StateIdle, f.controller.State())
}

func TestInvoke_NoProgressStopsLoop(t *testing.T) {
	f := newFixture(t, "toolb64:batch_analytics:"+batchArgsB64, nil)

	answer := f.controller.Invoke(context.Background(), "loop")

	assert.Equal(t, TextLimitReached, answer)
	assert.Len(t, f.provider.Requests(), noProgressRepeats)
	assert.True(t, f.recorder.has(db.EventProgressStalled))
}

func TestInvoke_WallTimeLimit(t *testing.T) {
	f := newFixture(t, "ok", func(c *Config, _ *Deps) { c.Policy.MaxWallTime = time.Second })
	clock := time.Unix(0, 0)
	f.controller.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	assert.Equal(t, TextLimitReached, f.controller.Invoke(context.Background(), "hi"))
	assert.Empty(t, f.provider.Requests())
}

func TestInvoke_TrimsVisibleHistory(t *testing.T) {
	f := newFixture(t, "msg:a,msg:b,msg:c", func(_ *Config, d *Deps) {
		d.History = history.NewManager(false, 1, nil, nil)
	})
	ctx := context.Background()
	for _, q := range []string{"q1", "q2", "q3"} {
		f.controller.Invoke(ctx, q)
	}

	last := f.provider.Requests()[2].Messages
	require.Len(t, last, 2)
	assert.Equal(t, history.RoleSystem, last[0].Role)
	assert.Equal(t, "q3", last[1].Content)

	stored, err := f.store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 7)
}

func TestInvoke_DedupeRewritesDurableHistory(t *testing.T) {
	f := newFixture(t, "tool:income_by_region", func(_ *Config, d *Deps) {
		d.History = history.NewManager(true, history.DefaultMaxPairs, nil, nil)
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.controller.Invoke(ctx, "income by region")
	}

	stored, err := f.store.Load(ctx, "s1")
	require.NoError(t, err)
	// The second identical exchange is dropped before the third question.
	assert.Equal(t, 2, countRole(stored, history.RoleUser))
	assert.Equal(t, 1, countRole(stored, history.RoleSystem))
}

func TestInvoke_EmitsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, "ok", nil)
	f.controller.Invoke(context.Background(), "hi")

	names := []string{}
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "agent.Invoke")
	assert.Contains(t, names, "model.Complete")
}

func TestInvoke_EventLogTree(t *testing.T) {
	database, err := db.OpenDB(t.TempDir() + "/events.db")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.InitSchema(database))

	log := &db.EventLog{DB: database}
	rootID, err := log.Record(nil, db.EventProcessStarted, nil)
	require.NoError(t, err)

	f := newFixture(t, "tool:income_by_region", func(_ *Config, d *Deps) {
		d.Recorder = log
		d.ParentEventID = &rootID
	})
	f.controller.Invoke(context.Background(), "hi")

	events, err := db.QuerySubtree(database, rootID)
	require.NoError(t, err)
	types := map[string]bool{}
	for _, e := range events {
		types[e.EventType] = true
	}
	for _, want := range []string{db.EventAgentStarted, db.EventTurnStarted, db.EventToolCallStarted, db.EventToolCallDone, db.EventAgentCompleted} {
		assert.True(t, types[want], want)
	}
}
