package dummy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stupiduntilnot/earnings-agent/internal/history"
	"github.com/stupiduntilnot/earnings-agent/internal/model"
)

func userRequest(text string) model.Request {
	return model.Request{Messages: []history.Message{history.System("sys"), history.User(text)}}
}

func TestNewProvider_InvalidScript(t *testing.T) {
	for _, script := range []string{"boom", "status:abc", "tool:"} {
		if _, err := NewProvider("x", script); err == nil {
			t.Fatalf("expected parse error for %q", script)
		}
	}
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("x", "err:provider_api,msg:hello")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := p.Complete(ctx, userRequest("hi")); err == nil {
		t.Fatal("expected first call to error")
	}

	resp, err := p.Complete(ctx, userRequest("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected hello, got %q", resp.Content)
	}

	// The last action repeats.
	resp, _ = p.Complete(ctx, userRequest("hi"))
	if resp.Content != "hello" {
		t.Fatalf("expected repeated hello, got %q", resp.Content)
	}
	if got := len(p.Requests()); got != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", got)
	}
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("x", "msgb64:aGVsbG8=") // "hello"
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected hello, got %q", resp.Content)
	}
}

func TestProvider_Echo(t *testing.T) {
	p, _ := NewProvider("x", "echo")
	resp, err := p.Complete(context.Background(), userRequest("what is up"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "what is up" {
		t.Fatalf("expected echo, got %q", resp.Content)
	}
}

func TestProvider_StatusAction(t *testing.T) {
	p, _ := NewProvider("x", "status:429")
	_, err := p.Complete(context.Background(), userRequest("hi"))
	var coder model.StatusCoder
	if !errors.As(err, &coder) || coder.StatusCode() != 429 {
		t.Fatalf("expected status 429, got %v", err)
	}
}

func TestProvider_ToolActions(t *testing.T) {
	// eyJtZXRob2RzIjpbXX0= is {"methods":[]}
	p, _ := NewProvider("x", "tool:income_by_region,toolb64:batch_analytics:eyJtZXRob2RzIjpbXX0=")
	ctx := context.Background()

	resp, err := p.Complete(ctx, userRequest("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "income_by_region" || resp.ToolCalls[0].Arguments != "{}" {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls)
	}

	resp, err = p.Complete(ctx, userRequest("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments != `{"methods":[]}` {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].ID == "call_1" {
		t.Fatal("expected distinct call ids per request")
	}
}

func TestProvider_SleepHonoursContext(t *testing.T) {
	p, _ := NewProvider("x", "sleep:10000")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(ctx, userRequest("hi")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
