// Package dummy provides a scripted model provider for offline runs and tests.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted:
//
//	ok                  reply "dummy-ok"
//	msg:<text>          reply text
//	msgb64:<base64>     reply decoded text
//	echo                reply with the last user message
//	tool:<name>         call tool name with {} arguments
//	toolb64:<name>:<b>  call tool name with base64-decoded JSON arguments
//	err:<text>          fail without a status code
//	status:<code>       fail with an HTTP status code
//	sleep:<ms>          wait, then reply "dummy-after-sleep"
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/earnings-agent/internal/history"
	modelpkg "github.com/stupiduntilnot/earnings-agent/internal/model"
)

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"msgb64", "msg", "toolb64", "tool", "err", "status", "sleep"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "echo" {
			actions = append(actions, action{kind: token})
			continue
		}
		a, err := parseAction(token)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

func parseAction(token string) (action, error) {
	for _, kind := range actionKinds {
		if !strings.HasPrefix(token, kind+":") {
			continue
		}
		a := action{kind: kind, arg: strings.TrimPrefix(token, kind+":")}
		switch kind {
		case "status":
			if _, err := strconv.Atoi(a.arg); err != nil {
				return action{}, fmt.Errorf("invalid dummy status code: %s", a.arg)
			}
		case "tool", "toolb64":
			if strings.TrimSpace(a.arg) == "" {
				return action{}, fmt.Errorf("dummy tool action needs a name: %s", token)
			}
		}
		return a, nil
	}
	return action{}, fmt.Errorf("invalid dummy action: %s", token)
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Provider replays a script. It records every request it receives.
type Provider struct {
	mu       sync.Mutex
	model    string
	script   *scriptRunner
	requests []modelpkg.Request
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) Model() string {
	return p.model
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []modelpkg.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]modelpkg.Request(nil), p.requests...)
}

func (p *Provider) Complete(ctx context.Context, req modelpkg.Request) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	call := len(p.requests)
	reply := func(content string) modelpkg.CompletionResponse {
		return modelpkg.CompletionResponse{Content: content, InputTokens: 1, OutputTokens: 1}
	}

	a := p.script.next()
	switch a.kind {
	case "ok":
		return reply("dummy-ok"), nil
	case "echo":
		return reply(lastUserMessage(req.Messages)), nil
	case "msg":
		return reply(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return reply(string(raw)), nil
	case "tool":
		return toolCall(call, a.arg, "{}"), nil
	case "toolb64":
		name, encoded, _ := strings.Cut(a.arg, ":")
		args := "{}"
		if encoded != "" {
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider toolb64 decode failed: %w", err)
			}
			args = string(raw)
		}
		return toolCall(call, name, args), nil
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error: %s", emptyAs(a.arg, "provider_api"))
	case "status":
		code, _ := strconv.Atoi(a.arg)
		return modelpkg.CompletionResponse{}, &modelpkg.StatusError{Code: code, Message: "dummy provider status"}
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		if ms > 0 {
			select {
			case <-ctx.Done():
				return modelpkg.CompletionResponse{}, ctx.Err()
			case <-time.After(time.Duration(ms) * time.Millisecond):
			}
		}
		return reply("dummy-after-sleep"), nil
	default:
		return reply("dummy-ok"), nil
	}
}

func toolCall(call int, name, args string) modelpkg.CompletionResponse {
	return modelpkg.CompletionResponse{
		ToolCalls: []history.ToolCall{{
			ID:        fmt.Sprintf("call_%d", call),
			Name:      name,
			Arguments: args,
		}},
		InputTokens:  1,
		OutputTokens: 1,
	}
}

func lastUserMessage(msgs []history.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == history.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
