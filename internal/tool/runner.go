package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned for calls naming a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Call represents one tool invocation request.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Runner executes registered tools.
type Runner struct {
	registry *Registry
}

func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Lookup returns the tool a call would run.
func (r *Runner) Lookup(name string) (Tool, bool) {
	if r == nil || r.registry == nil {
		return nil, false
	}
	return r.registry.Get(strings.TrimSpace(name))
}

func (r *Runner) RunOne(ctx context.Context, call Call) (Result, error) {
	if r == nil || r.registry == nil {
		return Result{}, fmt.Errorf("tool runner is not initialized")
	}
	toolName := strings.TrimSpace(call.Name)
	if toolName == "" {
		return Result{}, fmt.Errorf("validation: empty tool name")
	}
	t, ok := r.registry.Get(toolName)
	if !ok {
		return Result{}, fmt.Errorf("validation: %w: %s", ErrUnknownTool, toolName)
	}
	args := normalizeArgs(call.Arguments)
	if err := t.Validate(args); err != nil {
		return Result{}, fmt.Errorf("validation: %s: %w", toolName, err)
	}
	return t.Execute(ctx, args)
}

// normalizeArgs maps the empty and null argument payloads some models send to {}.
func normalizeArgs(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}
