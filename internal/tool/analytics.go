package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stupiduntilnot/earnings-agent/internal/analytics"
	"github.com/stupiduntilnot/earnings-agent/internal/batch"
	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
	"github.com/stupiduntilnot/earnings-agent/internal/model"
)

// BatchToolName is the tool that runs several analytics methods in one call.
const BatchToolName = "batch_analytics"

type methodArgs struct {
	By string `json:"by,omitempty"`
}

// MethodTool exposes one registry method. Its output is the final answer.
type MethodTool struct {
	method     analytics.Method
	dispatcher *batch.Dispatcher
	limits     Limits
}

func NewMethodTool(method analytics.Method, dispatcher *batch.Dispatcher, limits Limits) *MethodTool {
	return &MethodTool{method: method, dispatcher: dispatcher, limits: limits}
}

func (t *MethodTool) Name() string { return t.method.Name }

func (t *MethodTool) ReturnDirect() bool { return true }

func (t *MethodTool) Spec() model.ToolSpec {
	params := json.RawMessage(`{"type":"object","properties":{}}`)
	if t.method.Grouped {
		params = groupedParameters
	}
	return model.ToolSpec{Name: t.method.Name, Description: t.method.Description, Parameters: params}
}

func (t *MethodTool) Validate(raw json.RawMessage) error {
	var args methodArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (t *MethodTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args methodArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{}, fmt.Errorf("invalid arguments: %w", err)
	}
	out := t.dispatcher.One(ctx, batch.Request{Method: t.method.Name, By: args.By})
	return limitedResult(out, t.limits, map[string]any{"method": t.method.Name}), nil
}

// BatchTool runs an ordered list of methods through the dispatcher. The model
// sees its output and writes the final answer.
type BatchTool struct {
	dispatcher *batch.Dispatcher
	limits     Limits
}

func NewBatchTool(dispatcher *batch.Dispatcher, limits Limits) *BatchTool {
	return &BatchTool{dispatcher: dispatcher, limits: limits}
}

func (t *BatchTool) Name() string { return BatchToolName }

func (t *BatchTool) ReturnDirect() bool { return false }

func (t *BatchTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name: BatchToolName,
		Description: fmt.Sprintf("Build one report from several analytics methods. Each item names a method "+
			"and, for grouped methods, an optional grouping field (default category). At most %d methods run.",
			t.dispatcher.MaxBatch()),
		Parameters: batchParameters,
	}
}

func (t *BatchTool) Validate(raw json.RawMessage) error {
	_, err := batch.Decode(raw)
	return err
}

func (t *BatchTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	reqs, err := batch.Decode(raw)
	if err != nil {
		return Result{}, err
	}
	out := t.dispatcher.Run(ctx, reqs)
	return limitedResult(out, t.limits, map[string]any{
		"requested": len(reqs),
		"max":       t.dispatcher.MaxBatch(),
	}), nil
}

// RegisterAnalytics registers one tool per registry method followed by the batch tool.
func RegisterAnalytics(reg *Registry, methods []analytics.Method, dispatcher *batch.Dispatcher, limits Limits) error {
	for _, m := range methods {
		if err := reg.Register(NewMethodTool(m, dispatcher, limits)); err != nil {
			return err
		}
	}
	return reg.Register(NewBatchTool(dispatcher, limits))
}

func limitedResult(out string, limits Limits, meta map[string]any) Result {
	text, tl, tb := ApplyOutputLimits(out, limits)
	return Result{OK: true, Output: text, Truncated: tl || tb, Meta: meta}
}

var groupedParameters = mustSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"by": byProperty(),
	},
})

var batchParameters = mustSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"methods": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"method": map[string]any{"type": "string", "description": "Analytics method name."},
					"by":     byProperty(),
				},
				"required": []string{"method"},
			},
		},
	},
	"required": []string{"methods"},
})

func byProperty() map[string]any {
	keys := make([]string, 0, len(dataset.GroupKeys))
	for _, k := range dataset.GroupKeys {
		keys = append(keys, string(k))
	}
	return map[string]any{
		"type":        "string",
		"enum":        keys,
		"description": "Grouping field. Defaults to category.",
	}
}

func mustSchema(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
