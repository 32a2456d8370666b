package tool

import (
	"context"
	"encoding/json"

	"github.com/stupiduntilnot/earnings-agent/internal/model"
)

// Tool is one function exposed to the model.
type Tool interface {
	Name() string
	Spec() model.ToolSpec
	// ReturnDirect reports whether the tool output is the final answer of the turn.
	ReturnDirect() bool
	Validate(raw json.RawMessage) error
	Execute(ctx context.Context, raw json.RawMessage) (Result, error)
}
