package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stupiduntilnot/earnings-agent/internal/history"
)

// ToolSpec describes a function the model may call. Parameters is a JSON schema.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one chat completion call.
type Request struct {
	Messages    []history.Message
	Temperature float32
	Tools       []ToolSpec
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	ToolCalls    []history.ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider is the model provider abstraction used by the agent.
type Provider interface {
	Complete(ctx context.Context, req Request) (CompletionResponse, error)
	Model() string
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// StatusError is a provider failure with an HTTP status code.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider status=%d", e.Code)
	}
	return fmt.Sprintf("provider status=%d: %s", e.Code, e.Message)
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
