package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/stupiduntilnot/earnings-agent/internal/history"
	"github.com/stupiduntilnot/earnings-agent/internal/model"
)

// DefaultBaseURL points at Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

const emptyResponse = "(empty model response)"

// Client is a chat completions client for any OpenAI-compatible API.
type Client struct {
	api   *goopenai.Client
	model string
}

// NewClient creates an OpenAI client. An empty baseURL uses DefaultBaseURL.
func NewClient(apiKey, baseURL, modelName string, timeout time.Duration) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{api: goopenai.NewClientWithConfig(cfg), model: modelName}
}

func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat completion request. HTTP failures are returned as
// *model.StatusError.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.CompletionResponse, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toMessages(req.Messages),
		Temperature: req.Temperature,
		Tools:       toTools(req.Tools),
	})
	if err != nil {
		return model.CompletionResponse{}, wrapError(err)
	}

	result := model.CompletionResponse{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		result.Content = emptyResponse
		return result, nil
	}
	msg := resp.Choices[0].Message
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, history.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	result.Content = strings.TrimSpace(msg.Content)
	if result.Content == "" && len(result.ToolCalls) == 0 {
		result.Content = emptyResponse
	}
	return result, nil
}

func toMessages(msgs []history.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case history.RoleSystem:
			cm.Role = goopenai.ChatMessageRoleSystem
		case history.RoleUser:
			cm.Role = goopenai.ChatMessageRoleUser
		case history.RoleAssistant:
			cm.Role = goopenai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case history.RoleTool:
			cm.Role = goopenai.ChatMessageRoleTool
			cm.Name = m.Name
			cm.ToolCallID = m.ToolCallID
		}
		out = append(out, cm)
	}
	return out
}

func toTools(specs []model.ToolSpec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

func wrapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &model.StatusError{Code: apiErr.HTTPStatusCode, Message: truncate(apiErr.Message, 400), Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &model.StatusError{Code: reqErr.HTTPStatusCode, Message: truncate(reqErr.Error(), 400), Err: err}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
