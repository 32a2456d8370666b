// Package history keeps per-session conversation history and prepares the
// model-visible view of it with pair-based deduplication and trimming.
package history

import "github.com/google/uuid"

// Role tags a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a model-agnostic chat message. Name and ToolCallID are set on
// tool results; ToolCalls only on assistant messages.
type Message struct {
	ID         string
	Role       Role
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

func newID() string {
	return uuid.NewString()
}

func System(content string) Message {
	return Message{ID: newID(), Role: RoleSystem, Content: content}
}

func User(content string) Message {
	return Message{ID: newID(), Role: RoleUser, Content: content}
}

func Assistant(content string, calls ...ToolCall) Message {
	return Message{ID: newID(), Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolResult(callID, name, content string) Message {
	return Message{ID: newID(), Role: RoleTool, Content: content, Name: name, ToolCallID: callID}
}

// splitSystem returns the first system message, if any, and every
// non-system message in order. Later system messages are discarded.
func splitSystem(messages []Message) (*Message, []Message) {
	var system *Message
	rest := make([]Message, 0, len(messages))
	for i := range messages {
		if messages[i].Role == RoleSystem {
			if system == nil {
				m := messages[i]
				system = &m
			}
			continue
		}
		rest = append(rest, messages[i])
	}
	return system, rest
}

func assemble(system *Message, pairs [][]Message) []Message {
	n := 0
	for _, p := range pairs {
		n += len(p)
	}
	out := make([]Message, 0, n+1)
	if system != nil {
		out = append(out, *system)
	}
	for _, p := range pairs {
		out = append(out, p...)
	}
	return out
}
