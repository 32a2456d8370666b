package history

import (
	"context"
	"sync"
)

// Store persists history per session. Sessions never share messages.
type Store interface {
	Load(ctx context.Context, session string) ([]Message, error)
	Replace(ctx context.Context, session string, msgs []Message) error
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string][]Message{}}
}

func (s *MemoryStore) Load(_ context.Context, session string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.sessions[session]), nil
}

func (s *MemoryStore) Replace(_ context.Context, session string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session] = cloneMessages(msgs)
	return nil
}

func cloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ToolCalls != nil {
			m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}
