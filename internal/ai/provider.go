package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyReply is returned when a backend answers without any text.
var ErrEmptyReply = errors.New("ai: empty reply")

// Message is one chat entry in the OpenAI-style role vocabulary shared by all backends.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates the next assistant message for a conversation.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
