package models

import (
	"fmt"
	"time"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage builds a timestamped message, validating the role.
func NewChatMessage(role, content string) (ChatMessage, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return ChatMessage{}, &ValidationError{
			Field:   "role",
			Message: fmt.Sprintf("must be %s, %s or %s, got %q", RoleUser, RoleAssistant, RoleSystem, role),
		}
	}
	return ChatMessage{Role: role, Content: content, Timestamp: time.Now()}, nil
}

// ChatHistory is an ordered, bounded sequence of messages owned by exactly
// one session. When the bound is exceeded the oldest messages are evicted
// first, so the retained messages are always the most recent maxMessages.
type ChatHistory struct {
	messages    []ChatMessage
	maxMessages int
}

// NewChatHistory creates a history bounded to maxMessages entries.
// A non-positive bound means unbounded.
func NewChatHistory(maxMessages int) *ChatHistory {
	return &ChatHistory{maxMessages: maxMessages}
}

// Add appends a message, trimming oldest-first if the bound is exceeded.
func (h *ChatHistory) Add(role, content string) error {
	msg, err := NewChatMessage(role, content)
	if err != nil {
		return err
	}
	h.messages = append(h.messages, msg)
	if h.maxMessages > 0 && len(h.messages) > h.maxMessages {
		h.messages = h.messages[len(h.messages)-h.maxMessages:]
	}
	return nil
}

// Messages returns a copy of the retained messages, oldest first.
func (h *ChatHistory) Messages() []ChatMessage {
	out := make([]ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *ChatHistory) Len() int {
	return len(h.messages)
}

// Clear removes all messages.
func (h *ChatHistory) Clear() {
	h.messages = h.messages[:0]
}
