package session

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message. Only user and assistant turns are
// ever part of a transcript; the system instruction is supplied separately.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents a single chat message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// User builds a user message stamped with now.
func User(content string, now time.Time) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: now}
}

// Assistant builds an assistant message stamped with now.
func Assistant(content string, now time.Time) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: now}
}

// Validate checks that every message carries a known role.
func Validate(messages []Message) error {
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("invalid role %q at message %d", msg.Role, i)
		}
	}
	return nil
}

// LastUserContent returns the lowercased content of the most recent user
// message, or "" when the conversation has none.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return strings.ToLower(messages[i].Content)
		}
	}
	return ""
}

// Clone returns a copy of messages that shares no backing array with the input.
func Clone(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
