package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownRole is returned by ParseOrigin for role strings outside the known set.
var ErrUnknownRole = errors.New("unknown message role")

// Origin identifies who produced a message.
type Origin string

const (
	// OriginUser marks messages typed by the local user.
	OriginUser Origin = "user"
	// OriginAssistant marks messages produced by the backend assistant.
	OriginAssistant Origin = "assistant"
	// OriginSystem marks server-side system rows. They render like assistant output.
	OriginSystem Origin = "system"
)

// ParseOrigin maps a server role string onto the closed Origin set.
func ParseOrigin(role string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return OriginUser, nil
	case "assistant":
		return OriginAssistant, nil
	case "system":
		return OriginSystem, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// IsUser reports whether the message came from the local user.
func (o Origin) IsUser() bool {
	return o == OriginUser
}

// Message is a UI-local chat message. It is never mutated after creation.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Origin    Origin    `json:"origin"`
	AudioURL  string    `json:"audio_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsUser reports whether the message was typed by the local user.
func (m Message) IsUser() bool {
	return m.Origin.IsUser()
}

// HistoryMessage is one row of GET /chat/sessions/{id}/messages.
type HistoryMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
