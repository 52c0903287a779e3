// Package domain contains core domain types for the advisor chat client.
package domain

import (
	"time"
)

// Session is a server-assigned conversation scope. Messages always belong to exactly one session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     *string   `json:"title,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayTitle returns the session title or a placeholder for untitled sessions.
func (s *Session) DisplayTitle() string {
	if s.Title == nil || *s.Title == "" {
		return "Untitled conversation"
	}
	return *s.Title
}

// CreateSessionRequest is the body of POST /chat/sessions.
type CreateSessionRequest struct {
	Title *string `json:"title,omitempty"`
}
