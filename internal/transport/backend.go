// Package transport implements the HTTP client for the assistant backend.
package transport

import (
	"context"

	"github.com/ashureev/advisor-chat/internal/domain"
)

// Backend defines the assistant API consumed by the chat client.
// This interface is implemented by the HTTP client.
type Backend interface {
	// CreateSession creates a conversation session (POST /chat/sessions).
	CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error)

	// ListMessages returns a session's history oldest-first (GET /chat/sessions/{id}/messages).
	ListMessages(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)

	// SubmitMessage creates a pending assistant reply (POST /chat/messages).
	SubmitMessage(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error)

	// MessageStatus reports the state of a pending reply (GET /chat/messages/{id}/status).
	MessageStatus(ctx context.Context, messageID string) (*domain.StatusResult, error)
}

// TokenSource supplies the bearer token attached to each request.
// An empty token means the request is sent unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the static token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Ensure Client implements Backend.
var _ Backend = (*Client)(nil)
