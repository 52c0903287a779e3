// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/advisor-chat/internal/domain"
)

// TokenStore persists the bearer token used by the chat client.
type TokenStore interface {
	// Token returns the stored bearer token, or "" when none is stored.
	Token(ctx context.Context) (string, error)

	// SaveToken stores or replaces the bearer token.
	SaveToken(ctx context.Context, token string) error

	// DeleteToken removes the stored token. Deleting a missing token is not an error.
	DeleteToken(ctx context.Context) error
}

// ChatRepository persists sessions, message history and reply jobs for the development backend.
type ChatRepository interface {
	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID. Returns nil, nil when it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// AppendMessage adds a message to a session's history.
	AppendMessage(ctx context.Context, sessionID string, msg domain.HistoryMessage) error

	// ListMessages returns a session's history ordered oldest-first.
	ListMessages(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)

	// CreateJob inserts a reply job.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by its message ID. Returns nil, nil when it does not exist.
	GetJob(ctx context.Context, messageID string) (*domain.Job, error)

	// UpdateJob persists the job's status, content and error.
	UpdateJob(ctx context.Context, job *domain.Job) error

	// FailInterruptedJobs marks jobs left pending or processing by a previous run as errored.
	FailInterruptedJobs(ctx context.Context, reason string) (int64, error)
}

// Repository is the full persistence surface of a SQLite database.
type Repository interface {
	TokenStore
	ChatRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
