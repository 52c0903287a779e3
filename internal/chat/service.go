// Package chat implements the asynchronous message-completion client: the current
// session and its history, optimistic local messages, and bounded polling for replies.
package chat

import (
	"context"
	"log/slog"

	"github.com/ashureev/advisor-chat/internal/transport"
)

// Options configures a Service.
type Options struct {
	Poller      PollerConfig
	StrictRoles bool
}

// Service wires the conversation store, session manager and poller together.
type Service struct {
	conv     *Conversation
	sessions *SessionManager
	poller   *Poller
}

// NewService creates a chat service on top of backend.
func NewService(backend transport.Backend, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	conv := NewConversation(logger)
	sessions := NewSessionManager(backend, conv, opts.StrictRoles, logger)
	poller := NewPoller(backend, sessions, conv, opts.Poller, logger)
	return &Service{
		conv:     conv,
		sessions: sessions,
		poller:   poller,
	}
}

// Conversation returns the UI-facing store.
func (s *Service) Conversation() *Conversation { return s.conv }

// Sessions returns the session manager.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Poller returns the completion poller.
func (s *Service) Poller() *Poller { return s.poller }

// SendMessage submits text for an assistant reply.
func (s *Service) SendMessage(ctx context.Context, text string) error {
	return s.poller.SendMessage(ctx, text)
}

// Cancel abandons the outstanding reply, if any.
func (s *Service) Cancel() {
	s.poller.Cancel()
}

// CreateSession starts a new, empty conversation.
func (s *Service) CreateSession(ctx context.Context, title *string) (string, error) {
	return s.sessions.CreateSession(ctx, title)
}

// LoadSession resumes an existing conversation.
func (s *Service) LoadSession(ctx context.Context, sessionID string) error {
	return s.sessions.LoadSession(ctx, sessionID)
}

// Clear drops the current conversation.
func (s *Service) Clear() {
	s.sessions.Clear()
}

// Snapshot returns the current conversation state.
func (s *Service) Snapshot() Snapshot {
	return s.conv.Snapshot()
}

// Subscribe registers a listener for conversation events. See Conversation.Subscribe.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	return s.conv.Subscribe(buffer)
}

// Close stops background polling.
func (s *Service) Close() {
	s.poller.Close()
}
