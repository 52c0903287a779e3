package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/ashureev/advisor-chat/internal/transport"
)

// ErrSessionReset is returned by EnsureSession when the conversation was cleared or switched
// while the implicit session was being created. The created session is discarded.
var ErrSessionReset = errors.New("session changed while being created")

// Canceler stops any outstanding reply and then runs apply before another submission can start.
// Implemented by Poller.
type Canceler interface {
	CancelThen(apply func())
}

// SessionManager owns the current session and its message history.
type SessionManager struct {
	backend     transport.Backend
	conv        *Conversation
	strictRoles bool
	logger      *slog.Logger

	createMu sync.Mutex // Serializes session creation
	canceler Canceler
}

// NewSessionManager creates a session manager writing into conv.
func NewSessionManager(backend transport.Backend, conv *Conversation, strictRoles bool, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		backend:     backend,
		conv:        conv,
		strictRoles: strictRoles,
		logger:      logger,
	}
}

// SetCanceler sets the poller whose outstanding job is cancelled when the session is replaced or cleared.
func (m *SessionManager) SetCanceler(c Canceler) {
	m.canceler = c
}

// CurrentSessionID returns the current session ID, or "".
func (m *SessionManager) CurrentSessionID() string {
	return m.conv.SessionID()
}

// CreateSession starts a new conversation. On success the new session becomes current
// and the message list is emptied. On failure nothing local changes.
func (m *SessionManager) CreateSession(ctx context.Context, title *string) (string, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	session, err := m.backend.CreateSession(ctx, domain.CreateSessionRequest{Title: title})
	if err != nil {
		m.logger.Warn("Failed to create chat session", "error", err)
		return "", fmt.Errorf("create session: %w", err)
	}

	m.cancelThen(func() {
		m.conv.replace(session.ID, []domain.Message{})
		m.conv.setError("")
	})

	m.logger.Info("Chat session created", "session_id", session.ID, "user_id", session.UserID)
	return session.ID, nil
}

// EnsureSession returns the current session ID, creating a session when none exists.
// Unlike CreateSession it keeps the message list, so an optimistic user message survives.
func (m *SessionManager) EnsureSession(ctx context.Context) (string, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	id, epoch := m.conv.sessionEpoch()
	if id != "" {
		return id, nil
	}

	session, err := m.backend.CreateSession(ctx, domain.CreateSessionRequest{})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	if !m.conv.adoptSession(epoch, session.ID) {
		m.logger.Info("Discarding implicit session, conversation changed meanwhile", "session_id", session.ID)
		return "", ErrSessionReset
	}
	m.logger.Info("Chat session created implicitly", "session_id", session.ID)
	return session.ID, nil
}

// LoadSession switches to an existing session and replaces the message list with its history.
//
// The switch of the current session happens before the fetch and is not rolled back
// when the fetch fails; the message list is then left as it was. A reply started while the
// history is in flight is cancelled again before the list is replaced.
func (m *SessionManager) LoadSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("load session: empty session id")
	}

	m.cancelThen(func() {
		m.conv.setSession(sessionID)
	})

	history, err := m.backend.ListMessages(ctx, sessionID)
	if err != nil {
		m.logger.Warn("Failed to load chat history", "session_id", sessionID, "error", err)
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	messages, err := m.mapHistory(history)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	m.cancelThen(func() {
		m.conv.replace(sessionID, messages)
		m.conv.setError("")
	})
	m.logger.Info("Chat session loaded", "session_id", sessionID, "message_count", len(messages))
	return nil
}

// Clear cancels any outstanding reply, drops the current session and empties the message list.
func (m *SessionManager) Clear() {
	m.cancelThen(func() {
		m.conv.replace("", []domain.Message{})
		m.conv.setError("")
	})
	m.logger.Info("Chat session cleared")
}

// cancelThen cancels the outstanding reply and applies a conversation change atomically with it,
// so no submission can slip in between.
func (m *SessionManager) cancelThen(apply func()) {
	if m.canceler == nil {
		apply()
		return
	}
	m.canceler.CancelThen(apply)
}

// mapHistory converts server rows into local messages, preserving order.
// "user" maps to the user origin and every other known role to the assistant origin.
func (m *SessionManager) mapHistory(history []domain.HistoryMessage) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(history))
	for _, h := range history {
		origin, err := domain.ParseOrigin(h.Role)
		if err != nil {
			if m.strictRoles {
				return nil, fmt.Errorf("%w: message %s: %w", transport.ErrDecoding, h.ID, err)
			}
			m.logger.Warn("Unknown message role, treating as assistant", "message_id", h.ID, "role", h.Role)
			origin = domain.OriginAssistant
		}
		if origin != domain.OriginUser {
			origin = domain.OriginAssistant
		}
		messages = append(messages, domain.Message{
			ID:        h.ID,
			Content:   h.Content,
			Origin:    origin,
			CreatedAt: h.CreatedAt,
		})
	}
	return messages, nil
}
