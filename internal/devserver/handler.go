// Package devserver implements a development backend for the chat API: session and
// history storage in SQLite, and asynchronous reply jobs answered by a worker pool.
package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/ashureev/advisor-chat/internal/identity"
	"github.com/ashureev/advisor-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxRequestBodySize = 64 << 10

// Handler serves the chat endpoints.
type Handler struct {
	repo    store.ChatRepository
	runner  *JobRunner
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a chat handler.
func NewHandler(repo store.ChatRepository, runner *JobRunner, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:    repo,
		runner:  runner,
		limiter: limiter,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the chat routes on r. Callers mount r behind identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{sessionID}/messages", h.ListMessages)
		r.Post("/messages", h.SubmitMessage)
		r.Get("/messages/{messageID}/status", h.MessageStatus)
	})
}

// CreateSession handles POST /chat/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req domain.CreateSessionRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		req.Title = &title
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     req.Title,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		h.logger.Error("Failed to create session", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.logger.Info("Session created", "user_id", userID, "session_id", session.ID)
	JSON(w, http.StatusCreated, session)
}

// ListMessages handles GET /chat/sessions/{sessionID}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if _, ok := h.ownedSession(w, r, userID, sessionID); !ok {
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list messages", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, messages)
}

// SubmitMessage handles POST /chat/messages. The reply is generated asynchronously.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if h.limiter != nil && !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req domain.SubmitRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if _, ok := h.ownedSession(w, r, userID, req.SessionID); !ok {
		return
	}

	now := time.Now().UTC()
	if err := h.repo.AppendMessage(r.Context(), req.SessionID, domain.HistoryMessage{
		ID:        uuid.NewString(),
		Role:      string(domain.OriginUser),
		Content:   req.Content,
		CreatedAt: now,
	}); err != nil {
		h.logger.Error("Failed to store user message", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	job := &domain.Job{
		MessageID: uuid.NewString(),
		SessionID: req.SessionID,
		UserID:    userID,
		Prompt:    req.Content,
		Status:    domain.JobStatusPending,
		Speak:     req.SpeakResponse != nil && *req.SpeakResponse,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateJob(r.Context(), job); err != nil {
		h.logger.Error("Failed to create job", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.runner.Enqueue(job.MessageID); err != nil {
		reason := "The assistant is busy. Please try again."
		job.Status = domain.JobStatusError
		job.Error = &reason
		if updateErr := h.repo.UpdateJob(r.Context(), job); updateErr != nil {
			h.logger.Error("Failed to mark rejected job", "job_id", job.MessageID, "error", updateErr)
		}
		h.logger.Warn("Job rejected", "job_id", job.MessageID, "error", err)
		Error(w, http.StatusServiceUnavailable, "job queue is full")
		return
	}

	h.logger.Info("Message submitted",
		"user_id", userID,
		"session_id", req.SessionID,
		"job_id", job.MessageID,
		"message_length", len(req.Content),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	JSON(w, http.StatusAccepted, domain.SubmitResult{
		MessageID: job.MessageID,
		Status:    job.Status,
		CreatedAt: &now,
	})
}

// MessageStatus handles GET /chat/messages/{messageID}/status.
func (h *Handler) MessageStatus(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	job, err := h.repo.GetJob(r.Context(), messageID)
	if err != nil {
		h.logger.Error("Failed to load job", "job_id", messageID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load message status")
		return
	}
	if job == nil || job.UserID != userID {
		Error(w, http.StatusNotFound, "message not found")
		return
	}
	JSON(w, http.StatusOK, job.StatusResult())
}

// decode reads a JSON body into v. With allowEmpty an absent body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ownedSession loads the session and writes 404 unless it belongs to userID.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request, userID, sessionID string) (*domain.Session, bool) {
	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to load session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if session == nil || session.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}
