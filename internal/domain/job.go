package domain

import (
	"time"
)

// JobStatus is the server-reported state of an assistant reply.
type JobStatus string

const (
	// JobStatusPending means the reply has been accepted but not started.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing means the assistant is generating the reply.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusComplete means the reply content is available.
	JobStatusComplete JobStatus = "complete"
	// JobStatusError means generation failed; Error carries the reason.
	JobStatusError JobStatus = "error"
)

// Terminal reports whether polling should stop on this status.
// Any value other than complete or error keeps the client polling.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// SubmitRequest is the body of POST /chat/messages.
type SubmitRequest struct {
	SessionID     string `json:"sessionId"`
	Content       string `json:"content"`
	SpeakResponse *bool  `json:"speakResponse,omitempty"`
}

// SubmitResult is the acknowledgment returned by POST /chat/messages.
type SubmitResult struct {
	MessageID string     `json:"messageId"`
	Status    JobStatus  `json:"status"`
	Content   *string    `json:"content,omitempty"`
	AudioURL  *string    `json:"audioUrl,omitempty"`
	Error     *string    `json:"error,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// StatusResult is the body of GET /chat/messages/{id}/status.
type StatusResult struct {
	MessageID string    `json:"messageId"`
	Status    JobStatus `json:"status"`
	Content   *string   `json:"content,omitempty"`
	AudioURL  *string   `json:"audioUrl,omitempty"`
	Error     *string   `json:"error,omitempty"`
}

// Job is the server-side record behind a submitted message.
type Job struct {
	MessageID string
	SessionID string
	UserID    string
	Prompt    string
	Status    JobStatus
	Content   *string
	Error     *string
	Speak     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusResult converts the job into its wire form.
func (j *Job) StatusResult() StatusResult {
	return StatusResult{
		MessageID: j.MessageID,
		Status:    j.Status,
		Content:   j.Content,
		Error:     j.Error,
	}
}
