package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/advisor-chat/internal/config"
	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/ashureev/advisor-chat/internal/transport"
	"github.com/google/uuid"
)

const (
	// SubmitFailedMessage is appended when the initial submission cannot be made.
	SubmitFailedMessage = "Sorry, I couldn't process your request. Please try again."
	// TimeoutMessage is appended when the attempt budget runs out.
	TimeoutMessage = "The assistant took too long to respond. Please try again."
	// GenericErrorMessage is used when the backend reports an error without text.
	GenericErrorMessage = "Something went wrong while generating a response."
)

var (
	// ErrBusy is returned by SendMessage while an earlier reply is still outstanding.
	ErrBusy = errors.New("a reply is already in progress")
	// ErrClosed is returned by SendMessage after Close.
	ErrClosed = errors.New("chat client closed")
)

// State is the poller's position in the submission lifecycle.
type State int

const (
	// StateIdle means no job is outstanding.
	StateIdle State = iota
	// StateSubmitting means session creation or the submit call is in flight.
	StateSubmitting
	// StatePolling means a job ID exists and status checks are scheduled.
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Outcome records how the most recent submission ended.
type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeComplete     Outcome = "complete"
	OutcomeDropped      Outcome = "dropped" // complete without content; nothing appended
	OutcomeError        Outcome = "error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeSubmitFailed Outcome = "submit_failed"
	OutcomeCancelled    Outcome = "cancelled"
)

// PollerConfig controls submission and polling behavior.
type PollerConfig struct {
	Interval       time.Duration
	MaxAttempts    int
	SpeakResponses bool
	Clock          Clock // nil uses real tickers
}

// DefaultPollerConfig returns the standard polling cadence.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    config.DefaultPollInterval,
		MaxAttempts: config.DefaultMaxPollAttempts,
	}
}

// pendingJob is the single outstanding reply. Its ticker and context are released together.
type pendingJob struct {
	id       string
	attempts int
	ticker   Ticker
	cancel   context.CancelFunc
}

func (j *pendingJob) stop() {
	j.ticker.Stop()
	j.cancel()
}

// Poller drives one user submission from send to a terminal assistant message.
// All state transitions happen under mu; the conversation lock is only taken after mu.
type Poller struct {
	backend  transport.Backend
	sessions *SessionManager
	conv     *Conversation
	cfg      PollerConfig
	clock    Clock
	logger   *slog.Logger

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	state       State
	gen         uint64 // bumped on every submission and cancel; stale submissions compare against it
	job         *pendingJob
	abortSubmit context.CancelFunc // aborts the in-flight session creation or submit call
	outcome     Outcome
	closed      bool
}

// NewPoller creates a poller. It registers itself as the session manager's canceler.
func NewPoller(backend transport.Backend, sessions *SessionManager, conv *Conversation, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	root, cancel := context.WithCancel(context.Background())
	p := &Poller{
		backend:    backend,
		sessions:   sessions,
		conv:       conv,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		root:       root,
		rootCancel: cancel,
	}
	sessions.SetCanceler(p)
	return p
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastOutcome returns how the most recent submission ended.
func (p *Poller) LastOutcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// PendingJobID returns the ID of the job being polled, or "".
func (p *Poller) PendingJobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.job == nil {
		return ""
	}
	return p.job.id
}

// SendMessage submits text and starts polling for the reply. It returns once polling has
// started or the submission has failed; the reply itself arrives asynchronously.
//
// Whitespace-only text is ignored. While another reply is outstanding ErrBusy is returned
// and nothing changes.
func (p *Poller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	submitCtx, abort := context.WithCancel(ctx)
	defer abort()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrBusy
	}
	p.gen++
	gen := p.gen
	p.state = StateSubmitting
	p.abortSubmit = abort
	p.conv.append(domain.Message{
		ID:        uuid.NewString(),
		Content:   text,
		Origin:    domain.OriginUser,
		CreatedAt: time.Now(),
	})
	p.conv.setError("")
	p.conv.setProcessing(true)
	p.mu.Unlock()

	sessionID, err := p.sessions.EnsureSession(submitCtx)
	if !p.current(gen) {
		p.logger.Info("Submission cancelled before it was sent")
		return nil
	}
	if err != nil {
		p.failSubmission(gen, err)
		return err
	}

	req := domain.SubmitRequest{SessionID: sessionID, Content: text}
	if p.cfg.SpeakResponses {
		speak := true
		req.SpeakResponse = &speak
	}
	result, err := p.backend.SubmitMessage(submitCtx, req)
	if err != nil {
		if !p.current(gen) {
			return nil
		}
		p.failSubmission(gen, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.currentLocked(gen) {
		p.logger.Info("Ignoring submission result after cancel", "job_id", result.MessageID)
		return nil
	}
	p.abortSubmit = nil

	// The initial status is never treated as final; the first tick decides.
	jobCtx, cancel := context.WithCancel(p.root)
	job := &pendingJob{
		id:     result.MessageID,
		ticker: p.clock.NewTicker(p.cfg.Interval),
		cancel: cancel,
	}
	p.job = job
	p.state = StatePolling

	p.logger.Info("Reply pending",
		"session_id", sessionID,
		"job_id", job.id,
		"initial_status", result.Status,
	)

	p.wg.Add(1)
	go p.run(jobCtx, job)
	return nil
}

// Cancel stops any outstanding submission or polling. Messages already appended stay.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

// CancelThen cancels like Cancel and runs apply before releasing the poller,
// so no new submission can start in between.
func (p *Poller) CancelThen(apply func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
	if apply != nil {
		apply()
	}
}

func (p *Poller) cancelLocked() {
	if p.state == StateIdle {
		return
	}
	p.gen++
	if p.abortSubmit != nil {
		p.abortSubmit()
		p.abortSubmit = nil
	}
	jobID := ""
	if p.job != nil {
		jobID = p.job.id
		p.job.stop()
		p.job = nil
	}
	p.state = StateIdle
	p.outcome = OutcomeCancelled
	p.conv.setProcessing(false)
	p.logger.Info("Reply cancelled", "job_id", jobID)
}

// Close cancels outstanding work and waits for the polling goroutine to exit.
// Later sends fail with ErrClosed.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.Cancel()
	p.rootCancel()
	p.wg.Wait()
}

// current reports whether the submission started as gen is still the active one.
func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked(gen)
}

func (p *Poller) currentLocked(gen uint64) bool {
	return p.gen == gen && p.state == StateSubmitting
}

func (p *Poller) failSubmission(gen uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.currentLocked(gen) {
		return
	}
	p.abortSubmit = nil
	p.logger.Warn("Failed to submit message", "error", err)

	p.appendAssistantLocked(SubmitFailedMessage, "")
	p.conv.setError(err.Error())
	p.idleLocked(OutcomeSubmitFailed)
}

// run owns the job's ticker. Ticks are handled one at a time, so status calls for a job never overlap.
func (p *Poller) run(ctx context.Context, job *pendingJob) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-job.ticker.C():
			if !p.tick(ctx, job) {
				return
			}
		}
	}
}

// tick performs one polling attempt. It returns false once the job is no longer active.
func (p *Poller) tick(ctx context.Context, job *pendingJob) bool {
	p.mu.Lock()
	if p.job != job {
		p.mu.Unlock()
		return false
	}
	job.attempts++
	attempt := job.attempts
	if attempt >= p.cfg.MaxAttempts {
		p.logger.Warn("Reply timed out", "job_id", job.id, "attempt", attempt)
		p.releaseLocked(job)
		p.appendAssistantLocked(TimeoutMessage, "")
		p.conv.setError(TimeoutMessage)
		p.idleLocked(OutcomeTimeout)
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	status, err := p.backend.MessageStatus(ctx, job.id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job != job {
		p.logger.Debug("Ignoring status for inactive job", "job_id", job.id, "attempt", attempt)
		return false
	}
	if err != nil {
		p.logger.Warn("Status check failed, retrying on next tick", "job_id", job.id, "attempt", attempt, "error", err)
		return true
	}

	switch status.Status {
	case domain.JobStatusComplete:
		p.releaseLocked(job)
		if status.Content == nil || *status.Content == "" {
			p.logger.Warn("Reply complete without content", "job_id", job.id)
			p.idleLocked(OutcomeDropped)
			return false
		}
		audio := ""
		if status.AudioURL != nil {
			audio = *status.AudioURL
		}
		p.appendAssistantLocked(*status.Content, audio)
		p.idleLocked(OutcomeComplete)
		p.logger.Info("Reply complete", "job_id", job.id, "attempt", attempt)
		return false

	case domain.JobStatusError:
		p.releaseLocked(job)
		text := GenericErrorMessage
		if status.Error != nil && *status.Error != "" {
			text = *status.Error
		}
		p.appendAssistantLocked(text, "")
		p.conv.setError(text)
		p.idleLocked(OutcomeError)
		p.logger.Warn("Reply failed", "job_id", job.id, "attempt", attempt, "error", text)
		return false

	default:
		return true
	}
}

func (p *Poller) releaseLocked(job *pendingJob) {
	job.stop()
	p.job = nil
}

func (p *Poller) idleLocked(outcome Outcome) {
	p.state = StateIdle
	p.outcome = outcome
	p.conv.setProcessing(false)
}

func (p *Poller) appendAssistantLocked(content, audioURL string) {
	p.conv.append(domain.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Origin:    domain.OriginAssistant,
		AudioURL:  audioURL,
		CreatedAt: time.Now(),
	})
}
