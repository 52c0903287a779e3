package devserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/ashureev/advisor-chat/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Enqueue when no worker can accept the job.
var ErrQueueFull = errors.New("job queue is full")

// InterruptedReason is stored on jobs that were still running when the server stopped.
const InterruptedReason = "The server restarted before this reply finished."

// JobRunner generates replies for submitted messages on a fixed pool of workers.
type JobRunner struct {
	repo      store.ChatRepository
	responder Responder
	workers   int
	queue     chan string
	logger    *slog.Logger
}

// NewJobRunner creates a runner. Call Run to start the workers.
func NewJobRunner(repo store.ChatRepository, responder Responder, workers, queueSize int, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &JobRunner{
		repo:      repo,
		responder: responder,
		workers:   workers,
		queue:     make(chan string, queueSize),
		logger:    logger,
	}
}

// Enqueue schedules the job for messageID without blocking.
func (r *JobRunner) Enqueue(messageID string) error {
	select {
	case r.queue <- messageID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued jobs until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i
		g.Go(func() error {
			r.logger.Debug("Job worker started", "worker", worker)
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-r.queue:
					r.process(gctx, id)
				}
			}
		})
	}
	return g.Wait()
}

func (r *JobRunner) process(ctx context.Context, messageID string) {
	logger := r.logger.With("job_id", messageID)

	job, err := r.repo.GetJob(ctx, messageID)
	if err != nil {
		logger.Error("Failed to load job", "error", err)
		return
	}
	if job == nil {
		logger.Warn("Queued job not found")
		return
	}

	job.Status = domain.JobStatusProcessing
	if err := r.repo.UpdateJob(ctx, job); err != nil {
		logger.Error("Failed to mark job processing", "error", err)
		return
	}

	history, err := r.repo.ListMessages(ctx, job.SessionID)
	if err != nil {
		r.fail(ctx, job, "failed to load conversation history", logger)
		return
	}

	start := time.Now()
	reply, err := r.responder.Respond(ctx, job.Prompt, history)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; the job is failed on next start.
			logger.Info("Job interrupted by shutdown")
			return
		}
		r.fail(ctx, job, err.Error(), logger)
		return
	}

	if err := r.repo.AppendMessage(ctx, job.SessionID, domain.HistoryMessage{
		ID:        uuid.NewString(),
		Role:      string(domain.OriginAssistant),
		Content:   reply,
		CreatedAt: time.Now(),
	}); err != nil {
		r.fail(ctx, job, "failed to store reply", logger)
		return
	}

	job.Status = domain.JobStatusComplete
	job.Content = &reply
	if err := r.repo.UpdateJob(ctx, job); err != nil {
		logger.Error("Failed to mark job complete", "error", err)
		return
	}
	logger.Info("Job complete", "session_id", job.SessionID, "duration_ms", time.Since(start).Milliseconds())
}

func (r *JobRunner) fail(ctx context.Context, job *domain.Job, reason string, logger *slog.Logger) {
	job.Status = domain.JobStatusError
	job.Error = &reason
	if err := r.repo.UpdateJob(ctx, job); err != nil {
		logger.Error("Failed to mark job errored", "error", err)
		return
	}
	logger.Warn("Job failed", "session_id", job.SessionID, "reason", reason)
}
