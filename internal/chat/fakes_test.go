package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
)

var errNetwork = errors.New("dial tcp 127.0.0.1:8080: connect: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// fakeBackend records calls and delegates to optional hooks.
type fakeBackend struct {
	mu sync.Mutex

	createFn func(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error)
	listFn   func(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)
	submitFn func(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error)
	statusFn func(ctx context.Context, messageID string, call int) (*domain.StatusResult, error)

	createCalls int
	submits     []domain.SubmitRequest
	statusCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

func (f *fakeBackend) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	f.mu.Lock()
	f.createCalls++
	n := f.createCalls
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &domain.Session{ID: fmt.Sprintf("session-%d", n), UserID: "u1", IsActive: true, CreatedAt: time.Now()}, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	if f.listFn != nil {
		return f.listFn(ctx, sessionID)
	}
	return []domain.HistoryMessage{}, nil
}

func (f *fakeBackend) SubmitMessage(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &domain.SubmitResult{MessageID: "job-1", Status: domain.JobStatusPending}, nil
}

func (f *fakeBackend) MessageStatus(ctx context.Context, messageID string) (*domain.StatusResult, error) {
	call := int(f.statusCalls.Add(1))
	if f.statusFn != nil {
		return f.statusFn(ctx, messageID, call)
	}
	return &domain.StatusResult{MessageID: messageID, Status: domain.JobStatusPending}, nil
}

func (f *fakeBackend) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeBackend) Submits() []domain.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SubmitRequest(nil), f.submits...)
}

func (f *fakeBackend) StatusCalls() int {
	return int(f.statusCalls.Load())
}

// fakeClock hands out manually fired tickers and counts how many were created.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) Last() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() { t.stopped.Store(true) }

func (t *fakeTicker) Stopped() bool { return t.stopped.Load() }

// Fire delivers one tick. It returns false if nothing received it in time,
// which happens once the polling goroutine has exited.
func (t *fakeTicker) Fire() bool {
	select {
	case t.ch <- time.Now():
		return true
	case <-time.After(time.Second):
		return false
	}
}

func newTestService(t testing.TB, backend *fakeBackend, clock *fakeClock, maxAttempts int) *Service {
	svc := NewService(backend, Options{
		Poller: PollerConfig{
			Interval:    500 * time.Millisecond,
			MaxAttempts: maxAttempts,
			Clock:       clock,
		},
	}, discardLogger())
	t.Cleanup(svc.Close)
	return svc
}
