package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func waitIdle(t *testing.T, p *Poller) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == StateIdle }, waitFor, 5*time.Millisecond)
}

func origins(msgs []domain.Message) []domain.Origin {
	out := make([]domain.Origin, len(msgs))
	for i, m := range msgs {
		out[i] = m.Origin
	}
	return out
}

func TestSendMessage_CompletesOnThirdTick(t *testing.T) {
	backend := newFakeBackend()
	backend.statusFn = func(_ context.Context, id string, call int) (*domain.StatusResult, error) {
		if call < 3 {
			return &domain.StatusResult{MessageID: id, Status: domain.JobStatusProcessing}, nil
		}
		return &domain.StatusResult{
			MessageID: id,
			Status:    domain.JobStatusComplete,
			Content:   strPtr("Your portfolio is up 8.2% YTD."),
		}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "What is my portfolio return?"))
	require.Equal(t, StatePolling, svc.Poller().State())
	require.True(t, svc.Conversation().Processing())
	require.Equal(t, "job-1", svc.Poller().PendingJobID())
	require.Equal(t, 1, clock.Created())

	ticker := clock.Last()
	for i := 0; i < 3; i++ {
		require.True(t, ticker.Fire(), "tick %d", i+1)
	}
	waitIdle(t, svc.Poller())

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, domain.OriginUser, msgs[0].Origin)
	require.Equal(t, "What is my portfolio return?", msgs[0].Content)
	require.Equal(t, domain.OriginAssistant, msgs[1].Origin)
	require.Equal(t, "Your portfolio is up 8.2% YTD.", msgs[1].Content)

	require.False(t, svc.Conversation().Processing())
	require.Equal(t, OutcomeComplete, svc.Poller().LastOutcome())
	require.Empty(t, svc.Poller().PendingJobID())
	require.True(t, ticker.Stopped())

	// The polling goroutine is gone; no further status calls happen.
	require.False(t, ticker.Fire())
	require.Equal(t, 3, backend.StatusCalls())
}

func TestSendMessage_SubmitNetworkError(t *testing.T) {
	backend := newFakeBackend()
	backend.submitFn = func(context.Context, domain.SubmitRequest) (*domain.SubmitResult, error) {
		return nil, errNetwork
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	err := svc.SendMessage(context.Background(), "Hello")
	require.ErrorIs(t, err, errNetwork)

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello", msgs[0].Content)
	require.Equal(t, domain.OriginUser, msgs[0].Origin)
	require.Equal(t, SubmitFailedMessage, msgs[1].Content)
	require.Equal(t, domain.OriginAssistant, msgs[1].Origin)

	require.Zero(t, clock.Created())
	require.Zero(t, backend.StatusCalls())
	require.Equal(t, StateIdle, svc.Poller().State())
	require.Equal(t, OutcomeSubmitFailed, svc.Poller().LastOutcome())
	require.False(t, svc.Conversation().Processing())
	require.Equal(t, errNetwork.Error(), svc.Conversation().LastError())
}

func TestSendMessage_SessionCreationFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.createFn = func(context.Context, domain.CreateSessionRequest) (*domain.Session, error) {
		return nil, errNetwork
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	err := svc.SendMessage(context.Background(), "Hello")
	require.ErrorIs(t, err, errNetwork)

	msgs := svc.Conversation().Messages()
	require.Equal(t, []domain.Origin{domain.OriginUser, domain.OriginAssistant}, origins(msgs))
	require.Equal(t, SubmitFailedMessage, msgs[1].Content)
	require.Empty(t, backend.Submits())
	require.Zero(t, clock.Created())
	require.Empty(t, svc.Sessions().CurrentSessionID())
}

func TestSendMessage_IgnoresBlankInput(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	for _, text := range []string{"", "   ", "\n\t  \n"} {
		require.NoError(t, svc.SendMessage(context.Background(), text))
	}

	require.Empty(t, svc.Conversation().Messages())
	require.Zero(t, backend.CreateCalls())
	require.Empty(t, backend.Submits())
	require.Zero(t, clock.Created())
	require.Equal(t, StateIdle, svc.Poller().State())
	require.Equal(t, OutcomeNone, svc.Poller().LastOutcome())
	require.False(t, svc.Conversation().Processing())
}

func TestSendMessage_UserMessageVisibleBeforeSubmitReturns(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	var seen []domain.Message
	var processing bool
	backend.submitFn = func(_ context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
		seen = svc.Conversation().Messages()
		processing = svc.Conversation().Processing()
		return &domain.SubmitResult{MessageID: "job-1", Status: domain.JobStatusPending}, nil
	}

	require.NoError(t, svc.SendMessage(context.Background(), "  trimmed please  "))
	require.Len(t, seen, 1)
	require.Equal(t, "trimmed please", seen[0].Content)
	require.True(t, seen[0].IsUser())
	require.True(t, processing)

	submits := backend.Submits()
	require.Len(t, submits, 1)
	require.Equal(t, "trimmed please", submits[0].Content)
	require.Equal(t, "session-1", submits[0].SessionID)
	require.Nil(t, submits[0].SpeakResponse)
}

func TestSendMessage_InitialCompleteStatusStillPolls(t *testing.T) {
	backend := newFakeBackend()
	backend.submitFn = func(context.Context, domain.SubmitRequest) (*domain.SubmitResult, error) {
		return &domain.SubmitResult{MessageID: "job-9", Status: domain.JobStatusComplete, Content: strPtr("early")}, nil
	}
	backend.statusFn = func(_ context.Context, id string, _ int) (*domain.StatusResult, error) {
		return &domain.StatusResult{MessageID: id, Status: domain.JobStatusComplete, Content: strPtr("final")}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "hi"))
	require.Len(t, svc.Conversation().Messages(), 1)
	require.Equal(t, StatePolling, svc.Poller().State())

	require.True(t, clock.Last().Fire())
	waitIdle(t, svc.Poller())

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "final", msgs[1].Content)
}

func TestSendMessage_SpeakResponses(t *testing.T) {
	backend := newFakeBackend()
	svc := NewService(backend, Options{
		Poller: PollerConfig{MaxAttempts: 5, SpeakResponses: true, Clock: &fakeClock{}},
	}, discardLogger())
	t.Cleanup(svc.Close)

	require.NoError(t, svc.SendMessage(context.Background(), "read it to me"))
	submits := backend.Submits()
	require.Len(t, submits, 1)
	require.NotNil(t, submits[0].SpeakResponse)
	require.True(t, *submits[0].SpeakResponse)
}

func TestPoller_ServerReportedError(t *testing.T) {
	tests := []struct {
		name     string
		errText  *string
		expected string
	}{
		{name: "server text", errText: strPtr("Model overloaded"), expected: "Model overloaded"},
		{name: "missing text", errText: nil, expected: GenericErrorMessage},
		{name: "empty text", errText: strPtr(""), expected: GenericErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.statusFn = func(_ context.Context, id string, _ int) (*domain.StatusResult, error) {
				return &domain.StatusResult{MessageID: id, Status: domain.JobStatusError, Error: tt.errText}, nil
			}
			clock := &fakeClock{}
			svc := newTestService(t, backend, clock, 120)

			require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
			require.True(t, clock.Last().Fire())
			waitIdle(t, svc.Poller())

			msgs := svc.Conversation().Messages()
			require.Len(t, msgs, 2)
			require.Equal(t, domain.OriginAssistant, msgs[1].Origin)
			require.Equal(t, tt.expected, msgs[1].Content)
			require.Equal(t, tt.expected, svc.Conversation().LastError())
			require.Equal(t, OutcomeError, svc.Poller().LastOutcome())
			require.False(t, svc.Conversation().Processing())
			require.Equal(t, 1, backend.StatusCalls())
		})
	}
}

func TestPoller_TimeoutAfterMaxAttempts(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	ticker := clock.Last()
	for i := 1; i <= 120; i++ {
		require.True(t, ticker.Fire(), "tick %d", i)
	}
	waitIdle(t, svc.Poller())

	// The budget check runs before the status call, so tick 120 makes none.
	require.Equal(t, 119, backend.StatusCalls())

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, TimeoutMessage, msgs[1].Content)
	require.Equal(t, domain.OriginAssistant, msgs[1].Origin)
	require.Equal(t, TimeoutMessage, svc.Conversation().LastError())
	require.Equal(t, OutcomeTimeout, svc.Poller().LastOutcome())
	require.False(t, svc.Conversation().Processing())
	require.True(t, ticker.Stopped())

	require.False(t, ticker.Fire())
	require.Equal(t, 119, backend.StatusCalls())
}

func TestPoller_TransientStatusErrorKeepsPolling(t *testing.T) {
	backend := newFakeBackend()
	backend.statusFn = func(_ context.Context, id string, call int) (*domain.StatusResult, error) {
		if call == 1 {
			return nil, errNetwork
		}
		return &domain.StatusResult{MessageID: id, Status: domain.JobStatusComplete, Content: strPtr("done"), AudioURL: strPtr("https://cdn.example.com/a.mp3")}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	ticker := clock.Last()
	require.True(t, ticker.Fire())
	require.True(t, ticker.Fire())
	waitIdle(t, svc.Poller())

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "done", msgs[1].Content)
	require.Equal(t, "https://cdn.example.com/a.mp3", msgs[1].AudioURL)
	require.Empty(t, svc.Conversation().LastError())
	require.Equal(t, 2, backend.StatusCalls())
}

func TestPoller_TransientErrorsEndInTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.statusFn = func(context.Context, string, int) (*domain.StatusResult, error) {
		return nil, errNetwork
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 3)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	ticker := clock.Last()
	for i := 0; i < 3; i++ {
		require.True(t, ticker.Fire())
	}
	waitIdle(t, svc.Poller())

	require.Equal(t, 2, backend.StatusCalls())
	require.Equal(t, OutcomeTimeout, svc.Poller().LastOutcome())
	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, TimeoutMessage, msgs[1].Content)
}

func TestPoller_CompleteWithoutContentIsDropped(t *testing.T) {
	for _, content := range []*string{nil, strPtr("")} {
		backend := newFakeBackend()
		backend.statusFn = func(_ context.Context, id string, _ int) (*domain.StatusResult, error) {
			return &domain.StatusResult{MessageID: id, Status: domain.JobStatusComplete, Content: content}, nil
		}
		clock := &fakeClock{}
		svc := newTestService(t, backend, clock, 120)

		require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
		require.True(t, clock.Last().Fire())
		waitIdle(t, svc.Poller())

		require.Len(t, svc.Conversation().Messages(), 1)
		require.Equal(t, OutcomeDropped, svc.Poller().LastOutcome())
		require.False(t, svc.Conversation().Processing())
		require.True(t, clock.Last().Stopped())
	}
}

func TestPoller_RejectsSecondSendWhileBusy(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "first"))
	err := svc.SendMessage(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	require.Len(t, svc.Conversation().Messages(), 1)
	require.Len(t, backend.Submits(), 1)
	require.Equal(t, 1, clock.Created())
	require.Equal(t, StatePolling, svc.Poller().State())
}

func TestPoller_SecondSubmissionReusesSession(t *testing.T) {
	backend := newFakeBackend()
	backend.statusFn = func(_ context.Context, id string, _ int) (*domain.StatusResult, error) {
		return &domain.StatusResult{MessageID: id, Status: domain.JobStatusComplete, Content: strPtr("ok")}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	for _, text := range []string{"one", "two"} {
		require.NoError(t, svc.SendMessage(context.Background(), text))
		require.True(t, clock.Last().Fire())
		waitIdle(t, svc.Poller())
	}

	require.Equal(t, 1, backend.CreateCalls())
	submits := backend.Submits()
	require.Len(t, submits, 2)
	require.Equal(t, submits[0].SessionID, submits[1].SessionID)
	require.Equal(t, 2, clock.Created())
	require.Equal(t,
		[]domain.Origin{domain.OriginUser, domain.OriginAssistant, domain.OriginUser, domain.OriginAssistant},
		origins(svc.Conversation().Messages()))
}

func TestPoller_CancelWhilePolling(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	ticker := clock.Last()
	require.True(t, ticker.Fire())
	require.Eventually(t, func() bool { return backend.StatusCalls() == 1 }, waitFor, 5*time.Millisecond)

	svc.Cancel()
	require.Equal(t, StateIdle, svc.Poller().State())
	require.Equal(t, OutcomeCancelled, svc.Poller().LastOutcome())
	require.False(t, svc.Conversation().Processing())
	require.True(t, ticker.Stopped())

	ticker.Fire()
	svc.Close()

	require.Equal(t, 1, backend.StatusCalls())
	require.Len(t, svc.Conversation().Messages(), 1)
}

func TestPoller_LateResponseAfterCancelIgnored(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.statusFn = func(_ context.Context, id string, _ int) (*domain.StatusResult, error) {
		close(started)
		<-release
		return &domain.StatusResult{MessageID: id, Status: domain.JobStatusComplete, Content: strPtr("too late")}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	require.True(t, clock.Last().Fire())
	<-started

	svc.Cancel()
	close(release)
	svc.Close()

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].IsUser())
	require.Equal(t, OutcomeCancelled, svc.Poller().LastOutcome())
	require.False(t, svc.Conversation().Processing())
	require.Equal(t, 1, backend.StatusCalls())
}

func TestPoller_ClearWhilePollingIgnoresLateResponse(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.statusFn = func(_ context.Context, id string, _ int) (*domain.StatusResult, error) {
		close(started)
		<-release
		return &domain.StatusResult{MessageID: id, Status: domain.JobStatusError, Error: strPtr("boom")}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	require.True(t, clock.Last().Fire())
	<-started

	svc.Clear()
	close(release)
	svc.Close()

	require.Empty(t, svc.Conversation().Messages())
	require.Empty(t, svc.Sessions().CurrentSessionID())
	require.Empty(t, svc.Conversation().LastError())
	require.Equal(t, StateIdle, svc.Poller().State())
}

func TestPoller_CancelDuringSubmit(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.submitFn = func(context.Context, domain.SubmitRequest) (*domain.SubmitResult, error) {
		close(started)
		<-release
		return &domain.SubmitResult{MessageID: "job-1", Status: domain.JobStatusPending}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.SendMessage(context.Background(), "Hello") }()
	<-started
	require.Equal(t, StateSubmitting, svc.Poller().State())

	svc.Cancel()
	close(release)
	require.NoError(t, <-errCh)

	require.Zero(t, clock.Created())
	require.Equal(t, StateIdle, svc.Poller().State())
	require.Equal(t, OutcomeCancelled, svc.Poller().LastOutcome())
	require.Len(t, svc.Conversation().Messages(), 1)
	require.Empty(t, svc.Poller().PendingJobID())
}

func TestPoller_ClearDuringImplicitSessionCreation(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.createFn = func(context.Context, domain.CreateSessionRequest) (*domain.Session, error) {
		close(started)
		<-release
		return &domain.Session{ID: "late-session", UserID: "u1", IsActive: true}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.SendMessage(context.Background(), "Hello") }()
	<-started

	svc.Clear()
	close(release)
	require.NoError(t, <-errCh)

	require.Empty(t, svc.Sessions().CurrentSessionID())
	require.Empty(t, svc.Conversation().Messages())
	require.Empty(t, backend.Submits())
	require.Zero(t, clock.Created())
	require.Equal(t, StateIdle, svc.Poller().State())
	require.False(t, svc.Conversation().Processing())
}

func TestPoller_CancelDuringImplicitSessionCreationSkipsSubmit(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.createFn = func(context.Context, domain.CreateSessionRequest) (*domain.Session, error) {
		close(started)
		<-release
		return &domain.Session{ID: "s-kept", UserID: "u1", IsActive: true}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.SendMessage(context.Background(), "Hello") }()
	<-started

	svc.Cancel()
	close(release)
	require.NoError(t, <-errCh)

	// The conversation was not reset, so the session is kept for the next send.
	require.Equal(t, "s-kept", svc.Sessions().CurrentSessionID())
	require.Empty(t, backend.Submits())
	require.Zero(t, clock.Created())
	require.Len(t, svc.Conversation().Messages(), 1)
	require.Equal(t, OutcomeCancelled, svc.Poller().LastOutcome())
}

func TestPoller_CancelAbortsInFlightSubmit(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	backend.submitFn = func(ctx context.Context, _ domain.SubmitRequest) (*domain.SubmitResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.SendMessage(context.Background(), "Hello") }()
	<-started

	svc.Cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("submit was not aborted by cancel")
	}

	require.Len(t, svc.Conversation().Messages(), 1)
	require.Empty(t, svc.Conversation().LastError())
	require.Equal(t, OutcomeCancelled, svc.Poller().LastOutcome())
}

func TestPoller_LoadDuringSubmissionCancelsIt(t *testing.T) {
	backend := newFakeBackend()
	listStarted := make(chan struct{})
	releaseList := make(chan struct{})
	backend.listFn = func(context.Context, string) ([]domain.HistoryMessage, error) {
		close(listStarted)
		<-releaseList
		return []domain.HistoryMessage{
			{ID: "h1", Role: "user", Content: "earlier question"},
			{ID: "h2", Role: "assistant", Content: "earlier answer"},
		}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	loadErr := make(chan error, 1)
	go func() { loadErr <- svc.LoadSession(context.Background(), "s-old") }()
	<-listStarted

	// Sent while the history is still loading: it targets the loaded session.
	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	require.Equal(t, StatePolling, svc.Poller().State())
	ticker := clock.Last()

	close(releaseList)
	require.NoError(t, <-loadErr)

	require.Equal(t, StateIdle, svc.Poller().State())
	require.Equal(t, OutcomeCancelled, svc.Poller().LastOutcome())
	require.True(t, ticker.Stopped())
	require.False(t, svc.Conversation().Processing())

	msgs := svc.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "earlier question", msgs[0].Content)
	require.Equal(t, "earlier answer", msgs[1].Content)
	require.Zero(t, backend.StatusCalls())
}

func TestPoller_SendAfterCloseFails(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	svc.Close()
	err := svc.SendMessage(context.Background(), "Hello")
	require.ErrorIs(t, err, ErrClosed)

	require.Empty(t, svc.Conversation().Messages())
	require.Empty(t, backend.Submits())
	require.Equal(t, StateIdle, svc.Poller().State())
	require.False(t, svc.Conversation().Processing())
}

func TestPoller_NoOverlappingStatusCalls(t *testing.T) {
	backend := newFakeBackend()
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	release := make(chan struct{})
	backend.statusFn = func(_ context.Context, id string, call int) (*domain.StatusResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		if call == 1 {
			<-release
		}
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &domain.StatusResult{MessageID: id, Status: domain.JobStatusPending}, nil
	}
	clock := &fakeClock{}
	svc := newTestService(t, backend, clock, 120)

	require.NoError(t, svc.SendMessage(context.Background(), "Hello"))
	ticker := clock.Last()
	require.True(t, ticker.Fire())

	// The first call is still blocked, so the next tick is not taken.
	require.False(t, ticker.Fire())
	close(release)
	require.True(t, ticker.Fire())
	require.Eventually(t, func() bool { return backend.StatusCalls() == 2 }, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, peak)
}

func TestPoller_StateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "submitting", StateSubmitting.String())
	require.Equal(t, "polling", StatePolling.String())
	require.Equal(t, "unknown", State(42).String())
}
