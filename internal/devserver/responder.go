package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
)

// FailMarker makes EchoResponder report an error, which lets clients exercise the error path.
const FailMarker = "#fail"

// ErrResponderFailed is returned by EchoResponder for prompts containing FailMarker.
var ErrResponderFailed = errors.New("the advisor model could not answer this question")

// Responder generates an assistant reply for a prompt.
type Responder interface {
	Respond(ctx context.Context, prompt string, history []domain.HistoryMessage) (string, error)
}

// EchoResponder is a deterministic stand-in for the real advisor model.
type EchoResponder struct {
	Latency time.Duration
}

// Respond waits for the configured latency and echoes the prompt back.
func (e EchoResponder) Respond(ctx context.Context, prompt string, history []domain.HistoryMessage) (string, error) {
	if e.Latency > 0 {
		timer := time.NewTimer(e.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if strings.Contains(prompt, FailMarker) {
		return "", ErrResponderFailed
	}

	turns := 0
	for _, h := range history {
		if strings.EqualFold(h.Role, string(domain.OriginUser)) {
			turns++
		}
	}
	return fmt.Sprintf("You asked: %q (question %d in this conversation).", prompt, turns), nil
}
