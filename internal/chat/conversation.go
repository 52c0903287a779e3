package chat

import (
	"log/slog"
	"sync"

	"github.com/ashureev/advisor-chat/internal/domain"
)

// EventType categorizes conversation changes.
type EventType string

const (
	// EventMessageAppended is emitted for every message added to the list.
	EventMessageAppended EventType = "message_appended"
	// EventMessagesReplaced is emitted when the list is replaced wholesale (load, create, clear).
	EventMessagesReplaced EventType = "messages_replaced"
	// EventProcessingChanged is emitted when the processing flag flips.
	EventProcessingChanged EventType = "processing_changed"
	// EventErrorChanged is emitted when the stored error changes.
	EventErrorChanged EventType = "error_changed"
	// EventSessionChanged is emitted when the current session ID changes.
	EventSessionChanged EventType = "session_changed"
)

// Event describes a single conversation change.
type Event struct {
	Type       EventType        `json:"type"`
	SessionID  string           `json:"session_id,omitempty"`
	Message    *domain.Message  `json:"message,omitempty"`
	Messages   []domain.Message `json:"messages,omitempty"`
	Processing bool             `json:"processing"`
	Error      string           `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of the conversation state.
type Snapshot struct {
	SessionID  string           `json:"session_id"`
	Messages   []domain.Message `json:"messages"`
	Processing bool             `json:"processing"`
	Error      string           `json:"error,omitempty"`
}

// Conversation is the UI-facing message store.
// Only the session manager and poller mutate it; everyone else reads snapshots or subscribes.
type Conversation struct {
	mu         sync.Mutex
	sessionID  string
	messages   []domain.Message
	processing bool
	lastError  string
	epoch      uint64 // bumped whenever the current session is replaced

	subs    map[int]chan Event
	nextSub int
	logger  *slog.Logger
}

// NewConversation creates an empty conversation store.
func NewConversation(logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		messages: []domain.Message{},
		subs:     make(map[int]chan Event),
		logger:   logger,
	}
}

// Snapshot returns a copy of the current state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:  c.sessionID,
		Messages:   c.copyMessagesLocked(),
		Processing: c.processing,
		Error:      c.lastError,
	}
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyMessagesLocked()
}

// Processing reports whether a submission is in flight.
func (c *Conversation) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// LastError returns the most recent user-visible error, or "".
func (c *Conversation) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// SessionID returns the current session ID, or "" when none is selected.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe registers a listener. Events are delivered in order on the returned channel.
// When the buffer is full the oldest pending event is dropped.
// The returned function unsubscribes and closes the channel.
func (c *Conversation) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Conversation) copyMessagesLocked() []domain.Message {
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) append(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.publishLocked(Event{Type: EventMessageAppended, SessionID: c.sessionID, Message: &msg, Processing: c.processing})
}

func (c *Conversation) replace(sessionID string, messages []domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.setSessionLocked(sessionID)
	c.messages = messages
	c.publishLocked(Event{
		Type:       EventMessagesReplaced,
		SessionID:  c.sessionID,
		Messages:   c.copyMessagesLocked(),
		Processing: c.processing,
	})
}

func (c *Conversation) setSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSessionLocked(sessionID)
}

// sessionEpoch returns the current session ID together with its epoch.
func (c *Conversation) sessionEpoch() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.epoch
}

// adoptSession makes sessionID current only if the session has not been replaced since epoch was read.
func (c *Conversation) adoptSession(epoch uint64, sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.setSessionLocked(sessionID)
	return true
}

func (c *Conversation) setSessionLocked(sessionID string) {
	if c.sessionID == sessionID {
		return
	}
	c.epoch++
	c.sessionID = sessionID
	c.publishLocked(Event{Type: EventSessionChanged, SessionID: sessionID, Processing: c.processing})
}

func (c *Conversation) setProcessing(processing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing == processing {
		return
	}
	c.processing = processing
	c.publishLocked(Event{Type: EventProcessingChanged, SessionID: c.sessionID, Processing: processing})
}

func (c *Conversation) setError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastError == msg {
		return
	}
	c.lastError = msg
	c.publishLocked(Event{Type: EventErrorChanged, SessionID: c.sessionID, Processing: c.processing, Error: msg})
}

// publishLocked fans an event out without blocking the caller.
func (c *Conversation) publishLocked(ev Event) {
	for id, ch := range c.subs {
		select {
		case ch <- ev:
			continue
		default:
		}

		// Full: drop the oldest event to make room.
		select {
		case <-ch:
			c.logger.Warn("Conversation subscriber lagging, dropped oldest event", "subscriber", id, "type", ev.Type)
		default:
		}
		select {
		case ch <- ev:
		default:
			c.logger.Warn("Conversation subscriber full, dropped event", "subscriber", id, "type", ev.Type)
		}
	}
}
