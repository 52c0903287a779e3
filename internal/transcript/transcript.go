// Package transcript writes chat conversations to per-session NDJSON files.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/advisor-chat/internal/chat"
	"github.com/ashureev/advisor-chat/internal/config"
)

const (
	// EventMessage records a message appended to the conversation.
	EventMessage = "message"
	// EventSessionLoaded records a history load or reset of the message list.
	EventSessionLoaded = "session_loaded"
	// EventError records a user-visible error.
	EventError = "error"

	noSessionFile = "no-session"
)

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Entry is one NDJSON line.
type Entry struct {
	Timestamp    string `json:"ts"`
	SessionID    string `json:"session_id"`
	EventType    string `json:"event_type"`
	MessageID    string `json:"message_id,omitempty"`
	Origin       string `json:"origin,omitempty"`
	ContentRaw   string `json:"content_raw,omitempty"`
	Content      string `json:"content,omitempty"`
	AudioURL     string `json:"audio_url,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
}

// Logger appends entries asynchronously. A disabled Logger drops everything.
type Logger struct {
	enabled bool
	dir     string
	queue   chan Entry
	logger  *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.Mutex // guards closed
	closed    bool
}

// NewLogger creates a transcript logger and starts its writer.
func NewLogger(cfg config.ConversationLogConfig, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{enabled: cfg.Enabled, dir: cfg.Dir, logger: logger}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}
	l.queue = make(chan Entry, size)

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log enqueues an entry without blocking. Entries are dropped when the queue is full.
func (l *Logger) Log(e Entry) {
	if !l.enabled {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Content == "" && e.ContentRaw != "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("Transcript queue full, dropping entry", "session_id", e.SessionID, "event_type", e.EventType)
	}
}

// Follow records conversation events until ctx is cancelled or events is closed.
func (l *Logger) Follow(ctx context.Context, events <-chan chat.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if e, ok := entryFor(ev); ok {
				l.Log(e)
			}
		}
	}
}

func entryFor(ev chat.Event) (Entry, bool) {
	switch ev.Type {
	case chat.EventMessageAppended:
		if ev.Message == nil {
			return Entry{}, false
		}
		return Entry{
			Timestamp:  ev.Message.CreatedAt.UTC().Format(time.RFC3339Nano),
			SessionID:  ev.SessionID,
			EventType:  EventMessage,
			MessageID:  ev.Message.ID,
			Origin:     string(ev.Message.Origin),
			ContentRaw: ev.Message.Content,
			AudioURL:   ev.Message.AudioURL,
		}, true
	case chat.EventMessagesReplaced:
		if ev.SessionID == "" {
			return Entry{}, false
		}
		return Entry{SessionID: ev.SessionID, EventType: EventSessionLoaded, MessageCount: len(ev.Messages)}, true
	case chat.EventErrorChanged:
		if ev.Error == "" {
			return Entry{}, false
		}
		return Entry{SessionID: ev.SessionID, EventType: EventError, ContentRaw: ev.Error}, true
	default:
		return Entry{}, false
	}
}

// Close flushes queued entries and stops the writer.
func (l *Logger) Close() error {
	if !l.enabled {
		return nil
	}
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	l.wg.Wait()
	return nil
}

// Path returns the transcript file for sessionID.
func (l *Logger) Path(sessionID string) string {
	name := unsafeFileChars.ReplaceAllString(sessionID, "_")
	if name == "" {
		name = noSessionFile
	}
	return filepath.Join(l.dir, name+".ndjson")
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	files := make(map[string]*os.File)
	defer func() {
		for path, f := range files {
			if err := f.Close(); err != nil {
				l.logger.Warn("Failed to close transcript file", "path", path, "error", err)
			}
		}
	}()

	for e := range l.queue {
		path := l.Path(e.SessionID)
		f, ok := files[path]
		if !ok {
			var err error
			f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
			if err != nil {
				l.logger.Warn("Failed to open transcript file", "path", path, "error", err)
				continue
			}
			files[path] = f
		}

		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Warn("Failed to encode transcript entry", "error", err)
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			l.logger.Warn("Failed to write transcript entry", "path", path, "error", err)
		}
	}
}

// cleanForReadability strips ANSI sequences and control characters other than newlines and tabs.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
