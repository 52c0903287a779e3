package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/advisor-chat/internal/chat"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	commandTimeout = 30 * time.Second
	eventBuffer    = 128
)

// ChatService is the part of chat.Service the bridge drives.
type ChatService interface {
	SendMessage(ctx context.Context, text string) error
	Cancel()
	Clear()
	CreateSession(ctx context.Context, title *string) (string, error)
	LoadSession(ctx context.Context, sessionID string) error
	Snapshot() chat.Snapshot
	Subscribe(buffer int) (<-chan chat.Event, func())
}

var _ ChatService = (*chat.Service)(nil)

// Command is a frame sent by a UI.
type Command struct {
	Type      string  `json:"type"` // send, cancel, clear, new, load, ping
	Content   string  `json:"content,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Title     *string `json:"title,omitempty"`
}

// Frame is a message pushed to a UI.
type Frame struct {
	Type      string         `json:"type"` // snapshot, event, ack, error, pong
	Command   string         `json:"command,omitempty"`
	Snapshot  *chat.Snapshot `json:"snapshot,omitempty"`
	Event     *chat.Event    `json:"event,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// WebSocketHandler streams conversation state to UIs and applies their commands.
type WebSocketHandler struct {
	svc           ChatService
	conns         *ConnManager
	allowedOrigin string
	logger        *slog.Logger
}

// NewWebSocketHandler creates a WebSocket handler. An empty allowedOrigin accepts any origin.
func NewWebSocketHandler(svc ChatService, conns *ConnManager, allowedOrigin string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		svc:           svc,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bridge session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	connID := uuid.NewString()
	h.conns.Register(connID, ws)
	defer h.conns.Unregister(connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so no change falls between them.
	events, unsubscribe := h.svc.Subscribe(eventBuffer)
	defer unsubscribe()

	snap := h.svc.Snapshot()
	if err := h.writeFrame(ctx, ws, Frame{Type: "snapshot", Snapshot: &snap}); err != nil {
		h.logger.Debug("Failed to send snapshot", "conn_id", connID, "error", err)
		return
	}

	var wg, pending sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, connID, &pending)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, events)
	}()

	wg.Wait()
	pending.Wait()
	h.logger.Info("UI session ended", "conn_id", connID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, connID string, pending *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "conn_id", connID)
			} else {
				h.logger.Warn("WebSocket read error", "conn_id", connID, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(ctx, ws, Frame{Type: "error", Error: "invalid command"})
			continue
		}
		h.dispatch(ctx, ws, cmd, pending)
	}
}

// dispatch applies one command. Commands that make network calls run in the background
// so cancel and clear stay responsive; UIs wait for the ack before depending on their effect.
func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, cmd Command, pending *sync.WaitGroup) {
	switch cmd.Type {
	case "send":
		h.background(ctx, pending, func(cmdCtx context.Context) {
			h.result(ctx, ws, cmd.Type, "", h.svc.SendMessage(cmdCtx, cmd.Content))
		})
	case "cancel":
		h.svc.Cancel()
		h.result(ctx, ws, cmd.Type, "", nil)
	case "clear":
		h.svc.Clear()
		h.result(ctx, ws, cmd.Type, "", nil)
	case "new":
		h.background(ctx, pending, func(cmdCtx context.Context) {
			id, err := h.svc.CreateSession(cmdCtx, cmd.Title)
			h.result(ctx, ws, cmd.Type, id, err)
		})
	case "load":
		h.background(ctx, pending, func(cmdCtx context.Context) {
			h.result(ctx, ws, cmd.Type, cmd.SessionID, h.svc.LoadSession(cmdCtx, cmd.SessionID))
		})
	case "ping":
		h.reply(ctx, ws, Frame{Type: "pong"})
	default:
		h.reply(ctx, ws, Frame{Type: "error", Command: cmd.Type, Error: "unknown command"})
	}
}

func (h *WebSocketHandler) background(ctx context.Context, pending *sync.WaitGroup, fn func(context.Context)) {
	pending.Add(1)
	go func() {
		defer pending.Done()
		cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		fn(cmdCtx)
	}()
}

func (h *WebSocketHandler) result(ctx context.Context, ws *websocket.Conn, command, sessionID string, err error) {
	if err != nil {
		h.logger.Info("Bridge command failed", "command", command, "error", err)
		h.reply(ctx, ws, Frame{Type: "error", Command: command, SessionID: sessionID, Error: err.Error()})
		return
	}
	h.reply(ctx, ws, Frame{Type: "ack", Command: command, SessionID: sessionID})
}

func (h *WebSocketHandler) reply(ctx context.Context, ws *websocket.Conn, f Frame) {
	if err := h.writeFrame(ctx, ws, f); err != nil {
		h.logger.Debug("Failed to write frame", "type", f.Type, "error", err)
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, events <-chan chat.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeFrame(ctx, ws, Frame{Type: "event", Event: &ev}); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
