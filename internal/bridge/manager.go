// Package bridge exposes a chat service to local UIs over WebSocket.
package bridge

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks active UI connections.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewConnManager creates an empty connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]*websocket.Conn),
	}
}

// Register adds a connection. A connection already registered under id is closed.
func (m *ConnManager) Register(id string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[id]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	m.active[id] = conn
	slog.Info("UI connection registered", "conn_id", id)
}

// Unregister removes conn if it is still the one registered under id.
func (m *ConnManager) Unregister(id string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[id]; ok && current == conn {
		delete(m.active, id)
		slog.Info("UI connection unregistered", "conn_id", id)
	}
}

// Count returns the number of active connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll closes every active connection.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "bridge shutting down")
		delete(m.active, id)
	}
}
