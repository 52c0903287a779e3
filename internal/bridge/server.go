package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

// Server serves the WebSocket bridge on a local address.
type Server struct {
	svc    ChatService
	conns  *ConnManager
	router chi.Router
	logger *slog.Logger
}

// NewServer creates a bridge server for svc.
func NewServer(svc ChatService, allowedOrigin string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	conns := NewConnManager()
	ws := NewWebSocketHandler(svc, conns, allowedOrigin, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Get("/ws/chat", ws.ServeHTTP)
	r.Get("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Snapshot()); err != nil {
			logger.Warn("Failed to encode snapshot", "error", err)
		}
	})

	return &Server{
		svc:    svc,
		conns:  conns,
		router: r,
		logger: logger,
	}
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Connections returns the number of connected UIs.
func (s *Server) Connections() int {
	return s.conns.Count()
}

// Run serves on ln until ctx is cancelled.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Bridge listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve bridge: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked WebSocket connections are not closed by Shutdown.
		s.conns.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown bridge: %w", err)
		}
		return nil
	})
	return g.Wait()
}
