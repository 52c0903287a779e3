package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/advisor-chat/internal/config"
	"github.com/ashureev/advisor-chat/internal/identity"
	"github.com/ashureev/advisor-chat/internal/middleware"
	"github.com/ashureev/advisor-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server is the development chat backend.
type Server struct {
	cfg     config.ServerConfig
	repo    store.Repository
	runner  *JobRunner
	limiter *RateLimiter
	router  chi.Router
	logger  *slog.Logger
}

// NewServer wires the handler, job runner and rate limiter around repo.
// A nil responder uses EchoResponder with the configured latency.
func NewServer(cfg config.ServerConfig, repo store.Repository, responder Responder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if responder == nil {
		responder = EchoResponder{Latency: cfg.ResponderLatency}
	}

	runner := NewJobRunner(repo, responder, cfg.Workers, cfg.QueueSize, logger)
	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	handler := NewHandler(repo, runner, limiter, logger)

	s := &Server{
		cfg:     cfg,
		repo:    repo,
		runner:  runner,
		limiter: limiter,
		logger:  logger,
	}
	s.router = s.routes(handler)
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(s.cfg.FrontendURL)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware())
		r.Use(s.requestLogger)
		h.RegisterRoutes(r)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"user_id", identity.UserIDFromContext(r.Context()),
			"remote_ip", identity.IPFromRequest(r),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}

// Recover fails jobs left unfinished by a previous run.
func (s *Server) Recover(ctx context.Context) error {
	n, err := s.repo.FailInterruptedJobs(ctx, InterruptedReason)
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Failed jobs interrupted by previous shutdown", "count", n)
	}
	return nil
}

// Run serves on ln and processes jobs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	defer s.limiter.Stop()

	if err := s.Recover(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.runner.Run(gctx)
	})

	g.Go(func() error {
		s.logger.Info("Server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
