// Advisor chat development backend.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/advisor-chat/internal/config"
	"github.com/ashureev/advisor-chat/internal/devserver"
	"github.com/ashureev/advisor-chat/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Server.Port,
		"dev", cfg.IsDevelopment(),
		"workers", cfg.Server.Workers,
		"responder_latency", cfg.Server.ResponderLatency,
	)

	repo, err := store.NewSQLite(cfg.Server.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	srv := devserver.NewServer(cfg.Server, repo, nil, logger)

	ln, err := net.Listen("tcp", ":"+cfg.Server.Port)
	if err != nil {
		slog.Error("Failed to listen", "port", cfg.Server.Port, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, ln); err != nil {
		slog.Error("Server stopped with error", "error", err)
		_ = repo.Close()
		os.Exit(1) //nolint:gocritic // repo closed explicitly above
	}

	slog.Info("Server stopped successfully")
}
