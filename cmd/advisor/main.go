// Advisor chat command-line client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/advisor-chat/internal/chat"
	"github.com/ashureev/advisor-chat/internal/config"
	"github.com/ashureev/advisor-chat/internal/store"
	"github.com/ashureev/advisor-chat/internal/transcript"
	"github.com/ashureev/advisor-chat/internal/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app holds what every subcommand needs. It is filled in by the root PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tokens *store.SQLiteStore

	configPath  string
	apiURL      string
	verbose     bool
	strictRoles bool
}

func main() {
	a := &app{}
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "advisor",
		Short:         "Chat with the portfolio advisor",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (overrides ADVISOR_CONFIG)")
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "API base URL (overrides API_BASE_URL)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.strictRoles, "strict-roles", false, "Reject history with unknown message roles")

	root.AddCommand(
		newChatCmd(a),
		newBridgeCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	if err := godotenv.Load(); err != nil {
		a.logger.Debug("No .env file found, using environment variables")
	}

	if a.configPath != "" {
		if err := os.Setenv("ADVISOR_CONFIG", a.configPath); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.Client.APIBaseURL = a.apiURL
	}
	if cmd.Flags().Changed("strict-roles") {
		cfg.Client.StrictRoles = a.strictRoles
	}
	a.cfg = cfg

	tokens, err := store.NewSQLite(cfg.Client.TokenDBPath)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	a.tokens = tokens
	return nil
}

func (a *app) close() error {
	if a.tokens == nil {
		return nil
	}
	return a.tokens.Close()
}

func (a *app) client() (*transport.Client, error) {
	return transport.NewClient(transport.ClientConfig{
		BaseURL:        a.cfg.Client.APIBaseURL,
		RequestTimeout: a.cfg.Client.RequestTimeout,
	}, a.tokens, a.logger)
}

func (a *app) chatService() (*chat.Service, error) {
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	return chat.NewService(client, chat.Options{
		Poller: chat.PollerConfig{
			Interval:       a.cfg.Client.PollInterval,
			MaxAttempts:    a.cfg.Client.MaxPollAttempts,
			SpeakResponses: a.cfg.Client.SpeakResponses,
		},
		StrictRoles: a.cfg.Client.StrictRoles,
	}, a.logger), nil
}

// followTranscript records the conversation to disk until ctx ends.
// It is a no-op when transcript logging is disabled.
func (a *app) followTranscript(ctx context.Context, svc *chat.Service) error {
	if !a.cfg.ConversationLog.Enabled {
		return nil
	}
	tl, err := transcript.NewLogger(a.cfg.ConversationLog, a.logger)
	if err != nil {
		return err
	}
	events, unsubscribe := svc.Subscribe(a.cfg.ConversationLog.QueueSize)
	defer unsubscribe()

	tl.Follow(ctx, events)
	return tl.Close()
}
