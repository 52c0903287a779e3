package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/advisor-chat/internal/chat"
	"github.com/ashureev/advisor-chat/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const replHelp = `Commands:
  /new [title]   start a new session
  /load <id>     load an existing session
  /cancel        stop waiting for the current reply
  /clear         clear the conversation
  /help          show this help
  /quit          exit`

func newChatCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.chatService()
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if sessionID != "" {
				if err := svc.LoadSession(ctx, sessionID); err != nil {
					return fmt.Errorf("load session %s: %w", sessionID, err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.followTranscript(gctx, svc)
			})
			g.Go(func() error {
				defer stop()
				return newREPL(svc, cmd.InOrStdin(), cmd.OutOrStdout()).Run(gctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume an existing session")
	return cmd
}

// chatSession is the part of chat.Service the REPL drives.
type chatSession interface {
	SendMessage(ctx context.Context, text string) error
	Cancel()
	CreateSession(ctx context.Context, title *string) (string, error)
	LoadSession(ctx context.Context, sessionID string) error
	Clear()
	Snapshot() chat.Snapshot
	Subscribe(buffer int) (<-chan chat.Event, func())
}

var _ chatSession = (*chat.Service)(nil)

type repl struct {
	svc chatSession
	in  io.Reader
	out io.Writer
}

func newREPL(svc chatSession, in io.Reader, out io.Writer) *repl {
	return &repl{svc: svc, in: in, out: out}
}

// Run reads lines until EOF, /quit, or ctx ends. Conversation events are printed as they arrive.
func (r *repl) Run(ctx context.Context) error {
	events, unsubscribe := r.svc.Subscribe(0)
	defer unsubscribe()

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	if snap := r.svc.Snapshot(); snap.SessionID != "" {
		fmt.Fprintf(r.out, "Session %s (%d messages)\n", snap.SessionID, len(snap.Messages))
		for i := range snap.Messages {
			r.printMessage(&snap.Messages[i])
		}
	}
	fmt.Fprintln(r.out, "Type a question, or /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.render(ev)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (quit bool) {
	cmd, arg := parseCommand(line)
	switch cmd {
	case "":
		if err := r.svc.SendMessage(ctx, line); err != nil {
			if errors.Is(err, chat.ErrBusy) {
				fmt.Fprintln(r.out, "Still waiting for the previous reply. Use /cancel to abandon it.")
				return false
			}
			fmt.Fprintf(r.out, "! %v\n", err)
		}
	case "new":
		var title *string
		if arg != "" {
			title = &arg
		}
		id, err := r.svc.CreateSession(ctx, title)
		if err != nil {
			fmt.Fprintf(r.out, "! create session: %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "New session %s\n", id)
	case "load":
		if arg == "" {
			fmt.Fprintln(r.out, "Usage: /load <session-id>")
			return false
		}
		if err := r.svc.LoadSession(ctx, arg); err != nil {
			fmt.Fprintf(r.out, "! load session: %v\n", err)
		}
	case "cancel":
		r.svc.Cancel()
	case "clear":
		r.svc.Clear()
		fmt.Fprintln(r.out, "Conversation cleared.")
	case "help":
		fmt.Fprintln(r.out, replHelp)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(r.out, "Unknown command /%s. Type /help.\n", cmd)
	}
	return false
}

// parseCommand splits "/name arg" input. cmd is empty for plain chat text.
func parseCommand(line string) (cmd, arg string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}
	name, rest, _ := strings.Cut(trimmed[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

func (r *repl) render(ev chat.Event) {
	switch ev.Type {
	case chat.EventMessageAppended:
		if ev.Message != nil && !ev.Message.IsUser() {
			r.printMessage(ev.Message)
		}
	case chat.EventMessagesReplaced:
		fmt.Fprintf(r.out, "Loaded session %s (%d messages)\n", ev.SessionID, len(ev.Messages))
		for i := range ev.Messages {
			r.printMessage(&ev.Messages[i])
		}
	case chat.EventProcessingChanged:
		if ev.Processing {
			fmt.Fprintln(r.out, "...")
		}
	case chat.EventErrorChanged:
		if ev.Error != "" {
			fmt.Fprintf(r.out, "! %s\n", ev.Error)
		}
	}
}

func (r *repl) printMessage(m *domain.Message) {
	prefix := "advisor>"
	switch m.Origin {
	case domain.OriginUser:
		prefix = "you>"
	case domain.OriginSystem:
		prefix = "system>"
	}
	fmt.Fprintf(r.out, "%s %s\n", prefix, m.Content)
	if m.AudioURL != "" {
		fmt.Fprintf(r.out, "  audio: %s\n", m.AudioURL)
	}
}
