package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/advisor-chat/internal/bridge"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBridgeCmd(a *app) *cobra.Command {
	var addr, origin string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the conversation to a local UI over WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Client.BridgeAddr
			}

			svc, err := a.chatService()
			if err != nil {
				return err
			}
			defer svc.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return bridge.NewServer(svc, origin, a.logger).Run(gctx, ln)
			})
			g.Go(func() error {
				return a.followTranscript(gctx, svc)
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Bridge listening on ws://%s/ws/chat\n", ln.Addr())
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides BRIDGE_ADDR)")
	cmd.Flags().StringVar(&origin, "origin", "", "Allowed browser origin; empty allows any")
	return cmd
}
