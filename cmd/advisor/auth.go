package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the bearer token used for API requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("--token is required")
			}
			if err := a.tokens.SaveToken(cmd.Context(), token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.tokens.DeleteToken(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
			return nil
		},
	}
}
