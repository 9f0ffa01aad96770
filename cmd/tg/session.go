package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:     "login <user>",
	Short:   "Open a session and cache its token for this server",
	GroupID: "station",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Password: ", cmd.InOrStdin())
		if err != nil {
			return err
		}
		resp, err := routerClient.Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		if err := storeSessionToken(serverURL, resp.Token); err != nil {
			fmt.Fprintf(os.Stderr, "warning: session not cached: %v\n", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), session expires %s\n",
			resp.User, resp.Role, resp.ExpiresAt.Local().Format(time.DateTime))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "End the cached session and release its held units",
	GroupID: "station",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := routerClient.Logout(cmd.Context())
		if err != nil {
			return err
		}
		if err := storeSessionToken(serverURL, ""); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cached session not cleared: %v\n", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		for _, serial := range resp.Released {
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", serial)
		}
		return nil
	},
}

var heartbeatCmd = &cobra.Command{
	Use:     "heartbeat",
	Short:   "Report this station alive and extend the session",
	GroupID: "station",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetDuration("every")
		name, _ := os.Hostname()

		beat := func(ctx context.Context) error {
			resp, err := routerClient.Heartbeat(ctx, stationID, name)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session extended to %s\n", resp.ExpiresAt.Local().Format(time.DateTime))
			return nil
		}
		if err := beat(cmd.Context()); err != nil || every <= 0 {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := beat(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "heartbeat failed: %v\n", err)
				}
			}
		}
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server is reachable",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := routerClient.Health(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", serverURL, status)
		return nil
	},
}

func init() {
	heartbeatCmd.Flags().Duration("every", 0, "keep beating at this interval until interrupted")
}
