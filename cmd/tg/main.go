// Command tg is the station client for the tracegate routing server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tracegate/internal/client"
)

var (
	serverURL    string
	stationID    string
	jsonOutput   bool
	routerClient client.Client
)

// errRejected is returned when at least one submitted record was rejected.
// It maps to exit status 2 so station scripts can stop the unit.
var errRejected = errors.New("unit rejected")

func defaultServer() string {
	if s := os.Getenv("TRACEGATE_SERVER"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultStation() string {
	if s := os.Getenv("TRACEGATE_STATION"); s != "" {
		return s
	}
	return activeRemoteStation()
}

func sessionToken() string {
	if t := os.Getenv("TRACEGATE_TOKEN"); t != "" {
		return t
	}
	return tokenFor(serverURL)
}

// noClient replaces the root PersistentPreRunE for commands that work
// offline.
func noClient(*cobra.Command, []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:           "tg <command>",
	Short:         "Station client for the tracegate routing server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(serverURL, sessionToken())
		if err != nil {
			return fmt.Errorf("failed to connect to server: %w", err)
		}
		routerClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if routerClient != nil {
			routerClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "server URL (http://host:port or grpc://host:port)")
	rootCmd.PersistentFlags().StringVar(&stationID, "station", defaultStation(), "station this client reports for")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "station", Title: "Station:"},
		&cobra.Group{ID: "units", Title: "Units:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Station
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(monitorCmd)

	// Units
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(scrapCmd)
	rootCmd.AddCommand(holdCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(goldenCmd)

	// System
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errRejected) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
