package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tracegate/internal/config"
)

var stationsCmd = &cobra.Command{
	Use:     "stations",
	Short:   "Inspect station definitions",
	GroupID: "admin",
}

var stationsCheckCmd = &cobra.Command{
	Use:   "check [<file>]",
	Short: "Validate a station file and print the routing table",
	Long: `Validate a station file (TOML or YAML, by extension) and print the routing
table. Without an argument the file named by TRACEGATE_STATIONS is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := stationsPath(args)
		stations, err := config.LoadStations(path)
		if err != nil {
			return err
		}
		return printStations(cmd.OutOrStdout(), path, stations)
	},
}

func stationsPath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	if p := os.Getenv("TRACEGATE_STATIONS"); p != "" {
		return p
	}
	return "stations.toml"
}

func printStations(out io.Writer, path string, stations *config.Stations) error {
	fmt.Fprintf(out, "%s: %d stations, %d golden samples\n", path, len(stations.Definitions), len(stations.GoldenSamples))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATION\tREQUIRES\tMAX RETRIES\tROLE")
	for _, id := range stations.Table.IDs() {
		def, _ := stations.Table.Lookup(id)
		requires := "-"
		if len(def.Requires) > 0 {
			requires = strings.Join(def.Requires, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", def.ID, requires, def.MaxRetries, def.RequiredRole)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "terminal: %s\n", strings.Join(stations.Table.Terminals(), ", "))
	return nil
}

func init() {
	stationsCmd.AddCommand(stationsCheckCmd)
}
