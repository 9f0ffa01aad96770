package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tracegate/internal/logparse"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

func formatFlag(cmd *cobra.Command) (model.Family, error) {
	v, _ := cmd.Flags().GetString("format")
	f := model.Family(v)
	if f != "" && !f.IsValid() {
		return "", fmt.Errorf("unknown format %q (want ict, fct, aoi or smt)", v)
	}
	return f, nil
}

func parseFile(path string, format model.Family) ([]byte, []*model.TestRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	recs, err := logparse.Default().Parse(data, format)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, recs, nil
}

var parseCmd = &cobra.Command{
	Use:               "parse <log-file>",
	Short:             "Decode a test log and print its records without submitting",
	GroupID:           "station",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := formatFlag(cmd)
		if err != nil {
			return err
		}
		_, recs, err := parseFile(args[0], format)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), recs)
		}
		return printRecords(cmd.OutOrStdout(), recs)
	},
}

func init() {
	parseCmd.Flags().String("format", "", "log format (ict, fct, aoi, smt); detected when empty")
}
