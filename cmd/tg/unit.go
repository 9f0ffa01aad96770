package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:     "history <serial>",
	Short:   "Show the routing history of a unit",
	GroupID: "units",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := routerClient.QueryHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		return printHistory(cmd.OutOrStdout(), resp)
	},
}

var overrideCmd = &cobra.Command{
	Use:     "override <serial>",
	Short:   "Release a rejected unit at a station (supervisor)",
	GroupID: "units",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return errors.New("--reason is required")
		}
		if stationID == "" {
			return errors.New("--station is required")
		}
		resp, err := routerClient.RequestOverride(cmd.Context(), args[0], stationID, reason)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		return printDecision(cmd.OutOrStdout(), resp)
	},
}

var scrapCmd = &cobra.Command{
	Use:     "scrap <serial>",
	Short:   "Scrap a unit so no station admits it again (supervisor)",
	GroupID: "units",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return errors.New("--reason is required")
		}
		resp, err := routerClient.Scrap(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		return printDecision(cmd.OutOrStdout(), resp)
	},
}

var holdCmd = &cobra.Command{
	Use:     "hold <serial>",
	Short:   "Hold a unit for this session while it is on the fixture",
	GroupID: "units",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := routerClient.Hold(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s held\n", args[0])
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:     "release <serial>",
	Short:   "Release a unit held by this session",
	GroupID: "units",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := routerClient.Release(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s released\n", args[0])
		return nil
	},
}

var goldenCmd = &cobra.Command{
	Use:     "golden",
	Short:   "Check or register golden sample boards",
	GroupID: "units",
}

var goldenCheckCmd = &cobra.Command{
	Use:   "check <serial>",
	Short: "Report whether a serial is a golden sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := routerClient.CheckGoldenSample(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"serial": args[0], "golden": ok})
		}
		if ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is a golden sample\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not a golden sample\n", args[0])
		}
		return nil
	},
}

var goldenAddCmd = &cobra.Command{
	Use:   "add <serial>...",
	Short: "Register golden sample serials (admin)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, serial := range args {
			if err := routerClient.AddGoldenSample(cmd.Context(), serial); err != nil {
				return fmt.Errorf("%s: %w", serial, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s added\n", serial)
		}
		return nil
	},
}

func init() {
	overrideCmd.Flags().String("reason", "", "justification recorded with the override")
	scrapCmd.Flags().String("reason", "", "justification recorded with the scrap")

	goldenCmd.AddCommand(goldenCheckCmd)
	goldenCmd.AddCommand(goldenAddCmd)
}
