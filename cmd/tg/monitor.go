package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/tracegate/internal/events"
	"github.com/alfredjeanlab/tracegate/internal/ui"
)

func monitorNATSURL(cmd *cobra.Command) string {
	if u, _ := cmd.Flags().GetString("nats"); u != "" {
		return u
	}
	if u := os.Getenv("TRACEGATE_NATS_URL"); u != "" {
		return u
	}
	return activeRemoteNATSURL()
}

// monitorTopic is the decision subject for station, or every station's
// when station is empty.
func monitorTopic(station string) string {
	if station == "" {
		return events.DecisionTopic(">")
	}
	return events.DecisionTopic(station)
}

// printDecisionEvent writes one line per recorded decision. Payloads that
// do not decode are skipped.
func printDecisionEvent(w io.Writer, msg events.Message) {
	var ev events.DecisionRecorded
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Entry == nil || ev.Entry.Record == nil {
		return
	}
	if jsonOutput {
		fmt.Fprintln(w, string(msg.Data))
		return
	}
	st := ui.For(w)
	e := ev.Entry
	station := events.StationOf(msg.Topic)
	if station == "" {
		station = e.Record.Station
	}
	fmt.Fprintf(w, "%s  #%d  %-8s %s  %s -> %s\n",
		formatTime(e.Decision.DecidedAt), e.Seq, station, e.Record.Serial,
		st.Decision(e.Decision.Kind, decisionLabel(e.Decision)), st.State(ev.State))
}

func monitor(ctx context.Context, w io.Writer, sub events.Subscriber, topic string) error {
	ch, cancel, err := sub.Subscribe(topic)
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			printDecisionEvent(w, msg)
		}
	}
}

var monitorCmd = &cobra.Command{
	Use:               "monitor",
	Short:             "Print routing decisions live as the server records them",
	GroupID:           "units",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := monitorNATSURL(cmd)
		if url == "" {
			return errors.New("no NATS URL: pass --nats, set TRACEGATE_NATS_URL or add one to the remote")
		}
		sub, err := events.NewNATSSubscriber(url)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer sub.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		topic := monitorTopic(stationID)
		fmt.Fprintf(os.Stderr, "listening on %s\n", topic)
		return monitor(ctx, cmd.OutOrStdout(), sub, topic)
	},
}

func init() {
	monitorCmd.Flags().String("nats", "", "NATS URL (defaults to TRACEGATE_NATS_URL or the remote's)")
}
