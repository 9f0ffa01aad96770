package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func decisionLabel(d model.RoutingDecision) string {
	label := d.Kind.String()
	if d.Reason != "" {
		label += " (" + d.Reason.String() + ")"
	}
	if d.GoldenSample {
		label += " [golden]"
	}
	return label
}

func printRecords(w io.Writer, recs []*model.TestRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSTATION\tFAMILY\tOUTCOME\tSTEPS\tTIME\tNOTES")
	for _, r := range recs {
		outcome := r.Outcome.String()
		if r.Suspect {
			outcome += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Serial, orDash(r.Station), r.Family, outcome, len(r.Measurements), formatTime(r.Timestamp), r.Notes)
	}
	return tw.Flush()
}

// printDecisions writes one row per submitted record. Rows for failed
// submissions carry the error instead of the decision.
func printDecisions(w io.Writer, recs []*model.TestRecord, resps []*tracegatev1.DecisionResponse, errs []error) error {
	st := ui.For(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSTATION\tOUTCOME\tDECISION\tSTATE\tSEQ")
	for i, r := range recs {
		if errs[i] != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\terror: %v\t-\t-\n", r.Serial, r.Station, r.Outcome, errs[i])
			continue
		}
		resp := resps[i]
		decision := decisionLabel(resp.Entry.Decision)
		if resp.Replayed {
			decision += " (replayed)"
		}
		if !resp.Committed {
			decision += " (not recorded)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.Serial, r.Station, r.Outcome,
			st.Decision(resp.Entry.Decision.Kind, decision), st.State(resp.State), resp.Entry.Seq)
	}
	return tw.Flush()
}

func printDecision(w io.Writer, resp *tracegatev1.DecisionResponse) error {
	st := ui.For(w)
	e := resp.Entry
	fmt.Fprintf(w, "Serial:    %s\n", e.Record.Serial)
	fmt.Fprintf(w, "Station:   %s\n", e.Record.Station)
	fmt.Fprintf(w, "Decision:  %s\n", st.Decision(e.Decision.Kind, decisionLabel(e.Decision)))
	if e.Decision.AuthorizedBy != "" {
		fmt.Fprintf(w, "By:        %s\n", e.Decision.AuthorizedBy)
	}
	if e.Decision.Justification != "" {
		fmt.Fprintf(w, "Reason:    %s\n", e.Decision.Justification)
	}
	if e.Decision.Supersedes != 0 {
		fmt.Fprintf(w, "Releases:  #%d\n", e.Decision.Supersedes)
	}
	fmt.Fprintf(w, "State:     %s\n", st.State(resp.State))
	_, err := fmt.Fprintf(w, "Seq:       %d\n", e.Seq)
	return err
}

func printHistory(w io.Writer, h *tracegatev1.QueryHistoryResponse) error {
	st := ui.For(w)
	state := st.State(h.State)
	if h.Held {
		state += " (held)"
	}
	fmt.Fprintf(w, "%s: %s\n", h.Serial, state)
	if len(h.Entries) == 0 {
		_, err := fmt.Fprintln(w, "no history")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTATION\tOUTCOME\tDECISION\tUSER\tTIME\tDETAIL")
	for _, e := range h.Entries {
		detail := e.Decision.Detail
		if e.Decision.Justification != "" {
			detail = e.Decision.Justification
		}
		if detail == "" {
			detail = e.Record.Notes
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Record.Station, e.Record.Outcome, st.Decision(e.Decision.Kind, decisionLabel(e.Decision)),
			orDash(e.Record.UserID), formatTime(e.Record.Timestamp), st.Muted(detail))
	}
	return tw.Flush()
}
