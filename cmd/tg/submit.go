package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/client"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/serial"
)

// keyNamespace scopes the name-based idempotency keys derived from logs.
var keyNamespace = uuid.MustParse("6f1c2a4e-9b3d-4c1e-8a57-2d0e6b9f4c31")

// maxInFlight bounds concurrent submissions for one log.
const maxInFlight = 4

type submitOptions struct {
	Format   model.Family
	Station  string
	Panel    int
	Position int
	Key      string
}

// recordKey derives the idempotency key of the index-th record of a log
// from the log content, so resubmitting the same file replays the stored
// decision.
func recordKey(digest uint64, index int, sn string) string {
	name := fmt.Sprintf("%016x/%d/%s", digest, index, sn)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// expandPanel turns the record of the board at position into one record per
// board on a panel of the given size.
func expandPanel(rec *model.TestRecord, boards, position int) ([]*model.TestRecord, error) {
	if boards < 2 {
		return []*model.TestRecord{rec}, nil
	}
	serials, err := serial.Generate(rec.Serial, position, boards)
	if err != nil {
		return nil, err
	}
	out := make([]*model.TestRecord, 0, len(serials))
	for i, s := range serials {
		board := *rec
		board.Serial = s
		board.Board = i + 1
		board.Panel = serials[0]
		out = append(out, &board)
	}
	return out, nil
}

// prepareRecords fills in what the station client owns on each parsed
// record: the station, the log file name and the idempotency key.
func prepareRecords(path string, data []byte, recs []*model.TestRecord, opts submitOptions) ([]*model.TestRecord, error) {
	if opts.Key != "" && (len(recs) > 1 || opts.Panel > 1) {
		return nil, fmt.Errorf("%s: --key needs a log with a single board", path)
	}
	digest := xxhash.Sum64(data)
	var out []*model.TestRecord
	for i, rec := range recs {
		if opts.Station != "" {
			rec.Station = opts.Station
		}
		if rec.Station == "" {
			return nil, fmt.Errorf("%s: log names no station; pass --station", path)
		}
		if rec.LogFile == "" {
			rec.LogFile = filepath.Base(path)
		}
		boards, err := expandPanel(rec, opts.Panel, opts.Position)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, b := range boards {
			b.IdempotencyKey = opts.Key
			if b.IdempotencyKey == "" {
				b.IdempotencyKey = recordKey(digest, i, b.Serial)
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// submitAll submits recs concurrently. Per-record errors are returned in
// errs; the results keep the order of recs.
func submitAll(ctx context.Context, c client.Client, recs []*model.TestRecord) ([]*tracegatev1.DecisionResponse, []error) {
	resps := make([]*tracegatev1.DecisionResponse, len(recs))
	errs := make([]error, len(recs))
	var g errgroup.Group
	g.SetLimit(maxInFlight)
	for i, rec := range recs {
		g.Go(func() error {
			resps[i], errs[i] = c.SubmitResult(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return resps, errs
}

// submitFile parses, prepares and submits one log. It returns errRejected
// when any board was rejected and the first transport error otherwise.
func submitFile(ctx context.Context, w io.Writer, c client.Client, path string, opts submitOptions) error {
	data, recs, err := parseFile(path, opts.Format)
	if err != nil {
		return err
	}
	recs, err = prepareRecords(path, data, recs, opts)
	if err != nil {
		return err
	}
	resps, errs := submitAll(ctx, c, recs)

	if jsonOutput {
		if err := printJSON(w, resps); err != nil {
			return err
		}
	} else if err := printDecisions(w, recs, resps, errs); err != nil {
		return err
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	for _, resp := range resps {
		if !resp.Entry.Decision.Admitted() {
			return errRejected
		}
	}
	return nil
}

var submitCmd = &cobra.Command{
	Use:     "submit <log-file>...",
	Short:   "Parse test logs and submit their records for routing",
	GroupID: "station",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := submitFlags(cmd)
		if err != nil {
			return err
		}
		var firstErr error
		for _, path := range args {
			err := submitFile(cmd.Context(), cmd.OutOrStdout(), routerClient, path, opts)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	},
}

func submitFlags(cmd *cobra.Command) (submitOptions, error) {
	format, err := formatFlag(cmd)
	if err != nil {
		return submitOptions{}, err
	}
	panel, _ := cmd.Flags().GetInt("panel")
	position, _ := cmd.Flags().GetInt("position")
	key, _ := cmd.Flags().GetString("key")
	if panel > 1 && (position < 1 || position > panel) {
		return submitOptions{}, fmt.Errorf("--position %d outside panel of %d", position, panel)
	}
	return submitOptions{
		Format:   format,
		Station:  stationID,
		Panel:    panel,
		Position: position,
		Key:      key,
	}, nil
}

func addSubmitFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", "", "log format (ict, fct, aoi, smt); detected when empty")
	cmd.Flags().Int("panel", 0, "expand each record to a panel of this many boards")
	cmd.Flags().Int("position", 1, "panel position of the board named in the log")
}

func init() {
	addSubmitFlags(submitCmd)
	submitCmd.Flags().String("key", "", "idempotency key (derived from the log content when empty)")
}
