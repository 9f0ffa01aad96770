// Package routing decides whether a unit may be admitted at a station.
//
// The Engine loads the unit's history inside a store transaction, judges
// the submission against the station table, and appends the record with
// its decision. Work on one serial is funneled through a Sequencer so
// same-unit submissions are decided in arrival order.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/tracegate/internal/auth"
	"github.com/alfredjeanlab/tracegate/internal/idgen"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/store"
)

var (
	ErrUnknownStation    = errors.New("unknown station")
	ErrUnknownUnit       = errors.New("unknown unit")
	ErrNothingToOverride = errors.New("nothing to override")
	ErrUnitScrapped      = errors.New("unit scrapped")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrClosed            = errors.New("routing engine closed")

	// ErrJustificationRequired is shared with auth so either check matches.
	ErrJustificationRequired = auth.ErrJustificationRequired
)

// Options configures an Engine. Zero values pick defaults.
type Options struct {
	Sequencer *Sequencer
	Now       func() time.Time
	Logger    *zap.Logger
}

// Engine is the routing state machine.
type Engine struct {
	table  *model.StationTable
	store  store.Store
	seq    *Sequencer
	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewEngine returns an engine routing by table and persisting to st.
func NewEngine(table *model.StationTable, st store.Store, opts Options) *Engine {
	if opts.Sequencer == nil {
		opts.Sequencer = NewSequencer(SequencerConfig{Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		table:  table,
		store:  st,
		seq:    opts.Sequencer,
		now:    opts.Now,
		logger: opts.Logger.Named("routing"),
	}
}

// Table returns the station table the engine routes by.
func (e *Engine) Table() *model.StationTable { return e.table }

// Sequencer returns the engine's per-serial sequencer.
func (e *Engine) Sequencer() *Sequencer { return e.seq }

func (e *Engine) enter() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	e.inflight.Add(1)
	return nil
}

// Close refuses new work and waits for in-flight evaluations to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.inflight.Wait()
}

// Result is the outcome of one submission.
type Result struct {
	Entry *model.HistoryEntry
	// Replayed is set when the idempotency key had already been decided and
	// the stored decision was returned unchanged.
	Replayed bool
	// Committed is false for replays and for key reuse with a different
	// outcome; nothing was written in either case.
	Committed bool
	State     model.UnitState
}

// Submit decides rec at its station and records the pair. sess identifies
// the submitter and owns any advisory hold on the unit.
func (e *Engine) Submit(ctx context.Context, sess *model.Session, rec *model.TestRecord) (*Result, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	def, ok := e.table.Lookup(rec.Station)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, rec.Station)
	}
	if sess != nil && !sess.Role.AtLeast(def.RequiredRole) {
		return nil, fmt.Errorf("%w: %s requires role %s", auth.ErrForbidden, def.ID, def.RequiredRole)
	}
	if rec.ID == "" {
		id, err := idgen.RecordID()
		if err != nil {
			return nil, err
		}
		rec.ID = id
	}
	owner := ""
	if sess != nil {
		owner = sess.Token
		rec.UserID = sess.UserID
	}

	release, err := e.seq.Acquire(ctx, rec.Serial, owner)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *Result
	err = e.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.LockUnit(ctx, rec.Serial); err != nil {
			return err
		}
		prior, err := tx.FindByKey(ctx, rec.Serial, rec.Station, rec.IdempotencyKey)
		switch {
		case err == nil:
			res = e.replay(prior, rec)
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		hist, err := tx.History(ctx, rec.Serial)
		if err != nil {
			return err
		}
		golden, err := tx.IsGoldenSample(ctx, rec.Serial)
		if err != nil {
			return err
		}
		entry := &model.HistoryEntry{Record: rec, Decision: Decide(def, hist, rec, golden, e.now().UTC())}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		res = &Result{Entry: entry, Committed: true, State: DeriveState(e.table, append(hist, entry))}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		// Another server decided the same key between our read and write.
		prior, ferr := e.store.FindByKey(ctx, rec.Serial, rec.Station, rec.IdempotencyKey)
		if ferr != nil {
			return nil, err
		}
		res, err = e.replay(prior, rec), nil
	}
	if err != nil {
		return nil, err
	}
	if !res.Committed && res.State == "" {
		hist, herr := e.store.History(ctx, rec.Serial)
		if herr == nil {
			res.State = DeriveState(e.table, hist)
		}
	}

	e.logger.Info("decision",
		zap.String("serial", rec.Serial),
		zap.String("station", rec.Station),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("kind", string(res.Entry.Decision.Kind)),
		zap.String("reason", string(res.Entry.Decision.Reason)),
		zap.Bool("committed", res.Committed),
		zap.Int64("seq", res.Entry.Seq))
	return res, nil
}

// replay answers a submission whose key is already in history.
func (e *Engine) replay(prior *model.HistoryEntry, rec *model.TestRecord) *Result {
	if prior.Record.Outcome == rec.Outcome {
		return &Result{Entry: prior, Replayed: true}
	}
	return &Result{Entry: &model.HistoryEntry{
		Record: rec,
		Decision: model.RoutingDecision{
			Kind:      model.DecisionReject,
			Reason:    model.ReasonDuplicateWithinWindow,
			Detail:    "key already recorded with outcome " + string(prior.Record.Outcome),
			DecidedAt: e.now().UTC(),
		},
	}}
}

// Idempotency key prefixes the engine writes itself. Client keys may not
// use them.
const (
	overrideKeyPrefix = "override:"
	scrapKeyPrefix    = "scrap:"
)

func reservedKey(key string) bool {
	return strings.HasPrefix(key, overrideKeyPrefix) || strings.HasPrefix(key, scrapKeyPrefix)
}

func validateRecord(rec *model.TestRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: missing record", ErrInvalidRecord)
	}
	var problems []string
	if strings.TrimSpace(rec.Serial) == "" {
		problems = append(problems, "serial is required")
	}
	if rec.Station == "" {
		problems = append(problems, "station is required")
	}
	if !rec.Outcome.IsValid() {
		problems = append(problems, fmt.Sprintf("outcome %q is not pass or fail", rec.Outcome))
	}
	if rec.IdempotencyKey == "" {
		problems = append(problems, "idempotency key is required")
	} else if reservedKey(rec.IdempotencyKey) {
		problems = append(problems, fmt.Sprintf("idempotency key %q uses a reserved prefix", rec.IdempotencyKey))
	}
	if rec.Family != "" && !rec.Family.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown family %q", rec.Family))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}
	return nil
}

// Override admits the latest unresolved reject of serial at station on the
// authority of sess. The reject stays in history; the new entry points at
// it through Supersedes.
func (e *Engine) Override(ctx context.Context, sess *model.Session, serial, station, reason string) (*Result, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	if sess == nil || !sess.Role.Can(model.CapOverride) {
		return nil, auth.ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrJustificationRequired
	}
	if _, ok := e.table.Lookup(station); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, station)
	}

	release, err := e.seq.Acquire(ctx, serial, sess.Token)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *Result
	err = e.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.LockUnit(ctx, serial); err != nil {
			return err
		}
		hist, err := tx.History(ctx, serial)
		if err != nil {
			return err
		}
		if scrapped(hist) {
			return ErrUnitScrapped
		}
		target := pendingReject(hist, station)
		if target == nil {
			return fmt.Errorf("%w: %s has no pending reject at %s", ErrNothingToOverride, serial, station)
		}

		id, err := idgen.RecordID()
		if err != nil {
			return err
		}
		rec := *target.Record
		rec.ID = id
		rec.IdempotencyKey = overrideKeyPrefix + strconv.FormatInt(target.Seq, 10)
		rec.Measurements = append([]model.Measurement(nil), target.Record.Measurements...)

		entry := &model.HistoryEntry{
			Record: &rec,
			Decision: model.RoutingDecision{
				Kind:          model.DecisionOverrideAdmit,
				Reason:        target.Decision.Reason,
				Detail:        target.Decision.Detail,
				AuthorizedBy:  sess.UserName,
				Justification: strings.TrimSpace(reason),
				Supersedes:    target.Seq,
				DecidedAt:     e.now().UTC(),
			},
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		res = &Result{Entry: entry, Committed: true, State: DeriveState(e.table, append(hist, entry))}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("override",
		zap.String("serial", serial),
		zap.String("station", station),
		zap.String("authorized_by", sess.UserName),
		zap.Int64("supersedes", res.Entry.Decision.Supersedes))
	return res, nil
}

// Scrap marks serial scrapped. Later submissions are rejected with
// unit_scrapped. Scrapping twice returns the first scrap entry.
func (e *Engine) Scrap(ctx context.Context, sess *model.Session, serial, reason string) (*Result, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	if sess == nil || !sess.Role.Can(model.CapManage) {
		return nil, auth.ErrForbidden
	}

	release, err := e.seq.Acquire(ctx, serial, sess.Token)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *Result
	err = e.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.LockUnit(ctx, serial); err != nil {
			return err
		}
		hist, err := tx.History(ctx, serial)
		if err != nil {
			return err
		}
		if len(hist) == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownUnit, serial)
		}
		for _, h := range hist {
			if h.Decision.Kind == model.DecisionScrap {
				res = &Result{Entry: h, Replayed: true, State: model.StateScrapped}
				return nil
			}
		}

		id, err := idgen.RecordID()
		if err != nil {
			return err
		}
		lastEntry := hist[len(hist)-1]
		last := lastEntry.Record
		now := e.now().UTC()
		entry := &model.HistoryEntry{
			Record: &model.TestRecord{
				ID:             id,
				Serial:         serial,
				Station:        last.Station,
				Family:         last.Family,
				Outcome:        model.OutcomeFail,
				Timestamp:      now,
				UserID:         sess.UserID,
				IdempotencyKey: scrapKeyPrefix + strconv.FormatInt(lastEntry.Seq, 10),
				Notes:          truncateNotes(reason),
				Panel:          last.Panel,
				Board:          last.Board,
			},
			Decision: model.RoutingDecision{
				Kind:          model.DecisionScrap,
				AuthorizedBy:  sess.UserName,
				Justification: strings.TrimSpace(reason),
				DecidedAt:     now,
			},
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		res = &Result{Entry: entry, Committed: true, State: model.StateScrapped}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Committed {
		e.logger.Info("scrap", zap.String("serial", serial), zap.String("authorized_by", sess.UserName))
	}
	return res, nil
}

func truncateNotes(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > model.MaxNotesLength {
		return string(r[:model.MaxNotesLength])
	}
	return s
}

// UnitView is a unit's history with its derived state.
type UnitView struct {
	Serial  string                `json:"serial"`
	State   model.UnitState       `json:"state"`
	Entries []*model.HistoryEntry `json:"entries"`
	HeldBy  string                `json:"-"`
}

// History returns the unit's entries in commit order and its state.
func (e *Engine) History(ctx context.Context, serial string) (*UnitView, error) {
	hist, err := e.store.History(ctx, serial)
	if err != nil {
		return nil, err
	}
	if hist == nil {
		hist = []*model.HistoryEntry{}
	}
	return &UnitView{
		Serial:  serial,
		State:   DeriveState(e.table, hist),
		Entries: hist,
		HeldBy:  e.seq.HeldBy(serial),
	}, nil
}

// Hold places an advisory hold on serial for sess until released.
func (e *Engine) Hold(sess *model.Session, serial string) error {
	if sess == nil {
		return auth.ErrInvalidCredentials
	}
	return e.seq.Hold(serial, sess.Token)
}

// Unhold releases sess's hold on serial.
func (e *Engine) Unhold(sess *model.Session, serial string) bool {
	if sess == nil {
		return false
	}
	return e.seq.Unhold(serial, sess.Token)
}

// ReleaseHolds drops every advisory hold owned by token.
func (e *Engine) ReleaseHolds(token string) []string {
	return e.seq.ReleaseHolds(token)
}
