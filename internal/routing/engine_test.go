package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/tracegate/internal/auth"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/store"
	"github.com/alfredjeanlab/tracegate/internal/store/memory"
)

var (
	operator   = &model.Session{Token: "tok-op", UserID: "u-op", UserName: "olga", Role: model.RoleOperator}
	supervisor = &model.Session{Token: "tok-sup", UserID: "u-sup", UserName: "sam", Role: model.RoleSupervisor}
	admin      = &model.Session{Token: "tok-adm", UserID: "u-adm", UserName: "ada", Role: model.RoleAdmin}
)

// lineTable is SMT -> ICT -> FCT with ICT allowing one retry.
func lineTable(t *testing.T) *model.StationTable {
	t.Helper()
	table, err := model.NewStationTable([]model.StationDefinition{
		{ID: "SMT", MaxRetries: 3},
		{ID: "ICT", Requires: []string{"SMT"}, MaxRetries: 1},
		{ID: "FCT", Requires: []string{"ICT"}, MaxRetries: 3},
	})
	require.NoError(t, err)
	return table
}

func newTestEngine(t *testing.T, table *model.StationTable) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	e := NewEngine(table, st, Options{})
	t.Cleanup(e.Close)
	return e, st
}

func submission(serial, station string, outcome model.Outcome, key string) *model.TestRecord {
	return &model.TestRecord{
		Serial:         serial,
		Station:        station,
		Family:         model.FamilyICT,
		Outcome:        outcome,
		Timestamp:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
	}
}

func mustSubmit(t *testing.T, e *Engine, rec *model.TestRecord) *Result {
	t.Helper()
	res, err := e.Submit(context.Background(), operator, rec)
	require.NoError(t, err)
	return res
}

func TestSubmit_AdmitAlongPath(t *testing.T) {
	e, _ := newTestEngine(t, lineTable(t))

	for i, station := range []string{"SMT", "ICT", "FCT"} {
		res := mustSubmit(t, e, submission("U1", station, model.OutcomePass, fmt.Sprintf("k%d", i)))
		assert.Equal(t, model.DecisionAdmit, res.Entry.Decision.Kind, station)
		assert.True(t, res.Committed)
		assert.Equal(t, int64(i+1), res.Entry.Seq)
		assert.Equal(t, "u-op", res.Entry.Record.UserID)
		assert.NotEmpty(t, res.Entry.Record.ID)
	}

	view, err := e.History(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, view.State)
	assert.Len(t, view.Entries, 3)
}

func TestSubmit_MissingPredecessorThenOverride(t *testing.T) {
	table, err := model.NewStationTable([]model.StationDefinition{
		{ID: "S1", MaxRetries: 3},
		{ID: "S2", Requires: []string{"S1"}, MaxRetries: 3},
	})
	require.NoError(t, err)
	e, _ := newTestEngine(t, table)
	ctx := context.Background()

	mustSubmit(t, e, submission("U1", "S1", model.OutcomePass, "a"))
	res := mustSubmit(t, e, submission("U1", "S2", model.OutcomePass, "b"))
	assert.Equal(t, model.DecisionAdmit, res.Entry.Decision.Kind)

	res = mustSubmit(t, e, submission("U2", "S2", model.OutcomePass, "c"))
	require.Equal(t, model.DecisionReject, res.Entry.Decision.Kind)
	assert.Equal(t, model.ReasonMissingPredecessor, res.Entry.Decision.Reason)
	assert.Contains(t, res.Entry.Decision.Detail, "S1")
	assert.True(t, res.Committed, "rejects are recorded")
	assert.Equal(t, model.StateFailed, res.State)
	rejectSeq := res.Entry.Seq

	_, err = e.Override(ctx, operator, "U2", "S2", "manual release")
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = e.Override(ctx, supervisor, "U2", "S2", "")
	assert.ErrorIs(t, err, ErrJustificationRequired)

	ov, err := e.Override(ctx, supervisor, "U2", "S2", "manual release")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionOverrideAdmit, ov.Entry.Decision.Kind)
	assert.Equal(t, rejectSeq, ov.Entry.Decision.Supersedes)
	assert.Equal(t, "sam", ov.Entry.Decision.AuthorizedBy)
	assert.Equal(t, "manual release", ov.Entry.Decision.Justification)

	view, err := e.History(ctx, "U2")
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, model.DecisionReject, view.Entries[0].Decision.Kind, "reject must survive the override")
	assert.Equal(t, model.DecisionOverrideAdmit, view.Entries[1].Decision.Kind)

	_, err = e.Override(ctx, supervisor, "U2", "S2", "again")
	assert.ErrorIs(t, err, ErrNothingToOverride)
}

func TestOverride_ExhaustedRetriesCountsAsPass(t *testing.T) {
	e, _ := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "s"))
	var res *Result
	for i := range 3 {
		res = mustSubmit(t, e, submission("U1", "ICT", model.OutcomeFail, fmt.Sprintf("i%d", i)))
	}
	require.Equal(t, model.DecisionReject, res.Entry.Decision.Kind)
	require.Equal(t, model.ReasonExceededRetries, res.Entry.Decision.Reason)
	assert.Equal(t, model.StateFailed, res.State)

	ov, err := e.Override(ctx, supervisor, "U1", "ICT", "repaired")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionOverrideAdmit, ov.Entry.Decision.Kind)
	assert.Equal(t, model.OutcomeFail, ov.Entry.Record.Outcome)
	assert.Equal(t, model.StateInProcess, ov.State)

	view, err := e.History(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, model.StateInProcess, view.State)

	res = mustSubmit(t, e, submission("U1", "FCT", model.OutcomePass, "f"))
	assert.Equal(t, model.DecisionAdmit, res.Entry.Decision.Kind)
	assert.Equal(t, model.StatePassed, res.State)
}

func TestSubmit_Idempotent(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	first := mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "same"))
	for i := 0; i < 3; i++ {
		again := mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "same"))
		assert.True(t, again.Replayed)
		assert.False(t, again.Committed)
		assert.Equal(t, first.Entry.Seq, again.Entry.Seq)
		assert.Equal(t, first.Entry.Decision, again.Entry.Decision)
	}

	conflict := mustSubmit(t, e, submission("U1", "SMT", model.OutcomeFail, "same"))
	assert.Equal(t, model.DecisionReject, conflict.Entry.Decision.Kind)
	assert.Equal(t, model.ReasonDuplicateWithinWindow, conflict.Entry.Decision.Reason)
	assert.False(t, conflict.Committed)

	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, hist, 1, "a key owns exactly one pair")

	// Distinct keys are never deduplicated.
	other := mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "other"))
	assert.True(t, other.Committed)
}

func TestSubmit_ExceededRetries(t *testing.T) {
	e, _ := newTestEngine(t, lineTable(t))

	mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "s"))
	r1 := mustSubmit(t, e, submission("U1", "ICT", model.OutcomeFail, "f1"))
	assert.Equal(t, model.DecisionAdmit, r1.Entry.Decision.Kind)
	assert.Equal(t, model.StateFailed, r1.State)
	r2 := mustSubmit(t, e, submission("U1", "ICT", model.OutcomeFail, "f2"))
	assert.Equal(t, model.DecisionAdmit, r2.Entry.Decision.Kind)

	r3 := mustSubmit(t, e, submission("U1", "ICT", model.OutcomeFail, "f3"))
	assert.Equal(t, model.DecisionReject, r3.Entry.Decision.Kind)
	assert.Equal(t, model.ReasonExceededRetries, r3.Entry.Decision.Reason)

	// A pass is still admitted after retries run out.
	r4 := mustSubmit(t, e, submission("U1", "ICT", model.OutcomePass, "p"))
	assert.Equal(t, model.DecisionAdmit, r4.Entry.Decision.Kind)
	assert.Equal(t, model.StateInProcess, r4.State)
}

func TestSubmit_SuspectNeverSatisfiesPredecessor(t *testing.T) {
	e, _ := newTestEngine(t, lineTable(t))

	rec := submission("U1", "SMT", model.OutcomePass, "s")
	rec.Suspect = true
	res := mustSubmit(t, e, rec)
	assert.Equal(t, model.DecisionAdmit, res.Entry.Decision.Kind)

	res = mustSubmit(t, e, submission("U1", "ICT", model.OutcomePass, "i"))
	assert.Equal(t, model.ReasonMissingPredecessor, res.Entry.Decision.Reason)
}

func TestSubmit_GoldenSampleBypassesRouting(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	require.NoError(t, st.AddGoldenSample(context.Background(), "GOLD", "ada"))

	res := mustSubmit(t, e, submission("GOLD", "FCT", model.OutcomePass, "g"))
	assert.Equal(t, model.DecisionAdmit, res.Entry.Decision.Kind)
	assert.True(t, res.Entry.Decision.GoldenSample)
}

func TestSubmit_InputErrorsAreNotRecorded(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	_, err := e.Submit(ctx, operator, submission("U1", "XRAY", model.OutcomePass, "k"))
	assert.ErrorIs(t, err, ErrUnknownStation)

	_, err = e.Submit(ctx, operator, submission("", "SMT", model.OutcomePass, "k"))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = e.Submit(ctx, operator, submission("U1", "SMT", "maybe", "k"))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = e.Submit(ctx, operator, submission("U1", "SMT", model.OutcomePass, ""))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSubmit_CommitFailureLeavesNoPartialRecord(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx := context.Background()
	st.SetCommitHook(func() error { return errors.New("connection lost") })

	_, err := e.Submit(ctx, operator, submission("U1", "SMT", model.OutcomePass, "k"))
	require.ErrorIs(t, err, store.ErrCommit)

	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, hist)

	st.SetCommitHook(nil)
	res := mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "k"))
	assert.True(t, res.Committed, "retry with the same key commits once")
}

func TestSubmit_CancelledBeforeCommit(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Submit(ctx, operator, submission("U1", "SMT", model.OutcomePass, "k"))
	require.ErrorIs(t, err, context.Canceled)

	hist, _ := st.History(context.Background(), "U1")
	assert.Empty(t, hist)
}

func TestScrap(t *testing.T) {
	e, _ := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	_, err := e.Scrap(ctx, admin, "U1", "burnt")
	assert.ErrorIs(t, err, ErrUnknownUnit)

	mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "s"))
	_, err = e.Scrap(ctx, supervisor, "U1", "burnt")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	res, err := e.Scrap(ctx, admin, "U1", "burnt")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionScrap, res.Entry.Decision.Kind)
	assert.Equal(t, model.StateScrapped, res.State)

	again, err := e.Scrap(ctx, admin, "U1", "burnt")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Entry.Seq, again.Entry.Seq)

	after := mustSubmit(t, e, submission("U1", "ICT", model.OutcomePass, "i"))
	assert.Equal(t, model.ReasonUnitScrapped, after.Entry.Decision.Reason)

	_, err = e.Override(ctx, supervisor, "U1", "ICT", "release")
	assert.ErrorIs(t, err, ErrUnitScrapped)
}

func TestScrap_ClientKeyDoesNotCollide(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	// A client free to pick "scrap" as a key at the last station.
	mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "scrap"))
	res, err := e.Scrap(ctx, admin, "U1", "dropped")
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, "scrap:1", res.Entry.Record.IdempotencyKey)

	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestSubmit_ReservedKeyPrefixes(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	for _, key := range []string{"override:1", "scrap:1"} {
		_, err := e.Submit(ctx, operator, submission("U1", "SMT", model.OutcomePass, key))
		assert.ErrorIs(t, err, ErrInvalidRecord, key)
	}
	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSubmit_SameSerialConcurrentOneEntryPerKey(t *testing.T) {
	e, st := newTestEngine(t, lineTable(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Submit(ctx, operator, submission("U1", "SMT", model.OutcomePass, fmt.Sprintf("k%d", i%5)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, hist, 5)
}

func TestClose_RefusesNewWork(t *testing.T) {
	table := lineTable(t)
	e := NewEngine(table, memory.New(), Options{})
	e.Close()

	_, err := e.Submit(context.Background(), operator, submission("U1", "SMT", model.OutcomePass, "k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHolds(t *testing.T) {
	e, _ := newTestEngine(t, lineTable(t))
	other := &model.Session{Token: "tok-other", UserID: "u-2", Role: model.RoleOperator}

	require.NoError(t, e.Hold(operator, "U1"))
	assert.ErrorIs(t, e.Hold(other, "U1"), ErrHeld)

	// The holder keeps working on the unit.
	mustSubmit(t, e, submission("U1", "SMT", model.OutcomePass, "s"))

	_, err := e.Submit(context.Background(), other, submission("U1", "ICT", model.OutcomePass, "i"))
	assert.ErrorIs(t, err, ErrHeld)

	assert.Equal(t, []string{"U1"}, e.ReleaseHolds(operator.Token))
	res, err := e.Submit(context.Background(), other, submission("U1", "ICT", model.OutcomePass, "i"))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAdmit, res.Entry.Decision.Kind)
}

func TestSubmit_StationRole(t *testing.T) {
	table, err := model.NewStationTable([]model.StationDefinition{
		{ID: "REPAIR", RequiredRole: model.RoleSupervisor},
	})
	require.NoError(t, err)
	e, st := newTestEngine(t, table)
	ctx := context.Background()

	_, err = e.Submit(ctx, operator, submission("U1", "REPAIR", model.OutcomePass, "k1"))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	res, err := e.Submit(ctx, supervisor, submission("U1", "REPAIR", model.OutcomePass, "k1"))
	require.NoError(t, err)
	assert.True(t, res.Committed)

	hist, err := st.History(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, hist, 1, "the forbidden attempt left nothing behind")
}
