package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/client"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

// fakeClient answers SubmitResult; the embedded interface panics on any
// other call.
type fakeClient struct {
	client.Client

	mu        sync.Mutex
	submitted []*model.TestRecord
	reject    map[string]bool
	fail      map[string]error
}

func (f *fakeClient) SubmitResult(_ context.Context, rec *model.TestRecord) (*tracegatev1.DecisionResponse, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, rec)
	seq := int64(len(f.submitted))
	f.mu.Unlock()

	if err := f.fail[rec.Serial]; err != nil {
		return nil, err
	}
	d := model.RoutingDecision{Kind: model.DecisionAdmit, DecidedAt: time.Now()}
	state := model.StateInProcess
	if f.reject[rec.Serial] {
		d = model.RoutingDecision{Kind: model.DecisionReject, Reason: model.ReasonMissingPredecessor}
		state = model.StateNotStarted
	}
	return &tracegatev1.DecisionResponse{
		Entry:     &model.HistoryEntry{Seq: seq, Record: rec, Decision: d},
		Committed: true,
		State:     state,
	}, nil
}

func (f *fakeClient) keys() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.submitted))
	for _, r := range f.submitted {
		out[r.Serial] = r.IdempotencyKey
	}
	return out
}

const smtLog = `<?xml version="1.0" encoding="UTF-8"?>
<VvExtDataExportXml>
  <DataModel Name="PROD-7" Variant="V2" Barcode="PNL-001" BoardCount="2">
    <Inspection InspectionStart="2024-01-31T10:20:00" InspectionEnd="2024-01-31T10:21:30" InspectionAborted="false"/>
    <Object Class="Panel" Name="Panel">
      <Status><Overall IsFailed="true"/><Inspection IsInspectionFailed="true"/></Status>
      <Object Class="Board" Name="1" Barcode="V1024001000123A">
        <Status><Overall IsFailed="false"/><Inspection IsInspectionFailed="false"/></Status>
      </Object>
      <Object Class="Board" Name="2" Barcode="V1024001000124A">
        <Status><Overall IsFailed="true"/><Inspection IsInspectionFailed="true"/></Status>
        <Object Class="Comp" Name="U1" Type="QFN">
          <Status><Overall IsFailed="true"/></Status>
        </Object>
      </Object>
    </Object>
  </DataModel>
</VvExtDataExportXml>`

func writeLog(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestExpandPanel(t *testing.T) {
	rec := &model.TestRecord{Serial: "V102400000005AB", Station: "ICT", Outcome: model.OutcomePass}

	boards, err := expandPanel(rec, 3, 2)
	require.NoError(t, err)
	require.Len(t, boards, 3)
	for i, want := range []string{"V102400000004AB", "V102400000005AB", "V102400000006AB"} {
		assert.Equal(t, want, boards[i].Serial)
		assert.Equal(t, i+1, boards[i].Board)
		assert.Equal(t, "V102400000004AB", boards[i].Panel)
		assert.Equal(t, "ICT", boards[i].Station)
	}
	assert.Equal(t, "V102400000005AB", rec.Serial, "source record must not change")

	single, err := expandPanel(rec, 0, 1)
	require.NoError(t, err)
	assert.Same(t, rec, single[0])

	_, err = expandPanel(rec, 3, 4)
	assert.Error(t, err)
}

func TestPrepareRecords_Panel(t *testing.T) {
	recs := []*model.TestRecord{{Serial: "V102400000005AB", Outcome: model.OutcomePass}}
	got, err := prepareRecords("ict.log", []byte("x"), recs, submitOptions{Station: "ICT", Panel: 2, Position: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "V102400000006AB", got[1].Serial)
	assert.NotEqual(t, got[0].IdempotencyKey, got[1].IdempotencyKey)
}

func TestPrepareRecords(t *testing.T) {
	data := []byte("log body")
	recs := func() []*model.TestRecord {
		return []*model.TestRecord{
			{Serial: "V1024001000123A", Outcome: model.OutcomePass},
			{Serial: "V1024001000123A", Station: "FCT", Outcome: model.OutcomeFail},
		}
	}

	got, err := prepareRecords("/logs/run1.log", data, recs(), submitOptions{Station: "ICT"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "ICT", r.Station)
		assert.Equal(t, "run1.log", r.LogFile)
		assert.NotEmpty(t, r.IdempotencyKey)
	}
	assert.NotEqual(t, got[0].IdempotencyKey, got[1].IdempotencyKey, "records of one log need distinct keys")

	again, err := prepareRecords("/other/run1.log", data, recs(), submitOptions{Station: "ICT"})
	require.NoError(t, err)
	assert.Equal(t, got[0].IdempotencyKey, again[0].IdempotencyKey, "same content yields the same key")

	changed, err := prepareRecords("/logs/run1.log", []byte("log body 2"), recs(), submitOptions{Station: "ICT"})
	require.NoError(t, err)
	assert.NotEqual(t, got[0].IdempotencyKey, changed[0].IdempotencyKey)

	_, err = prepareRecords("/logs/run1.log", data, recs(), submitOptions{})
	assert.ErrorContains(t, err, "--station")

	_, err = prepareRecords("/logs/run1.log", data, recs(), submitOptions{Station: "ICT", Key: "k"})
	assert.Error(t, err)

	one, err := prepareRecords("/logs/run1.log", data, recs()[:1], submitOptions{Station: "ICT", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "k", one[0].IdempotencyKey)
}

func TestSubmitFile(t *testing.T) {
	path := writeLog(t, t.TempDir(), "PNL-001.xml", smtLog)
	fake := &fakeClient{reject: map[string]bool{"V1024001000124A": true}}

	var out bytes.Buffer
	err := submitFile(context.Background(), &out, fake, path, submitOptions{Station: "SMT"})
	require.ErrorIs(t, err, errRejected)

	assert.Contains(t, out.String(), "reject (missing_predecessor)")
	assert.Contains(t, out.String(), "V1024001000123A")

	first := fake.keys()
	require.Len(t, first, 2)
	serials := make([]string, 0, len(first))
	for s := range first {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	assert.Equal(t, []string{"V1024001000123A", "V1024001000124A"}, serials)

	// Resubmitting the file reuses its keys.
	fake.submitted = nil
	_ = submitFile(context.Background(), &out, fake, path, submitOptions{Station: "SMT"})
	assert.Equal(t, first, fake.keys())
}

func TestSubmitFile_TransportError(t *testing.T) {
	path := writeLog(t, t.TempDir(), "PNL-001.xml", smtLog)
	boom := errors.New("connection refused")
	fake := &fakeClient{fail: map[string]error{"V1024001000123A": boom}}

	var out bytes.Buffer
	err := submitFile(context.Background(), &out, fake, path, submitOptions{Station: "SMT"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, out.String(), "error: connection refused")
	assert.Len(t, fake.keys(), 2, "one failure does not stop the other board")
}

func TestSubmitFile_AllAdmitted(t *testing.T) {
	path := writeLog(t, t.TempDir(), "PNL-001.xml", smtLog)
	fake := &fakeClient{}

	var out bytes.Buffer
	require.NoError(t, submitFile(context.Background(), &out, fake, path, submitOptions{Station: "SMT"}))
	assert.Contains(t, out.String(), "in_process")
}
