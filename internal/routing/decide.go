package routing

import (
	"sort"
	"strings"
	"time"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// Decide judges rec for the station def given the unit's prior history.
// It covers the routing rules that follow the duplicate check; the caller
// resolves idempotency keys first. Decide never blocks.
func Decide(def model.StationDefinition, hist []*model.HistoryEntry, rec *model.TestRecord, golden bool, now time.Time) model.RoutingDecision {
	d := model.RoutingDecision{DecidedAt: now}

	if scrapped(hist) {
		d.Kind = model.DecisionReject
		d.Reason = model.ReasonUnitScrapped
		return d
	}
	if golden {
		d.Kind = model.DecisionAdmit
		d.GoldenSample = true
		return d
	}

	passing := passingStations(hist)
	var missing []string
	for _, p := range def.Requires {
		if !passing[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		d.Kind = model.DecisionReject
		d.Reason = model.ReasonMissingPredecessor
		d.Detail = "missing: " + strings.Join(missing, ", ")
		return d
	}

	if rec.Outcome == model.OutcomeFail && admittedAttempts(hist, def.ID) > def.MaxRetries {
		d.Kind = model.DecisionReject
		d.Reason = model.ReasonExceededRetries
		d.Detail = "retries exhausted at " + def.ID
		return d
	}

	d.Kind = model.DecisionAdmit
	return d
}

// DeriveState computes the unit-global state from its history.
func DeriveState(table *model.StationTable, hist []*model.HistoryEntry) model.UnitState {
	if len(hist) == 0 {
		return model.StateNotStarted
	}
	if scrapped(hist) {
		return model.StateScrapped
	}
	if len(unresolvedRejects(hist)) > 0 {
		return model.StateFailed
	}
	last := hist[len(hist)-1]
	// An override copies the rejected record, Fail outcome included, yet
	// counts as a pass.
	if last.Decision.Kind == model.DecisionAdmit && last.Record.Outcome == model.OutcomeFail {
		return model.StateFailed
	}
	passing := passingStations(hist)
	for _, t := range table.Terminals() {
		complete := true
		for _, s := range table.Path(t) {
			if !passing[s] {
				complete = false
				break
			}
		}
		if complete {
			return model.StatePassed
		}
	}
	return model.StateInProcess
}

func scrapped(hist []*model.HistoryEntry) bool {
	for _, e := range hist {
		if e.Decision.Kind == model.DecisionScrap {
			return true
		}
	}
	return false
}

func passingStations(hist []*model.HistoryEntry) map[string]bool {
	out := make(map[string]bool)
	for _, e := range hist {
		if e.Passing() {
			out[e.Record.Station] = true
		}
	}
	return out
}

func admittedAttempts(hist []*model.HistoryEntry, station string) int {
	n := 0
	for _, e := range hist {
		if e.Record.Station == station && e.Decision.Admitted() {
			n++
		}
	}
	return n
}

// unresolvedRejects returns reject entries, in history order, that neither
// an override has superseded nor a later pass at the same station has
// cleared.
func unresolvedRejects(hist []*model.HistoryEntry) []*model.HistoryEntry {
	superseded := make(map[int64]bool)
	for _, e := range hist {
		if e.Decision.Kind == model.DecisionOverrideAdmit {
			superseded[e.Decision.Supersedes] = true
		}
	}
	var out []*model.HistoryEntry
	for i, e := range hist {
		if e.Decision.Kind != model.DecisionReject || superseded[e.Seq] {
			continue
		}
		cleared := false
		for _, later := range hist[i+1:] {
			if later.Record.Station == e.Record.Station && later.Passing() {
				cleared = true
				break
			}
		}
		if !cleared {
			out = append(out, e)
		}
	}
	return out
}

// pendingReject returns the latest unresolved reject at station, or nil.
func pendingReject(hist []*model.HistoryEntry, station string) *model.HistoryEntry {
	rejects := unresolvedRejects(hist)
	for i := len(rejects) - 1; i >= 0; i-- {
		if rejects[i].Record.Station == station {
			return rejects[i]
		}
	}
	return nil
}
