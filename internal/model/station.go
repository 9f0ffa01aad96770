package model

import (
	"fmt"
	"sort"
)

// DefaultMaxRetries is used when a station definition leaves the retry count unset.
const DefaultMaxRetries = 3

// StationDefinition is the static routing rule for one station.
type StationDefinition struct {
	ID           string   `json:"id" toml:"id" yaml:"id"`
	Requires     []string `json:"requires,omitempty" toml:"requires" yaml:"requires"`
	MaxRetries   int      `json:"max_retries" toml:"max_retries" yaml:"max_retries"`
	RequiredRole Role     `json:"role" toml:"role" yaml:"role"`
}

// StationTable is the immutable routing graph for a deployment.
// Build it with NewStationTable; it is safe for concurrent reads.
type StationTable struct {
	byID      map[string]StationDefinition
	order     []string
	terminals []string
}

// NewStationTable validates defs and returns the table. Predecessors must be
// defined, ids unique, retries non-negative and the graph acyclic.
func NewStationTable(defs []StationDefinition) (*StationTable, error) {
	t := &StationTable{byID: make(map[string]StationDefinition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("station with empty id")
		}
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("station %q defined twice", d.ID)
		}
		if d.MaxRetries < 0 {
			return nil, fmt.Errorf("station %q: max_retries must be >= 0", d.ID)
		}
		if d.RequiredRole == "" {
			d.RequiredRole = RoleOperator
		}
		if !d.RequiredRole.IsValid() {
			return nil, fmt.Errorf("station %q: unknown role %q", d.ID, d.RequiredRole)
		}
		d.Requires = append([]string(nil), d.Requires...)
		t.byID[d.ID] = d
		t.order = append(t.order, d.ID)
	}

	required := make(map[string]bool)
	for _, d := range t.byID {
		for _, p := range d.Requires {
			if _, ok := t.byID[p]; !ok {
				return nil, fmt.Errorf("station %q requires unknown station %q", d.ID, p)
			}
			required[p] = true
		}
	}
	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}
	for _, id := range t.order {
		if !required[id] {
			t.terminals = append(t.terminals, id)
		}
	}
	return t, nil
}

func (t *StationTable) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(t.byID))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("station graph has a cycle through %q", id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, p := range t.byID[id].Requires {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, id := range t.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the definition for id.
func (t *StationTable) Lookup(id string) (StationDefinition, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// IDs returns station ids in definition order.
func (t *StationTable) IDs() []string {
	return append([]string(nil), t.order...)
}

// Terminals returns the stations no other station requires.
func (t *StationTable) Terminals() []string {
	return append([]string(nil), t.terminals...)
}

// Path returns id and all of its transitive predecessors, sorted.
func (t *StationTable) Path(id string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(s string) {
		if seen[s] {
			return
		}
		seen[s] = true
		for _, p := range t.byID[s].Requires {
			walk(p)
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// UnitState is the unit-global state derived from its history.
type UnitState string

const (
	StateNotStarted UnitState = "not_started"
	StateInProcess  UnitState = "in_process"
	StatePassed     UnitState = "passed"
	StateFailed     UnitState = "failed"
	StateScrapped   UnitState = "scrapped"
)
