package model

import (
	"strings"
	"time"
)

// Family identifies the equipment family that produced a log file.
type Family string

const (
	FamilyICT Family = "ict"
	FamilyFCT Family = "fct"
	FamilyAOI Family = "aoi"
	FamilySMT Family = "smt"
)

// String returns the string representation of the family.
func (f Family) String() string {
	return string(f)
}

// IsValid checks whether the family is a known value.
func (f Family) IsValid() bool {
	switch f {
	case FamilyICT, FamilyFCT, FamilyAOI, FamilySMT:
		return true
	}
	return false
}

// Outcome is the overall result of a test run.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// IsValid checks whether the outcome is a known value.
func (o Outcome) IsValid() bool {
	return o == OutcomePass || o == OutcomeFail
}

// Measurement is a single decoded test step.
type Measurement struct {
	Name   string   `json:"name"`
	Value  float64  `json:"value"`
	Unit   string   `json:"unit,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Passed bool     `json:"passed"`
}

// TestRecord is an immutable test fact for one unit at one station.
type TestRecord struct {
	ID             string        `json:"id"`
	Serial         string        `json:"serial"`
	Station        string        `json:"station"`
	Family         Family        `json:"family"`
	Outcome        Outcome       `json:"outcome"`
	Measurements   []Measurement `json:"measurements,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	UserID         string        `json:"user_id"`
	IdempotencyKey string        `json:"idempotency_key"`

	// Suspect is set when the log declared a step count that differs from
	// the decoded one.
	Suspect bool `json:"suspect,omitempty"`

	Equipment string `json:"equipment,omitempty"`
	LogFile   string `json:"log_file,omitempty"`
	SWVersion string `json:"sw_version,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Board     int    `json:"board,omitempty"`
	Panel     string `json:"panel,omitempty"`
}

// MaxNotesLength bounds the failure notes stored with a record.
const MaxNotesLength = 200

// FailureNotes formats failed step names as "Failed: a, b", truncated to
// MaxNotesLength bytes. It returns "" when nothing failed.
func FailureNotes(failed []string) string {
	if len(failed) == 0 {
		return ""
	}
	notes := "Failed: " + strings.Join(failed, ", ")
	if len(notes) > MaxNotesLength {
		notes = notes[:MaxNotesLength]
	}
	return notes
}

// FailedSteps returns the names of the measurements that did not pass.
func (r *TestRecord) FailedSteps() []string {
	var names []string
	for _, m := range r.Measurements {
		if !m.Passed {
			names = append(names, m.Name)
		}
	}
	return names
}
