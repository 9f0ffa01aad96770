package model

import "time"

// DecisionKind is the outcome of a routing evaluation.
type DecisionKind string

const (
	DecisionAdmit         DecisionKind = "admit"
	DecisionReject        DecisionKind = "reject"
	DecisionOverrideAdmit DecisionKind = "override_admit"
	DecisionScrap         DecisionKind = "scrap"
)

// String returns the string representation of the decision kind.
func (k DecisionKind) String() string {
	return string(k)
}

// IsValid checks whether the decision kind is a known value.
func (k DecisionKind) IsValid() bool {
	switch k {
	case DecisionAdmit, DecisionReject, DecisionOverrideAdmit, DecisionScrap:
		return true
	}
	return false
}

// RejectReason explains a reject decision.
type RejectReason string

const (
	ReasonMissingPredecessor    RejectReason = "missing_predecessor"
	ReasonExceededRetries       RejectReason = "exceeded_retries"
	ReasonDuplicateWithinWindow RejectReason = "duplicate_within_window"
	ReasonUnitScrapped          RejectReason = "unit_scrapped"
)

// String returns the string representation of the reject reason.
func (r RejectReason) String() string {
	return string(r)
}

// RoutingDecision is the judgement attached to a TestRecord.
type RoutingDecision struct {
	Kind   DecisionKind `json:"kind"`
	Reason RejectReason `json:"reason,omitempty"`
	Detail string       `json:"detail,omitempty"`

	// AuthorizedBy and Justification are set on override and scrap decisions.
	AuthorizedBy  string `json:"authorized_by,omitempty"`
	Justification string `json:"justification,omitempty"`

	// Supersedes is the sequence number of the reject an override releases.
	Supersedes int64 `json:"supersedes,omitempty"`

	GoldenSample bool      `json:"golden_sample,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// Admitted reports whether the decision lets the unit through.
func (d RoutingDecision) Admitted() bool {
	return d.Kind == DecisionAdmit || d.Kind == DecisionOverrideAdmit
}

// HistoryEntry is one committed (TestRecord, RoutingDecision) pair.
type HistoryEntry struct {
	Seq      int64           `json:"seq"`
	Record   *TestRecord     `json:"record"`
	Decision RoutingDecision `json:"decision"`
}

// Passing reports whether the entry satisfies a predecessor requirement for
// its station. Suspect records never do on their own.
func (e *HistoryEntry) Passing() bool {
	switch e.Decision.Kind {
	case DecisionOverrideAdmit:
		return true
	case DecisionAdmit:
		return e.Record.Outcome == OutcomePass && !e.Record.Suspect
	}
	return false
}
