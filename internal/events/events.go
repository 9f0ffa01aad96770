package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// Event topic constants
const (
	// TopicDecisionPrefix is followed by the station id; see DecisionTopic.
	TopicDecisionPrefix = "tracegate.decision"

	TopicGoldenSampleAdded = "tracegate.golden.added"

	// Session events
	TopicSessionOpened = "tracegate.session.opened"
	TopicSessionClosed = "tracegate.session.closed"
	TopicSessionLost   = "tracegate.session.lost"

	// Export events
	TopicExportCompleted = "tracegate.export.completed"
)

// DecisionTopic returns the subject decisions at station are published on.
func DecisionTopic(station string) string {
	return TopicDecisionPrefix + "." + station
}

// StationOf returns the station a decision topic names, or "".
func StationOf(topic string) string {
	station, ok := strings.CutPrefix(topic, TopicDecisionPrefix+".")
	if !ok {
		return ""
	}
	return station
}

// Event types

// DecisionRecorded is emitted after a new history entry commits. Replays
// and rejected duplicates are not recorded and produce no event.
type DecisionRecorded struct {
	Entry *model.HistoryEntry `json:"entry"`
	State model.UnitState     `json:"state"`
}

type GoldenSampleAdded struct {
	Serial  string `json:"serial"`
	AddedBy string `json:"added_by"`
}

type SessionOpened struct {
	User string     `json:"user"`
	Role model.Role `json:"role"`
}

type SessionClosed struct {
	User   string `json:"user"`
	Reason string `json:"reason"` // "logout", "expired"
}

// SessionLost is emitted when a session misses its heartbeat and its holds
// are released.
type SessionLost struct {
	User     string   `json:"user"`
	Released []string `json:"released,omitempty"`
}

type ExportCompleted struct {
	Destination string `json:"destination"`
	Entries     int    `json:"entries"`
	LastSeq     int64  `json:"last_seq"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
