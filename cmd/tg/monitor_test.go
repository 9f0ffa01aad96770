package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/tracegate/internal/events"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

// chanSubscriber hands out a single channel fed by the test.
type chanSubscriber struct {
	ch    chan events.Message
	topic string
}

func (s *chanSubscriber) Subscribe(topic string) (<-chan events.Message, func(), error) {
	s.topic = topic
	return s.ch, func() {}, nil
}

func (s *chanSubscriber) Close() error { return nil }

func TestMonitorTopic(t *testing.T) {
	assert.Equal(t, "tracegate.decision.ICT", monitorTopic("ICT"))
	assert.Equal(t, "tracegate.decision.>", monitorTopic(""))
}

func TestMonitor_PrintsDecisions(t *testing.T) {
	sub := &chanSubscriber{ch: make(chan events.Message, 3)}
	entry := &model.HistoryEntry{
		Seq:      42,
		Record:   &model.TestRecord{Serial: "V102400000005AB", Station: "ICT", Outcome: model.OutcomePass},
		Decision: model.RoutingDecision{Kind: model.DecisionReject, Reason: model.ReasonMissingPredecessor, DecidedAt: time.Now()},
	}
	payload, err := json.Marshal(events.DecisionRecorded{Entry: entry, State: model.StateNotStarted})
	require.NoError(t, err)
	sub.ch <- events.Message{Topic: "tracegate.decision.ICT", Data: []byte("not json")}
	sub.ch <- events.Message{Topic: "tracegate.decision.ICT", Data: payload}
	close(sub.ch)

	var out bytes.Buffer
	require.NoError(t, monitor(context.Background(), &out, sub, monitorTopic("ICT")))

	assert.Equal(t, "tracegate.decision.ICT", sub.topic)
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	assert.Contains(t, string(lines[0]), "#42")
	assert.Contains(t, string(lines[0]), "reject (missing_predecessor) -> not_started")
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	sub := &chanSubscriber{ch: make(chan events.Message)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, monitor(ctx, &bytes.Buffer{}, sub, "t"))
}
