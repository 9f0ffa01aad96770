package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alfredjeanlab/tracegate/internal/events"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

const (
	// streamBacklog is the number of recent events kept for Last-Event-ID
	// replay.
	streamBacklog = 512

	// streamKeepalive is how often a comment line is sent to idle streams.
	streamKeepalive = 15 * time.Second
)

// streamEvent is one published event as sent to stream clients.
type streamEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// streamHub fans published events out to line dashboards connected to
// GET /v1/events/stream and keeps a backlog for reconnects.
type streamHub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	nextID  uint64
	backlog []streamEvent // oldest first, at most streamBacklog

	done      chan struct{}
	closeOnce sync.Once
}

type streamClient struct {
	patterns []string // empty matches every topic
	ch       chan streamEvent
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[*streamClient]struct{}), done: make(chan struct{})}
}

// close ends every open stream. Later subscribers return immediately.
func (h *streamHub) close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// broadcast records the event and hands it to every matching client. Slow
// clients miss events rather than stall the request that published them.
func (h *streamHub) broadcast(topic string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	evt := streamEvent{ID: h.nextID, Topic: topic, Data: data}
	if len(h.backlog) == streamBacklog {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:streamBacklog-1]
	}
	h.backlog = append(h.backlog, evt)
	for c := range h.clients {
		if !c.matches(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

// subscribe registers a client and returns the backlog after lastID that
// it matches. Registration and backlog read happen under one lock so no
// event falls between them.
func (h *streamHub) subscribe(patterns []string, lastID uint64) (*streamClient, []streamEvent) {
	c := &streamClient{patterns: patterns, ch: make(chan streamEvent, 64)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	var missed []streamEvent
	if lastID > 0 {
		for _, evt := range h.backlog {
			if evt.ID > lastID && c.matches(evt.Topic) {
				missed = append(missed, evt)
			}
		}
	}
	return c, missed
}

func (h *streamHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *streamClient) matches(topic string) bool {
	if len(c.patterns) == 0 {
		return true
	}
	for _, p := range c.patterns {
		if matchTopicPattern(p, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")
	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}

// streamPatterns builds the topic filter from ?stations=ICT,FCT (decisions
// at those stations) and ?topics=tracegate.session.* (raw patterns).
func streamPatterns(r *http.Request) []string {
	var patterns []string
	for _, st := range splitList(r.URL.Query().Get("stations")) {
		patterns = append(patterns, events.DecisionTopic(st))
	}
	return append(patterns, splitList(r.URL.Query().Get("topics"))...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// broadcastEvent encodes event for the stream hub.
func (s *RoutingServer) broadcastEvent(topic string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event for stream", zap.String("topic", topic), zap.Error(err))
		return
	}
	s.stream.broadcast(topic, data)
}

// handleEventStream handles GET /v1/events/stream (server-sent events).
func (s *RoutingServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context())
	if err == nil {
		err = s.gate.Authorize(sess, model.CapQuery)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	client, missed := s.stream.subscribe(streamPatterns(r), lastID)
	defer s.stream.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, evt := range missed {
		writeStreamEvent(w, evt)
	}
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stream.done:
			return
		case evt := <-client.ch:
			writeStreamEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, evt streamEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
