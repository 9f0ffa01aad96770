// Package export ships committed unit history to archival destinations.
//
// Entries are exported incrementally in sequence order. Each batch is one
// JSONL object: a header line followed by one line per history entry. The
// object name encodes the sequence range, so re-exporting a batch after a
// partial failure overwrites rather than duplicates it.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// EntrySource lists committed history in sequence order. store.Store
// satisfies it.
type EntrySource interface {
	ListEntriesSince(ctx context.Context, afterSeq int64, limit int) ([]*model.HistoryEntry, error)
}

// header is the first JSONL record of every batch.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	FirstSeq   int64     `json:"first_seq"`
	LastSeq    int64     `json:"last_seq"`
	EntryCount int       `json:"entry_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Batch is one exported slice of history.
type Batch struct {
	FirstSeq int64
	LastSeq  int64
	Entries  int
	Data     []byte
}

// Name returns the object name for the batch.
func (b *Batch) Name() string {
	return fmt.Sprintf("entries-%012d-%012d.jsonl", b.FirstSeq, b.LastSeq)
}

// WriteJSONL writes entries as a header plus one line per entry.
func WriteJSONL(w io.Writer, entries []*model.HistoryEntry, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	h := header{Version: "1", Type: "header", Timestamp: now.UTC(), EntryCount: len(entries)}
	if len(entries) > 0 {
		h.FirstSeq = entries[0].Seq
		h.LastSeq = entries[len(entries)-1].Seq
	}
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(record{Type: "entry", Data: e}); err != nil {
			return fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

// ReadJSONL parses a batch written by WriteJSONL and returns its entries.
func ReadJSONL(r io.Reader) ([]*model.HistoryEntry, error) {
	dec := json.NewDecoder(r)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if h.Type != "header" {
		return nil, fmt.Errorf("first record is %q, want header", h.Type)
	}
	out := make([]*model.HistoryEntry, 0, h.EntryCount)
	for dec.More() {
		var line struct {
			Type string              `json:"type"`
			Data *model.HistoryEntry `json:"data"`
		}
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		if line.Type != "entry" {
			continue
		}
		out = append(out, line.Data)
	}
	if len(out) != h.EntryCount {
		return nil, fmt.Errorf("header declares %d entries, found %d", h.EntryCount, len(out))
	}
	return out, nil
}
