// Package logparse decodes equipment log files into canonical test records.
//
// Each equipment family has a Decoder registered with a Registry. Parse
// either uses the declared family or sniffs the header, and returns either
// the complete set of records for the file or an error; a file that fails
// validation never yields partial output.
package logparse

import (
	"errors"
	"fmt"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// Parse error kinds. Match them with errors.Is.
var (
	ErrUnrecognizedFormat = errors.New("unrecognized format")
	ErrTruncated          = errors.New("truncated or corrupt log")
)

// ParseError describes why a log file was refused.
type ParseError struct {
	Format model.Family
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	format := string(e.Format)
	if format == "" {
		format = "log"
	}
	if e.Detail == "" {
		return fmt.Sprintf("parse %s: %v", format, e.Err)
	}
	return fmt.Sprintf("parse %s: %v: %s", format, e.Err, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

func truncated(f model.Family, format string, args ...any) error {
	return &ParseError{Format: f, Err: ErrTruncated, Detail: fmt.Sprintf(format, args...)}
}

func unrecognized(f model.Family, format string, args ...any) error {
	return &ParseError{Format: f, Err: ErrUnrecognizedFormat, Detail: fmt.Sprintf(format, args...)}
}

// Decoder turns the log of a single equipment family into records.
type Decoder interface {
	// Format returns the family this decoder handles.
	Format() model.Family
	// Sniff reports whether head carries this family's signature.
	Sniff(head []byte) bool
	// Decode validates and decodes the whole file.
	Decode(data []byte) ([]*model.TestRecord, error)
}

// sniffLen is how much of a file is offered to Sniff.
const sniffLen = 4096

// Registry holds the registered decoders.
type Registry struct {
	decoders map[model.Family]Decoder
	order    []model.Family
}

// NewRegistry returns a registry with no decoders.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[model.Family]Decoder)}
}

// Default returns a registry with every built-in decoder registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register(ICTDecoder{})
	r.Register(FCTDecoder{})
	r.Register(AOIDecoder{})
	r.Register(SMTDecoder{})
	return r
}

// Register adds d, replacing any decoder for the same family. Sniffing
// tries decoders in registration order.
func (r *Registry) Register(d Decoder) {
	f := d.Format()
	if _, ok := r.decoders[f]; !ok {
		r.order = append(r.order, f)
	}
	r.decoders[f] = d
}

// Formats returns the registered families in registration order.
func (r *Registry) Formats() []model.Family {
	return append([]model.Family(nil), r.order...)
}

// Detect returns the family whose signature matches data.
func (r *Registry) Detect(data []byte) (model.Family, error) {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	for _, f := range r.order {
		if r.decoders[f].Sniff(head) {
			return f, nil
		}
	}
	return "", unrecognized("", "no decoder matched the file header")
}

// Parse decodes data. An empty format means the family is sniffed from the
// header. The returned records carry their family; user id, station and
// idempotency key are left for the submitter to fill in.
func (r *Registry) Parse(data []byte, format model.Family) ([]*model.TestRecord, error) {
	if format == "" {
		f, err := r.Detect(data)
		if err != nil {
			return nil, err
		}
		format = f
	}

	d, ok := r.decoders[format]
	if !ok {
		return nil, unrecognized(format, "no decoder registered")
	}
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if !d.Sniff(head) {
		return nil, unrecognized(format, "header signature mismatch")
	}

	records, err := d.Decode(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ParseError{Format: format, Err: ErrTruncated, Detail: err.Error()}
	}
	if len(records) == 0 {
		return nil, truncated(format, "no records decoded")
	}
	for _, rec := range records {
		rec.Family = format
		if rec.Notes == "" && rec.Outcome == model.OutcomeFail {
			rec.Notes = model.FailureNotes(rec.FailedSteps())
		}
	}
	return records, nil
}

// checkStepCount marks rec Suspect when a declared count disagrees with the
// decoded one. declared < 0 means the log declared nothing.
func checkStepCount(rec *model.TestRecord, declared, decoded int) {
	if declared >= 0 && declared != decoded {
		rec.Suspect = true
	}
}

func floatPtr(v float64) *float64 { return &v }
