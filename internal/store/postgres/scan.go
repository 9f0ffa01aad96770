package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into a model.HistoryEntry.
// The row must contain columns in the order defined by entryColumns.
func scanEntry(row scannable) (*model.HistoryEntry, error) {
	var (
		e             model.HistoryEntry
		r             model.TestRecord
		reason        sql.NullString
		detail        sql.NullString
		authorizedBy  sql.NullString
		justification sql.NullString
		supersedes    sql.NullInt64
		measurements  []byte
		equipment     sql.NullString
		logFile       sql.NullString
		swVersion     sql.NullString
		notes         sql.NullString
		panel         sql.NullString
	)

	err := row.Scan(
		&e.Seq,
		&e.Decision.Kind,
		&reason,
		&detail,
		&authorizedBy,
		&justification,
		&supersedes,
		&e.Decision.GoldenSample,
		&e.Decision.DecidedAt,
		&r.ID,
		&r.Serial,
		&r.Station,
		&r.Family,
		&r.Outcome,
		&measurements,
		&r.Timestamp,
		&r.UserID,
		&r.IdempotencyKey,
		&r.Suspect,
		&equipment,
		&logFile,
		&swVersion,
		&notes,
		&r.Board,
		&panel,
	)
	if err != nil {
		return nil, err
	}

	e.Decision.Reason = model.RejectReason(reason.String)
	e.Decision.Detail = detail.String
	e.Decision.AuthorizedBy = authorizedBy.String
	e.Decision.Justification = justification.String
	e.Decision.Supersedes = supersedes.Int64
	r.Equipment = equipment.String
	r.LogFile = logFile.String
	r.SWVersion = swVersion.String
	r.Notes = notes.String
	r.Panel = panel.String
	if len(measurements) > 0 {
		if err := json.Unmarshal(measurements, &r.Measurements); err != nil {
			return nil, fmt.Errorf("unmarshal measurements for record %s: %w", r.ID, err)
		}
	}
	e.Record = &r
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*model.HistoryEntry, error) {
	var entries []*model.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Role, &u.PasswordHash, &u.Disabled, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt64 converts a sequence reference to sql.NullInt64; zero is null.
func nullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
