package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// entryColumns is the column list used for SELECT statements joining
// decisions to their test records.
const entryColumns = `d.seq, d.kind, d.reason, d.detail, d.authorized_by,
	d.justification, d.supersedes, d.golden_sample, d.decided_at,
	r.id, r.serial, r.station, r.family, r.outcome, r.measurements,
	r.tested_at, r.user_id, r.idempotency_key, r.suspect, r.equipment,
	r.log_file, r.sw_version, r.notes, r.board, r.panel`

const entryFrom = ` FROM decisions d JOIN test_records r ON r.id = d.record_id`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryAppendEntry(ctx context.Context, db executor, entry *model.HistoryEntry) error {
	rec, d := entry.Record, entry.Decision
	var measurements []byte
	if len(rec.Measurements) > 0 {
		var err error
		measurements, err = json.Marshal(rec.Measurements)
		if err != nil {
			return fmt.Errorf("marshal measurements: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO test_records (
			id, serial, station, family, outcome, measurements,
			tested_at, user_id, idempotency_key, suspect, equipment,
			log_file, sw_version, notes, board, panel
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		rec.ID,
		rec.Serial,
		rec.Station,
		string(rec.Family),
		string(rec.Outcome),
		measurements,
		rec.Timestamp,
		rec.UserID,
		rec.IdempotencyKey,
		rec.Suspect,
		nullString(rec.Equipment),
		nullString(rec.LogFile),
		nullString(rec.SWVersion),
		nullString(rec.Notes),
		rec.Board,
		nullString(rec.Panel),
	)
	if err != nil {
		return mapError(err)
	}

	err = db.QueryRowContext(ctx, `
		INSERT INTO decisions (
			serial, station, idempotency_key, record_id, kind, reason,
			detail, authorized_by, justification, supersedes, golden_sample,
			decided_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12
		)
		RETURNING seq`,
		rec.Serial,
		rec.Station,
		rec.IdempotencyKey,
		rec.ID,
		string(d.Kind),
		nullString(string(d.Reason)),
		nullString(d.Detail),
		nullString(d.AuthorizedBy),
		nullString(d.Justification),
		nullInt64(d.Supersedes),
		d.GoldenSample,
		d.DecidedAt,
	).Scan(&entry.Seq)
	return mapError(err)
}

func queryHistory(ctx context.Context, db executor, serial string) ([]*model.HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+entryColumns+entryFrom+`
		WHERE d.serial = $1
		ORDER BY d.seq ASC`,
		serial,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func queryFindByKey(ctx context.Context, db executor, serial, station, key string) (*model.HistoryEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+entryFrom+`
		WHERE d.serial = $1 AND d.station = $2 AND d.idempotency_key = $3`,
		serial, station, key,
	)
	e, err := scanEntry(row)
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func queryListEntriesSince(ctx context.Context, db executor, afterSeq int64, limit int) ([]*model.HistoryEntry, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + entryColumns + entryFrom + ` WHERE d.seq > $1 ORDER BY d.seq ASC`)
	args := []any{afterSeq}
	if limit > 0 {
		b.WriteString(` LIMIT $2`)
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func queryLockUnit(ctx context.Context, db executor, serial string) error {
	_, err := db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, serial)
	return err
}

func queryCreateUser(ctx context.Context, db executor, u *model.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, password_hash, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, string(u.Role), u.PasswordHash, u.Disabled, u.CreatedAt,
	)
	return mapError(err)
}

func queryGetUserByName(ctx context.Context, db executor, name string) (*model.User, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, role, password_hash, disabled, created_at
		FROM users
		WHERE name = $1`,
		name,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func queryListUsers(ctx context.Context, db executor) ([]*model.User, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, role, password_hash, disabled, created_at
		FROM users
		ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func querySetUserDisabled(ctx context.Context, db executor, name string, disabled bool) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET disabled = $2 WHERE name = $1`, name, disabled)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func queryAddGoldenSample(ctx context.Context, db executor, serial, addedBy string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO golden_samples (serial, added_by)
		VALUES ($1, $2)
		ON CONFLICT (serial) DO NOTHING`,
		serial, addedBy,
	)
	return err
}

func queryIsGoldenSample(ctx context.Context, db executor, serial string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM golden_samples WHERE serial = $1)`, serial,
	).Scan(&exists)
	return exists, err
}

func queryListGoldenSamples(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT serial FROM golden_samples ORDER BY serial ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var serials []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		serials = append(serials, s)
	}
	return serials, rows.Err()
}
