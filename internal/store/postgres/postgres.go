// Package postgres is the PostgreSQL history store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool limits for the routing server. Submit commits are short, so a small
// pool is enough for a line of stations.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// PostgresStore keeps unit history, users and golden samples in PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	version uint
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to databaseURL and brings the schema up to date before
// returning.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := open(databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, version: version}, nil
}

// SchemaVersion is the migration version New left the database at.
func (s *PostgresStore) SchemaVersion() uint {
	return s.version
}

// Migrate applies pending migrations without keeping a store open.
func Migrate(databaseURL string) (uint, error) {
	db, err := open(databaseURL)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return migrateUp(db)
}

func open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func migrateUp(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "tracegate_schema_migrations"})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return 0, fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty; fix it by hand and rerun tgd migrate", version)
	}
	return version, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AppendEntry writes the record and its decision in one transaction.
func (s *PostgresStore) AppendEntry(ctx context.Context, entry *model.HistoryEntry) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.AppendEntry(ctx, entry)
	})
}

func (s *PostgresStore) History(ctx context.Context, serial string) ([]*model.HistoryEntry, error) {
	return queryHistory(ctx, s.db, serial)
}

func (s *PostgresStore) FindByKey(ctx context.Context, serial, station, key string) (*model.HistoryEntry, error) {
	return queryFindByKey(ctx, s.db, serial, station, key)
}

func (s *PostgresStore) ListEntriesSince(ctx context.Context, afterSeq int64, limit int) ([]*model.HistoryEntry, error) {
	return queryListEntriesSince(ctx, s.db, afterSeq, limit)
}

// LockUnit is a no-op outside a transaction.
func (s *PostgresStore) LockUnit(ctx context.Context, serial string) error {
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *model.User) error {
	return queryCreateUser(ctx, s.db, user)
}

func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	return queryGetUserByName(ctx, s.db, name)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	return queryListUsers(ctx, s.db)
}

func (s *PostgresStore) SetUserDisabled(ctx context.Context, name string, disabled bool) error {
	return querySetUserDisabled(ctx, s.db, name, disabled)
}

func (s *PostgresStore) AddGoldenSample(ctx context.Context, serial, addedBy string) error {
	return queryAddGoldenSample(ctx, s.db, serial, addedBy)
}

func (s *PostgresStore) IsGoldenSample(ctx context.Context, serial string) (bool, error) {
	return queryIsGoldenSample(ctx, s.db, serial)
}

func (s *PostgresStore) ListGoldenSamples(ctx context.Context) ([]string, error) {
	return queryListGoldenSamples(ctx, s.db)
}

// RunInTransaction runs fn against one transaction. An error from fn rolls
// it back; a failed commit is reported as store.ErrCommit.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", store.ErrCommit, err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrCommit, err)
	}
	return nil
}

// txStore is the view of the store fn sees inside RunInTransaction.
type txStore struct {
	tx *sql.Tx
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) AppendEntry(ctx context.Context, entry *model.HistoryEntry) error {
	return queryAppendEntry(ctx, s.tx, entry)
}

func (s *txStore) History(ctx context.Context, serial string) ([]*model.HistoryEntry, error) {
	return queryHistory(ctx, s.tx, serial)
}

func (s *txStore) FindByKey(ctx context.Context, serial, station, key string) (*model.HistoryEntry, error) {
	return queryFindByKey(ctx, s.tx, serial, station, key)
}

func (s *txStore) ListEntriesSince(ctx context.Context, afterSeq int64, limit int) ([]*model.HistoryEntry, error) {
	return queryListEntriesSince(ctx, s.tx, afterSeq, limit)
}

// LockUnit takes a transaction-scoped advisory lock on the serial so that
// concurrent servers sharing the database decide one submission at a time.
func (s *txStore) LockUnit(ctx context.Context, serial string) error {
	return queryLockUnit(ctx, s.tx, serial)
}

func (s *txStore) CreateUser(ctx context.Context, user *model.User) error {
	return queryCreateUser(ctx, s.tx, user)
}

func (s *txStore) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	return queryGetUserByName(ctx, s.tx, name)
}

func (s *txStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	return queryListUsers(ctx, s.tx)
}

func (s *txStore) SetUserDisabled(ctx context.Context, name string, disabled bool) error {
	return querySetUserDisabled(ctx, s.tx, name, disabled)
}

func (s *txStore) AddGoldenSample(ctx context.Context, serial, addedBy string) error {
	return queryAddGoldenSample(ctx, s.tx, serial, addedBy)
}

func (s *txStore) IsGoldenSample(ctx context.Context, serial string) (bool, error) {
	return queryIsGoldenSample(ctx, s.tx, serial)
}

func (s *txStore) ListGoldenSamples(ctx context.Context) ([]string, error) {
	return queryListGoldenSamples(ctx, s.tx)
}

// Nested calls join the open transaction.
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Close() error {
	return nil
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}
