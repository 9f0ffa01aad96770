package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a (serial, station, idempotency key)
	// triple or a unique name is already taken.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrCommit wraps failures to persist a transaction. Nothing from the
	// failed transaction is visible afterwards; callers retry with the same
	// idempotency key.
	ErrCommit = errors.New("commit failed")
)

// Store defines the persistence interface for unit history.
type Store interface {
	// History. AppendEntry persists the record and its decision together
	// and sets entry.Seq to the committed sequence number.
	AppendEntry(ctx context.Context, entry *model.HistoryEntry) error
	History(ctx context.Context, serial string) ([]*model.HistoryEntry, error)
	FindByKey(ctx context.Context, serial, station, key string) (*model.HistoryEntry, error)
	ListEntriesSince(ctx context.Context, afterSeq int64, limit int) ([]*model.HistoryEntry, error)

	// LockUnit serializes writers for serial until the enclosing
	// transaction ends. It is a no-op outside a transaction.
	LockUnit(ctx context.Context, serial string) error

	// Users
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByName(ctx context.Context, name string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	SetUserDisabled(ctx context.Context, name string, disabled bool) error

	// Golden samples
	AddGoldenSample(ctx context.Context, serial, addedBy string) error
	IsGoldenSample(ctx context.Context, serial string) (bool, error)
	ListGoldenSamples(ctx context.Context) ([]string, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
