// Package memory implements store.Store in process memory. It backs
// single-station deployments, the TRACEGATE_STORE=memory development mode
// and tests. Transactions are serialized behind one mutex and staged writes
// become visible only on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/store"
)

type submissionKey struct {
	serial, station, key string
}

type state struct {
	entries   []*model.HistoryEntry
	bySerial  map[string][]*model.HistoryEntry
	byKey     map[submissionKey]*model.HistoryEntry
	recordIDs map[string]bool
	users     map[string]*model.User
	golden    map[string]string
}

// Store is an in-memory store.Store.
type Store struct {
	mu         sync.Mutex
	st         state
	commitHook func() error
	closed     bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: state{
		bySerial:  make(map[string][]*model.HistoryEntry),
		byKey:     make(map[submissionKey]*model.HistoryEntry),
		recordIDs: make(map[string]bool),
		users:     make(map[string]*model.User),
		golden:    make(map[string]string),
	}}
}

// SetCommitHook installs fn to run before each commit. A non-nil error
// aborts the commit, discarding the transaction's writes.
func (s *Store) SetCommitHook(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

func (s *Store) AppendEntry(ctx context.Context, entry *model.HistoryEntry) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.AppendEntry(ctx, entry)
	})
}

func (s *Store) History(ctx context.Context, serial string) ([]*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).History(ctx, serial)
}

func (s *Store) FindByKey(ctx context.Context, serial, station, key string) (*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).FindByKey(ctx, serial, station, key)
}

func (s *Store) ListEntriesSince(ctx context.Context, afterSeq int64, limit int) ([]*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListEntriesSince(ctx, afterSeq, limit)
}

// LockUnit is a no-op; transactions already hold the store mutex.
func (s *Store) LockUnit(context.Context, string) error { return nil }

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return s.RunInTransaction(ctx, func(t store.Store) error { return t.CreateUser(ctx, u) })
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).GetUserByName(ctx, name)
}

func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListUsers(ctx)
}

func (s *Store) SetUserDisabled(ctx context.Context, name string, disabled bool) error {
	return s.RunInTransaction(ctx, func(t store.Store) error { return t.SetUserDisabled(ctx, name, disabled) })
}

func (s *Store) AddGoldenSample(ctx context.Context, serial, addedBy string) error {
	return s.RunInTransaction(ctx, func(t store.Store) error { return t.AddGoldenSample(ctx, serial, addedBy) })
}

func (s *Store) IsGoldenSample(ctx context.Context, serial string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).IsGoldenSample(ctx, serial)
}

func (s *Store) ListGoldenSamples(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).ListGoldenSamples(ctx)
}

// RunInTransaction runs fn with exclusive access to the store. Writes are
// staged and applied only if fn and the commit hook both succeed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", store.ErrCommit)
	}

	t := &tx{s: s, staged: true, users: make(map[string]*model.User), golden: make(map[string]string)}
	if err := fn(t); err != nil {
		return err
	}
	if s.commitHook != nil {
		if err := s.commitHook(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrCommit, err)
		}
	}
	t.apply()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tx reads through to the store's committed state plus its own staged
// writes. The store mutex is held for its whole lifetime.
type tx struct {
	s      *Store
	staged bool

	entries []*model.HistoryEntry
	users   map[string]*model.User
	golden  map[string]string
}

func (t *tx) apply() {
	st := &t.s.st
	for _, e := range t.entries {
		st.entries = append(st.entries, e)
		st.bySerial[e.Record.Serial] = append(st.bySerial[e.Record.Serial], e)
		st.byKey[submissionKey{e.Record.Serial, e.Record.Station, e.Record.IdempotencyKey}] = e
		st.recordIDs[e.Record.ID] = true
	}
	for name, u := range t.users {
		st.users[name] = u
	}
	for serial, by := range t.golden {
		st.golden[serial] = by
	}
}

func (t *tx) nextSeq() int64 {
	return int64(len(t.s.st.entries)+len(t.entries)) + 1
}

func (t *tx) AppendEntry(_ context.Context, entry *model.HistoryEntry) error {
	if !t.staged {
		return fmt.Errorf("append outside transaction")
	}
	rec := entry.Record
	k := submissionKey{rec.Serial, rec.Station, rec.IdempotencyKey}
	if _, ok := t.s.st.byKey[k]; ok {
		return fmt.Errorf("%w: %s/%s/%s", store.ErrDuplicateKey, k.serial, k.station, k.key)
	}
	for _, e := range t.entries {
		if e.Record.Serial == k.serial && e.Record.Station == k.station && e.Record.IdempotencyKey == k.key {
			return fmt.Errorf("%w: %s/%s/%s", store.ErrDuplicateKey, k.serial, k.station, k.key)
		}
		if e.Record.ID == rec.ID {
			return fmt.Errorf("%w: record %s", store.ErrDuplicateKey, rec.ID)
		}
	}
	if t.s.st.recordIDs[rec.ID] {
		return fmt.Errorf("%w: record %s", store.ErrDuplicateKey, rec.ID)
	}
	copied := *rec
	copied.Measurements = append([]model.Measurement(nil), rec.Measurements...)
	entry.Seq = t.nextSeq()
	t.entries = append(t.entries, &model.HistoryEntry{Seq: entry.Seq, Record: &copied, Decision: entry.Decision})
	return nil
}

func (t *tx) History(_ context.Context, serial string) ([]*model.HistoryEntry, error) {
	var out []*model.HistoryEntry
	for _, e := range t.s.st.bySerial[serial] {
		out = append(out, cloneEntry(e))
	}
	for _, e := range t.entries {
		if e.Record.Serial == serial {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (t *tx) FindByKey(_ context.Context, serial, station, key string) (*model.HistoryEntry, error) {
	if e, ok := t.s.st.byKey[submissionKey{serial, station, key}]; ok {
		return cloneEntry(e), nil
	}
	for _, e := range t.entries {
		if e.Record.Serial == serial && e.Record.Station == station && e.Record.IdempotencyKey == key {
			return cloneEntry(e), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListEntriesSince(_ context.Context, afterSeq int64, limit int) ([]*model.HistoryEntry, error) {
	all := t.s.st.entries
	i := sort.Search(len(all), func(i int) bool { return all[i].Seq > afterSeq })
	var out []*model.HistoryEntry
	for _, e := range all[i:] {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (t *tx) LockUnit(context.Context, string) error { return nil }

func (t *tx) lookupUser(name string) (*model.User, bool) {
	if u, ok := t.users[name]; ok {
		return u, true
	}
	u, ok := t.s.st.users[name]
	return u, ok
}

func (t *tx) CreateUser(_ context.Context, u *model.User) error {
	if _, ok := t.lookupUser(u.Name); ok {
		return fmt.Errorf("%w: user %s", store.ErrDuplicateKey, u.Name)
	}
	copied := *u
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	t.users[u.Name] = &copied
	return nil
}

func (t *tx) GetUserByName(_ context.Context, name string) (*model.User, error) {
	u, ok := t.lookupUser(name)
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (t *tx) ListUsers(context.Context) ([]*model.User, error) {
	names := make(map[string]bool)
	for n := range t.s.st.users {
		names[n] = true
	}
	for n := range t.users {
		names[n] = true
	}
	out := make([]*model.User, 0, len(names))
	for n := range names {
		u, _ := t.lookupUser(n)
		copied := *u
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) SetUserDisabled(_ context.Context, name string, disabled bool) error {
	u, ok := t.lookupUser(name)
	if !ok {
		return store.ErrNotFound
	}
	copied := *u
	copied.Disabled = disabled
	t.users[name] = &copied
	return nil
}

func (t *tx) AddGoldenSample(_ context.Context, serial, addedBy string) error {
	if _, ok := t.s.st.golden[serial]; ok {
		return nil
	}
	if _, ok := t.golden[serial]; !ok {
		t.golden[serial] = addedBy
	}
	return nil
}

func (t *tx) IsGoldenSample(_ context.Context, serial string) (bool, error) {
	if _, ok := t.golden[serial]; ok {
		return true, nil
	}
	_, ok := t.s.st.golden[serial]
	return ok, nil
}

func (t *tx) ListGoldenSamples(context.Context) ([]string, error) {
	var out []string
	for s := range t.s.st.golden {
		out = append(out, s)
	}
	for s := range t.golden {
		if _, ok := t.s.st.golden[s]; !ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *tx) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *tx) Close() error { return nil }

func cloneEntry(e *model.HistoryEntry) *model.HistoryEntry {
	rec := *e.Record
	rec.Measurements = append([]model.Measurement(nil), e.Record.Measurements...)
	return &model.HistoryEntry{Seq: e.Seq, Record: &rec, Decision: e.Decision}
}
