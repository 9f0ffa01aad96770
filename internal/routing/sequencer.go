package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ErrHeld is returned by Hold and Acquire when another owner holds the unit.
var ErrHeld = errors.New("unit held by another session")

const (
	DefaultShards    = 64
	DefaultIdleAfter = 5 * time.Minute
)

// SequencerConfig tunes a Sequencer. Zero values pick defaults.
type SequencerConfig struct {
	Shards        int
	IdleAfter     time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// Sequencer serializes work per serial number. Serials hash into a fixed
// arena of shards; each shard maps live serials to a FIFO of tickets, so
// requests for one serial run in arrival order while requests for other
// serials proceed independently. Idle queues are evicted by a sweep loop.
//
// A session may also place an advisory hold on a serial. While held, only
// the holder's requests are granted; others queue until the hold is
// released explicitly or by ReleaseHolds when the session goes away.
type Sequencer struct {
	shards    []seqShard
	idleAfter time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	holdsMu sync.Mutex
	holds   map[string]map[string]struct{} // owner -> serials

	stop chan struct{}
	done chan struct{}
}

type seqShard struct {
	mu    sync.Mutex
	units map[string]*unitQueue
}

type unitQueue struct {
	busy     bool
	holder   string
	waiters  []*waiter
	lastUsed time.Time
}

type waiter struct {
	owner string
	ready chan struct{}
}

// NewSequencer returns a sequencer. Call StartSweeper to evict idle queues.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultIdleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleAfter / 2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Sequencer{
		shards:    make([]seqShard, cfg.Shards),
		idleAfter: cfg.IdleAfter,
		interval:  cfg.SweepInterval,
		now:       time.Now,
		logger:    cfg.Logger.Named("sequencer"),
		holds:     make(map[string]map[string]struct{}),
	}
	for i := range s.shards {
		s.shards[i].units = make(map[string]*unitQueue)
	}
	return s
}

func (s *Sequencer) shard(serial string) *seqShard {
	return &s.shards[xxhash.Sum64String(serial)%uint64(len(s.shards))]
}

func (sh *seqShard) queue(serial string) *unitQueue {
	q, ok := sh.units[serial]
	if !ok {
		q = &unitQueue{}
		sh.units[serial] = q
	}
	return q
}

// grantable reports whether owner may start now, ignoring the FIFO.
func (q *unitQueue) grantable(owner string) bool {
	return !q.busy && (q.holder == "" || q.holder == owner)
}

// Acquire waits until owner may work on serial and returns the function
// that ends that work. Owner may be empty for anonymous callers. While
// another owner holds serial, Acquire fails at once with ErrHeld; callers
// that queued before the hold was placed wait for its release.
func (s *Sequencer) Acquire(ctx context.Context, serial, owner string) (func(), error) {
	sh := s.shard(serial)
	sh.mu.Lock()
	q := sh.queue(serial)
	if q.holder != "" && q.holder != owner {
		holder := q.holder
		sh.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrHeld, holder)
	}
	// A holder skips the queue; everyone queued is waiting on its hold.
	if q.grantable(owner) && (len(q.waiters) == 0 || (q.holder != "" && q.holder == owner)) {
		q.busy = true
		sh.mu.Unlock()
		return s.releaser(serial), nil
	}
	w := &waiter{owner: owner, ready: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	sh.mu.Unlock()

	select {
	case <-w.ready:
		return s.releaser(serial), nil
	case <-ctx.Done():
		sh.mu.Lock()
		granted := true
		for i, other := range q.waiters {
			if other == w {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				granted = false
				break
			}
		}
		sh.mu.Unlock()
		if granted {
			// Handed the ticket as we gave up; pass it on.
			s.release(serial)
		}
		return nil, fmt.Errorf("wait for unit %s: %w", serial, ctx.Err())
	}
}

func (s *Sequencer) releaser(serial string) func() {
	var once sync.Once
	return func() { once.Do(func() { s.release(serial) }) }
}

func (s *Sequencer) release(serial string) {
	sh := s.shard(serial)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	q, ok := sh.units[serial]
	if !ok {
		return
	}
	q.busy = false
	q.lastUsed = s.now()
	q.dispatch()
}

// dispatch hands the unit to the next eligible waiter. Callers hold the
// shard lock.
func (q *unitQueue) dispatch() {
	if q.busy || len(q.waiters) == 0 {
		return
	}
	next := -1
	if q.holder == "" {
		next = 0
	} else {
		for i, w := range q.waiters {
			if w.owner == q.holder {
				next = i
				break
			}
		}
	}
	if next < 0 {
		return
	}
	w := q.waiters[next]
	q.waiters = append(q.waiters[:next], q.waiters[next+1:]...)
	q.busy = true
	close(w.ready)
}

// Hold places an advisory hold on serial for owner. Holding twice is a no-op.
func (s *Sequencer) Hold(serial, owner string) error {
	if owner == "" {
		return fmt.Errorf("hold %s: owner required", serial)
	}
	sh := s.shard(serial)
	sh.mu.Lock()
	q := sh.queue(serial)
	if q.holder != "" && q.holder != owner {
		holder := q.holder
		sh.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrHeld, holder)
	}
	q.holder = owner
	q.lastUsed = s.now()
	sh.mu.Unlock()

	s.holdsMu.Lock()
	defer s.holdsMu.Unlock()
	set, ok := s.holds[owner]
	if !ok {
		set = make(map[string]struct{})
		s.holds[owner] = set
	}
	set[serial] = struct{}{}
	return nil
}

// Unhold releases owner's hold on serial. It reports whether a hold was
// released.
func (s *Sequencer) Unhold(serial, owner string) bool {
	released := s.unhold(serial, owner)
	s.holdsMu.Lock()
	if set, ok := s.holds[owner]; ok {
		delete(set, serial)
		if len(set) == 0 {
			delete(s.holds, owner)
		}
	}
	s.holdsMu.Unlock()
	return released
}

func (s *Sequencer) unhold(serial, owner string) bool {
	sh := s.shard(serial)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	q, ok := sh.units[serial]
	if !ok || q.holder != owner {
		return false
	}
	q.holder = ""
	q.lastUsed = s.now()
	q.dispatch()
	return true
}

// ReleaseHolds drops every hold owner has and returns the serials freed.
func (s *Sequencer) ReleaseHolds(owner string) []string {
	s.holdsMu.Lock()
	set := s.holds[owner]
	delete(s.holds, owner)
	s.holdsMu.Unlock()

	var freed []string
	for serial := range set {
		if s.unhold(serial, owner) {
			freed = append(freed, serial)
		}
	}
	if len(freed) > 0 {
		s.logger.Info("released holds", zap.String("owner", ownerLabel(owner)), zap.Strings("serials", freed))
	}
	return freed
}

// HeldBy returns the owner holding serial, or "".
func (s *Sequencer) HeldBy(serial string) string {
	sh := s.shard(serial)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if q, ok := sh.units[serial]; ok {
		return q.holder
	}
	return ""
}

// Len returns the number of live per-serial queues.
func (s *Sequencer) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.units)
		sh.mu.Unlock()
	}
	return n
}

// StartSweeper launches the idle eviction loop. Call Stop to shut it down.
func (s *Sequencer) StartSweeper() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.sweepLoop()
}

// Stop shuts down the sweeper.
func (s *Sequencer) Stop() {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
		s.done = nil
	}
}

func (s *Sequencer) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts queues that are idle, unheld and quiet for IdleAfter.
func (s *Sequencer) Sweep() int {
	cutoff := s.now().Add(-s.idleAfter)
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for serial, q := range sh.units {
			if !q.busy && q.holder == "" && len(q.waiters) == 0 && !q.lastUsed.After(cutoff) {
				delete(sh.units, serial)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Debug("evicted idle unit queues", zap.Int("count", evicted))
	}
	return evicted
}

// ownerLabel shortens session tokens for logs.
func ownerLabel(owner string) string {
	if len(owner) > 12 {
		return owner[:12] + "…"
	}
	return owner
}
