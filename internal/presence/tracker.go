// Package presence tracks live client sessions by heartbeat.
//
// The Tracker keeps an in-memory map of sessions, updated by the server
// whenever an authenticated request or an explicit heartbeat arrives. A
// background reaper marks sessions dead once they have been silent for
// longer than the heartbeat grace period and hands them to OnDead, which
// the server uses to release the session's advisory unit holds.
//
// Presence is not session validity. A dead session may still carry a valid
// token and come back; it only loses its holds.
package presence

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry represents a single session's live presence state.
type Entry struct {
	Session             string    `json:"session"` // shortened token
	User                string    `json:"user"`
	Station             string    `json:"station,omitempty"` // last station reported
	Client              string    `json:"client,omitempty"`  // client host or version
	LastSeen            time.Time `json:"last_seen"`
	FirstSeen           time.Time `json:"first_seen"`
	IdleSecs            float64   `json:"idle_secs"`
	Beats               int64     `json:"beats"`
	SessionDurationSecs float64   `json:"session_duration_secs"`
	Dead                bool      `json:"dead,omitempty"`
	DeadAt              time.Time `json:"dead_at,omitempty"`
}

// Beat is what the tracker needs from a heartbeat or request.
type Beat struct {
	Token   string
	User    string
	Station string
	Client  string
}

// ReaperConfig configures the background dead-session reaper.
type ReaperConfig struct {
	// DeadThreshold is how long a session may stay silent before it is
	// marked dead. Default: 90 seconds.
	DeadThreshold time.Duration

	// EvictAfter is how long a dead session stays in the map before it is
	// removed. Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: DeadThreshold/3.
	SweepInterval time.Duration

	// OnDead is called for each session newly marked dead, outside the lock.
	OnDead func(token, user string)
}

// Tracker maintains an in-memory roster of live sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	now      func() time.Time
	logger   *zap.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type sessionState struct {
	user      string
	station   string
	client    string
	firstSeen time.Time
	lastSeen  time.Time
	beats     int64
	dead      bool
	deadAt    time.Time
}

// New creates a presence tracker. A nil logger disables logging.
func New(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
		logger:   logger.Named("presence"),
	}
}

// RecordHeartbeat marks the session as alive now.
func (t *Tracker) RecordHeartbeat(b Beat) {
	if b.Token == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[b.Token]
	if !ok {
		state = &sessionState{firstSeen: now}
		t.sessions[b.Token] = state
	}
	if state.dead {
		t.logger.Info("session resumed", zap.String("session", shortToken(b.Token)), zap.String("user", b.User))
		state.dead = false
		state.deadAt = time.Time{}
	}

	state.lastSeen = now
	state.beats++
	if b.User != "" {
		state.user = b.User
	}
	if b.Station != "" {
		state.station = b.Station
	}
	if b.Client != "" {
		state.client = b.Client
	}
}

// Forget drops a session immediately, e.g. after logout.
func (t *Tracker) Forget(token string) {
	t.mu.Lock()
	delete(t.sessions, token)
	t.mu.Unlock()
}

// Alive reports whether token has been seen and is not marked dead.
func (t *Tracker) Alive(token string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[token]
	return ok && !s.dead
}

// Roster returns a snapshot of tracked sessions, most recently active first.
// Sessions idle longer than staleThreshold are left out; pass 0 for all.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.sessions))
	for token, s := range t.sessions {
		idle := now.Sub(s.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			Session:             shortToken(token),
			User:                s.user,
			Station:             s.station,
			Client:              s.client,
			LastSeen:            s.lastSeen,
			FirstSeen:           s.firstSeen,
			IdleSecs:            idle.Seconds(),
			Beats:               s.beats,
			SessionDurationSecs: now.Sub(s.firstSeen).Seconds(),
			Dead:                s.dead,
			DeadAt:              s.deadAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

func withDefaults(cfg *ReaperConfig) *ReaperConfig {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 90 * time.Second
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.DeadThreshold / 3
	}
	return cfg
}

// StartReaper launches the background reaper. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	cfg = withDefaults(cfg)

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	t.logger.Info("reaper started",
		zap.Duration("dead_threshold", cfg.DeadThreshold),
		zap.Duration("sweep_interval", cfg.SweepInterval))
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()

	type deadSession struct {
		token string
		user  string
	}
	var newlyDead []deadSession

	t.mu.Lock()
	for token, s := range t.sessions {
		if s.dead {
			if now.Sub(s.deadAt) > cfg.EvictAfter {
				delete(t.sessions, token)
			}
			continue
		}
		if now.Sub(s.lastSeen) > cfg.DeadThreshold {
			s.dead = true
			s.deadAt = now
			newlyDead = append(newlyDead, deadSession{token: token, user: s.user})
		}
	}
	t.mu.Unlock()

	for _, d := range newlyDead {
		t.logger.Info("session missed heartbeat",
			zap.String("session", shortToken(d.token)),
			zap.String("user", d.user),
			zap.Duration("threshold", cfg.DeadThreshold))
		if cfg.OnDead != nil {
			cfg.OnDead(d.token, d.user)
		}
	}
}

func shortToken(token string) string {
	if len(token) > 12 {
		return token[:12] + "…"
	}
	return token
}
