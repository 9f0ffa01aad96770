package presence

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func newTestTracker() (*Tracker, *time.Time) {
	tr := New(nil)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestRecordHeartbeat_BasicTracking(t *testing.T) {
	tr, _ := newTestTracker()

	tr.RecordHeartbeat(Beat{Token: "tgs_0123456789abcdef", User: "olga", Station: "ICT", Client: "line3-pc"})

	roster := tr.Roster(0)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	e := roster[0]
	if e.User != "olga" {
		t.Errorf("expected user olga, got %s", e.User)
	}
	if e.Session != "tgs_01234567…" {
		t.Errorf("expected shortened session, got %s", e.Session)
	}
	if e.Station != "ICT" || e.Client != "line3-pc" {
		t.Errorf("unexpected station/client %s/%s", e.Station, e.Client)
	}
	if e.Beats != 1 {
		t.Errorf("expected 1 beat, got %d", e.Beats)
	}
}

func TestRecordHeartbeat_KeepsLastKnownFields(t *testing.T) {
	tr, _ := newTestTracker()

	tr.RecordHeartbeat(Beat{Token: "t1", User: "olga", Station: "ICT"})
	tr.RecordHeartbeat(Beat{Token: "t1"})
	tr.RecordHeartbeat(Beat{Token: "t1", Station: "FCT"})

	e := tr.Roster(0)[0]
	if e.Beats != 3 {
		t.Errorf("expected 3 beats, got %d", e.Beats)
	}
	if e.User != "olga" || e.Station != "FCT" {
		t.Errorf("expected olga at FCT, got %s at %s", e.User, e.Station)
	}
}

func TestRecordHeartbeat_IgnoresEmptyToken(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordHeartbeat(Beat{User: "olga"})
	if n := len(tr.Roster(0)); n != 0 {
		t.Fatalf("expected 0 entries, got %d", n)
	}
}

func TestRoster_StaleThresholdAndOrder(t *testing.T) {
	tr, now := newTestTracker()

	tr.RecordHeartbeat(Beat{Token: "old", User: "a"})
	*now = now.Add(20 * time.Minute)
	tr.RecordHeartbeat(Beat{Token: "mid", User: "b"})
	*now = now.Add(time.Minute)
	tr.RecordHeartbeat(Beat{Token: "new", User: "c"})

	if n := len(tr.Roster(10 * time.Minute)); n != 2 {
		t.Fatalf("expected 2 fresh entries, got %d", n)
	}
	all := tr.Roster(0)
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].User != "c" || all[2].User != "a" {
		t.Errorf("expected most recent first, got %s..%s", all[0].User, all[2].User)
	}
}

func TestSweep_MarksSilentSessionsDead(t *testing.T) {
	tr, now := newTestTracker()

	tr.RecordHeartbeat(Beat{Token: "quiet", User: "olga"})
	tr.RecordHeartbeat(Beat{Token: "chatty", User: "sam"})
	*now = now.Add(2 * time.Minute)
	tr.RecordHeartbeat(Beat{Token: "chatty"})

	var dead []string
	cfg := withDefaults(&ReaperConfig{
		DeadThreshold: 90 * time.Second,
		OnDead: func(token, user string) {
			dead = append(dead, token+"/"+user)
		},
	})
	tr.sweep(cfg)

	if len(dead) != 1 || dead[0] != "quiet/olga" {
		t.Fatalf("expected quiet/olga reaped, got %v", dead)
	}
	if tr.Alive("quiet") {
		t.Error("expected quiet to be dead")
	}
	if !tr.Alive("chatty") {
		t.Error("expected chatty to be alive")
	}

	// A second sweep does not report the same session again.
	tr.sweep(cfg)
	if len(dead) != 1 {
		t.Errorf("expected no repeat OnDead, got %v", dead)
	}
}

func TestSweep_ResumedSessionNotDead(t *testing.T) {
	tr, now := newTestTracker()
	cfg := withDefaults(&ReaperConfig{DeadThreshold: time.Minute})

	tr.RecordHeartbeat(Beat{Token: "t1", User: "olga"})
	*now = now.Add(2 * time.Minute)
	tr.sweep(cfg)
	if tr.Alive("t1") {
		t.Fatal("expected t1 dead")
	}

	tr.RecordHeartbeat(Beat{Token: "t1"})
	if !tr.Alive("t1") {
		t.Error("expected t1 alive after heartbeat")
	}
	if e := tr.Roster(0)[0]; e.Dead || e.Beats != 2 {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestSweep_EvictsLongDeadSessions(t *testing.T) {
	tr, now := newTestTracker()
	cfg := withDefaults(&ReaperConfig{DeadThreshold: time.Minute, EvictAfter: 10 * time.Minute})

	tr.RecordHeartbeat(Beat{Token: "t1"})
	*now = now.Add(2 * time.Minute)
	tr.sweep(cfg)
	*now = now.Add(11 * time.Minute)
	tr.sweep(cfg)

	if n := len(tr.Roster(0)); n != 0 {
		t.Errorf("expected evicted session, got %d entries", n)
	}
}

func TestForget(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordHeartbeat(Beat{Token: "t1"})
	tr.Forget("t1")
	if tr.Alive("t1") {
		t.Error("expected forgotten session to be gone")
	}
}

func TestStartReaper_CallsOnDeadAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := New(nil)
	tr.RecordHeartbeat(Beat{Token: "t1", User: "olga"})

	var (
		mu   sync.Mutex
		dead []string
	)
	tr.StartReaper(&ReaperConfig{
		DeadThreshold: 10 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
		OnDead: func(token, _ string) {
			mu.Lock()
			dead = append(dead, token)
			mu.Unlock()
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(dead)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reaper never reported t1")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within 2 seconds")
	}
}
