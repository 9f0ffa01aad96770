package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waiting(s *Sequencer, serial string) int {
	sh := s.shard(serial)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if q, ok := sh.units[serial]; ok {
		return len(q.waiters)
	}
	return 0
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSequencer_FIFOPerSerial(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSequencer(SequencerConfig{Shards: 4})
	ctx := context.Background()

	release, err := s.Acquire(ctx, "U1", "")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rel, err := s.Acquire(ctx, "U1", "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}(i)
		waitFor(t, func() bool { return waiting(s, "U1") == i+1 })
	}

	release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSequencer_DistinctSerialsDoNotWait(t *testing.T) {
	s := NewSequencer(SequencerConfig{Shards: 1})
	ctx := context.Background()

	relA, err := s.Acquire(ctx, "A", "")
	require.NoError(t, err)
	defer relA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	relB, err := s.Acquire(ctx, "B", "")
	require.NoError(t, err, "B shares A's shard but not its queue")
	relB()
}

func TestSequencer_CancelWhileWaiting(t *testing.T) {
	s := NewSequencer(SequencerConfig{})
	release, err := s.Acquire(context.Background(), "U1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "U1", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, waiting(s, "U1"))

	release()
	release() // idempotent

	rel, err := s.Acquire(context.Background(), "U1", "")
	require.NoError(t, err)
	rel()
}

func TestSequencer_HoldsAndRelease(t *testing.T) {
	s := NewSequencer(SequencerConfig{})
	ctx := context.Background()

	require.NoError(t, s.Hold("U1", "alice"))
	require.NoError(t, s.Hold("U1", "alice"))
	assert.ErrorIs(t, s.Hold("U1", "bob"), ErrHeld)
	assert.Equal(t, "alice", s.HeldBy("U1"))

	_, err := s.Acquire(ctx, "U1", "bob")
	assert.ErrorIs(t, err, ErrHeld)
	assert.Equal(t, 0, waiting(s, "U1"), "a refused caller does not queue")

	rel, err := s.Acquire(ctx, "U1", "alice")
	require.NoError(t, err)
	rel()

	assert.Equal(t, []string{"U1"}, s.ReleaseHolds("alice"))
	assert.Empty(t, s.HeldBy("U1"))
	assert.Nil(t, s.ReleaseHolds("alice"))

	rel, err = s.Acquire(ctx, "U1", "bob")
	require.NoError(t, err)
	rel()
}

func TestSequencer_HoldPlacedWhileQueued(t *testing.T) {
	s := NewSequencer(SequencerConfig{})
	ctx := context.Background()

	busy, err := s.Acquire(ctx, "U1", "alice")
	require.NoError(t, err)

	granted := make(chan struct{})
	go func() {
		rel, err := s.Acquire(ctx, "U1", "bob")
		if err == nil {
			close(granted)
			rel()
		}
	}()
	waitFor(t, func() bool { return waiting(s, "U1") == 1 })

	require.NoError(t, s.Hold("U1", "alice"))
	busy()

	// The holder is not stuck behind bob.
	rel, err := s.Acquire(ctx, "U1", "alice")
	require.NoError(t, err)
	rel()

	select {
	case <-granted:
		t.Fatal("bob granted while alice holds the unit")
	case <-time.After(10 * time.Millisecond):
	}

	assert.Equal(t, []string{"U1"}, s.ReleaseHolds("alice"))
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("bob not granted after hold released")
	}
}

func TestSequencer_Unhold(t *testing.T) {
	s := NewSequencer(SequencerConfig{})
	require.NoError(t, s.Hold("U1", "alice"))
	assert.False(t, s.Unhold("U1", "bob"))
	assert.True(t, s.Unhold("U1", "alice"))
	assert.False(t, s.Unhold("U1", "alice"))
}

func TestSequencer_SweepEvictsIdle(t *testing.T) {
	s := NewSequencer(SequencerConfig{IdleAfter: time.Minute})
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for _, serial := range []string{"A", "B", "C"} {
		rel, err := s.Acquire(ctx, serial, "")
		require.NoError(t, err)
		rel()
	}
	busy, err := s.Acquire(ctx, "D", "")
	require.NoError(t, err)
	require.NoError(t, s.Hold("E", "alice"))
	assert.Equal(t, 5, s.Len())

	assert.Equal(t, 0, s.Sweep(), "nothing is old enough yet")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 3, s.Sweep())
	assert.Equal(t, 2, s.Len(), "busy and held queues survive")
	busy()
}

func TestSequencer_SweeperStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewSequencer(SequencerConfig{IdleAfter: 10 * time.Millisecond, SweepInterval: 2 * time.Millisecond})
	rel, err := s.Acquire(context.Background(), "U1", "")
	require.NoError(t, err)
	rel()

	s.StartSweeper()
	waitFor(t, func() bool { return s.Len() == 0 })
	s.Stop()
	s.Stop()
}
