package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWatcher_Due(t *testing.T) {
	w := newLogWatcher("/logs", "*.log", time.Second, nil)
	t0 := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

	w.touch("/logs/b.log", t0)
	w.touch("/logs/a.log", t0)
	w.touch("/logs/notes.txt", t0)
	assert.Empty(t, w.due(t0.Add(500*time.Millisecond)))

	// A later write restarts the settle period.
	w.touch("/logs/b.log", t0.Add(800*time.Millisecond))
	assert.Equal(t, []string{"/logs/a.log"}, w.due(t0.Add(time.Second)))
	assert.Equal(t, []string{"/logs/b.log"}, w.due(t0.Add(2*time.Second)))
	assert.Empty(t, w.pending)
}

func TestLogWatcher_Process(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "run.log", "x")

	calls := 0
	var result error
	w := newLogWatcher(dir, "", 0, func(context.Context, string) error {
		calls++
		return result
	})
	w.errOut = io.Discard
	ctx := context.Background()

	w.process(ctx, path)
	w.process(ctx, path)
	assert.Equal(t, 1, calls, "an unchanged file is handled once")

	// A failed attempt is retried, a reject is not.
	path2 := writeLog(t, dir, "run2.log", "y")
	result = errors.New("unavailable")
	w.process(ctx, path2)
	w.process(ctx, path2)
	assert.Equal(t, 3, calls)
	result = errRejected
	w.process(ctx, path2)
	w.process(ctx, path2)
	assert.Equal(t, 4, calls)

	w.process(ctx, filepath.Join(dir, "missing.log"))
	assert.Equal(t, 4, calls)
}

func TestLogWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "old.log", "old")

	var mu sync.Mutex
	var handled []string
	got := make(chan string, 4)
	w := newLogWatcher(dir, "*.log", 20*time.Millisecond, func(_ context.Context, path string) error {
		mu.Lock()
		handled = append(handled, filepath.Base(path))
		mu.Unlock()
		got <- filepath.Base(path)
		return nil
	})
	w.existing = true
	w.errOut = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	wait := func() string {
		select {
		case name := <-got:
			return name
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the watcher")
			return ""
		}
	}
	assert.Equal(t, "old.log", wait())

	writeLog(t, dir, "skip.txt", "ignored")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.log"), []byte("new"), 0o644))
	assert.Equal(t, "new.log", wait())

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old.log", "new.log"}, handled)
}
