package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// logWatcher submits log files as they appear in a directory. A file is
// handled once no event has touched it for the settle period, so testers
// that write in several chunks are read complete.
type logWatcher struct {
	dir      string
	pattern  string
	settle   time.Duration
	existing bool
	handle   func(ctx context.Context, path string) error
	errOut   io.Writer

	pending map[string]time.Time
	seen    map[string]time.Time
}

func newLogWatcher(dir, pattern string, settle time.Duration, handle func(context.Context, string) error) *logWatcher {
	return &logWatcher{
		dir:     dir,
		pattern: pattern,
		settle:  settle,
		handle:  handle,
		errOut:  os.Stderr,
		pending: make(map[string]time.Time),
		seen:    make(map[string]time.Time),
	}
}

func (w *logWatcher) matches(path string) bool {
	if w.pattern == "" {
		return true
	}
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

func (w *logWatcher) touch(path string, now time.Time) {
	if w.matches(path) {
		w.pending[path] = now
	}
}

// due removes and returns the pending files that have settled, in name
// order.
func (w *logWatcher) due(now time.Time) []string {
	var out []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.settle {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	slices.Sort(out)
	return out
}

// process handles path unless this version of it was handled already.
// Files that fail for reasons other than a reject are retried on their
// next write.
func (w *logWatcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if mod, ok := w.seen[path]; ok && mod.Equal(info.ModTime()) {
		return
	}
	err = w.handle(ctx, path)
	switch {
	case err == nil, errors.Is(err, errRejected):
		w.seen[path] = info.ModTime()
	default:
		fmt.Fprintf(w.errOut, "%s: %v\n", path, err)
	}
}

func (w *logWatcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if w.existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, e := range entries {
			if !e.IsDir() {
				w.touch(filepath.Join(w.dir, e.Name()), now)
			}
		}
	}

	tick := max(w.settle/2, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.touch(ev.Name, time.Now())
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w.errOut, "watch error: %v\n", err)
		case now := <-ticker.C:
			for _, path := range w.due(now) {
				w.process(ctx, path)
			}
		}
	}
}

var watchCmd = &cobra.Command{
	Use:     "watch <dir>",
	Short:   "Submit every new test log written to a directory",
	GroupID: "station",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := submitFlags(cmd)
		if err != nil {
			return err
		}
		pattern, _ := cmd.Flags().GetString("pattern")
		settle, _ := cmd.Flags().GetDuration("settle")
		existing, _ := cmd.Flags().GetBool("existing")
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("bad --pattern: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		w := newLogWatcher(args[0], pattern, settle, func(ctx context.Context, path string) error {
			fmt.Fprintf(out, "==> %s\n", filepath.Base(path))
			return submitFile(ctx, out, routerClient, path, opts)
		})
		w.existing = existing
		fmt.Fprintf(os.Stderr, "watching %s\n", args[0])
		return w.run(ctx)
	},
}

func init() {
	addSubmitFlags(watchCmd)
	watchCmd.Flags().String("pattern", "", "only submit files whose name matches this glob")
	watchCmd.Flags().Duration("settle", time.Second, "quiet period before a new file is read")
	watchCmd.Flags().Bool("existing", false, "also submit files already in the directory")
}
