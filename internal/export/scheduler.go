package export

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/tracegate/internal/events"
)

// Destination is the interface for an export target (S3, local dir).
type Destination interface {
	// Write stores the JSONL payload under name, replacing any object
	// with the same name.
	Write(ctx context.Context, name string, data []byte) error
	String() string
}

const (
	DefaultInterval  = 5 * time.Minute
	DefaultBatchSize = 5000
)

// Config tunes a Scheduler. Zero values pick defaults.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Cursor    Cursor
	Publisher events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Scheduler runs periodic incremental exports to one or more destinations.
// The cursor only advances once every destination has accepted a batch.
type Scheduler struct {
	src          EntrySource
	destinations []Destination
	cfg          Config
	logger       *zap.Logger

	mu sync.Mutex // serializes runs

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from src to the given
// destinations.
func NewScheduler(src EntrySource, destinations []Destination, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Cursor == nil {
		cfg.Cursor = &MemoryCursor{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		src:          src,
		destinations: destinations,
		cfg:          cfg,
		logger:       cfg.Logger.Named("export"),
	}
}

// Start begins periodic export. It runs an initial export immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current run (if any) to
// finish. Call Flush afterwards to ship what is left.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.Flush(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("export failed", zap.Error(err))
	}
}

// Flush exports every entry past the cursor and returns how many were
// shipped.
func (s *Scheduler) Flush(ctx context.Context) (int, error) {
	if len(s.destinations) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	after, err := s.cfg.Cursor.Load(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for {
		n, last, err := s.exportBatch(ctx, after)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			break
		}
		after = last
		if n < s.cfg.BatchSize {
			break
		}
	}
	return total, nil
}

func (s *Scheduler) exportBatch(ctx context.Context, after int64) (int, int64, error) {
	entries, err := s.src.ListEntriesSince(ctx, after, s.cfg.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list entries after %d: %w", after, err)
	}
	if len(entries) == 0 {
		return 0, after, nil
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, entries, s.cfg.Now()); err != nil {
		return 0, 0, err
	}
	batch := &Batch{
		FirstSeq: entries[0].Seq,
		LastSeq:  entries[len(entries)-1].Seq,
		Entries:  len(entries),
		Data:     buf.Bytes(),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, dest := range s.destinations {
		g.Go(func() error {
			if err := dest.Write(gctx, batch.Name(), batch.Data); err != nil {
				return fmt.Errorf("%s: %w", dest, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	if err := s.cfg.Cursor.Save(ctx, batch.LastSeq); err != nil {
		return 0, 0, fmt.Errorf("save cursor: %w", err)
	}

	s.logger.Info("export completed",
		zap.String("batch", batch.Name()),
		zap.Int("entries", batch.Entries),
		zap.Int("bytes", len(batch.Data)),
		zap.Int("destinations", len(s.destinations)))
	for _, dest := range s.destinations {
		_ = s.cfg.Publisher.Publish(ctx, events.TopicExportCompleted, events.ExportCompleted{
			Destination: dest.String(),
			Entries:     batch.Entries,
			LastSeq:     batch.LastSeq,
		})
	}
	return batch.Entries, batch.LastSeq, nil
}
