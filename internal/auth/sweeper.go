package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs Gate.ExpireSweep on an interval until stopped.
type Sweeper struct {
	gate     *Gate
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewSweeper returns a sweeper for gate. A non-positive interval means one
// minute.
func NewSweeper(gate *Gate, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{gate: gate, interval: interval, logger: gate.logger}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (s *Sweeper) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
	s.logger.Info("session sweeper started", zap.Duration("interval", s.interval))
}

// Stop ends the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.gate.ExpireSweep(ctx); err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}
