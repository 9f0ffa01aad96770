package events

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// NoopPublisher is a Publisher that does nothing (used when no bus is configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// MultiPublisher fans each event out to every publisher. A failing publisher
// does not stop the others; their errors are joined.
type MultiPublisher struct {
	pubs   []Publisher
	logger *zap.Logger
}

// NewMultiPublisher returns a publisher over pubs. With none it behaves
// like NoopPublisher.
func NewMultiPublisher(logger *zap.Logger, pubs ...Publisher) *MultiPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiPublisher{pubs: pubs, logger: logger.Named("events")}
}

// Len returns the number of underlying publishers.
func (m *MultiPublisher) Len() int { return len(m.pubs) }

func (m *MultiPublisher) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, topic, event); err != nil {
			m.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.pubs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
