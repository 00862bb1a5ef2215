package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Sink accepts batches of canonical updates. Implementations must be safe
// for concurrent use; the supervisor publishes from one goroutine per battery.
type Sink interface {
	Publish(ctx context.Context, updates []Update) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, updates []Update) error

func (f SinkFunc) Publish(ctx context.Context, updates []Update) error {
	return f(ctx, updates)
}

// MultiSink publishes every batch to each sink in order
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, updates []Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, updates); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChanSink forwards batches to a channel without blocking.
// Batches are dropped with a warning when the channel is full, so slow
// observers never hold up ingestion.
type ChanSink struct {
	Name string
	Ch   chan<- []Update
}

func (c ChanSink) Publish(ctx context.Context, updates []Update) error {
	select {
	case c.Ch <- updates:
	case <-ctx.Done():
		return ctx.Err()
	default:
		log.Warn().Str("sink", c.Name).Msg("observer channel full, dropping update batch")
	}
	return nil
}
