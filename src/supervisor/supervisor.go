// Package supervisor runs one reader per configured battery, turns their
// reports into canonical updates and invalidates batteries that go silent.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ryansname/bmsbridge/src/liveness"
	"github.com/ryansname/bmsbridge/src/metrics"
	"github.com/ryansname/bmsbridge/src/reader"
	"github.com/ryansname/bmsbridge/src/telemetry"
)

var (
	// ErrAlreadyStarted is returned by Start on a running supervisor
	ErrAlreadyStarted = errors.New("supervisor already started")
	// ErrShutdownIncomplete wraps the errors of readers that could not be stopped
	ErrShutdownIncomplete = errors.New("shutdown incomplete")
)

// Reader is the lifecycle of one battery's reader process
type Reader interface {
	Start(ctx context.Context) error
	Lines() <-chan string
	Exited() <-chan reader.Exit
	Stop() error
}

// ReaderFactory creates the reader for a battery
type ReaderFactory func(src telemetry.Source) Reader

// Config holds the batteries to supervise and how to launch their readers
type Config struct {
	Sources   []telemetry.Source
	Reader    reader.Options
	NewReader ReaderFactory // defaults to reader.New with Reader
}

// SourceStatus is a point-in-time view of one battery
type SourceStatus struct {
	telemetry.Source
	Running    bool      `json:"running"`
	Stale      bool      `json:"stale"`
	LastUpdate time.Time `json:"last_update"`
}

// Supervisor owns the readers, the freshness registry and the liveness monitor
type Supervisor struct {
	sources   []telemetry.Source
	sink      telemetry.Sink
	newReader ReaderFactory
	registry  *liveness.Registry
	monitor   *liveness.Monitor
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	readers map[int]Reader
	running map[int]bool
	wg      sync.WaitGroup
}

// New creates a supervisor publishing to sink. Nothing runs until Start.
func New(cfg Config, sink telemetry.Sink) *Supervisor {
	newReader := cfg.NewReader
	if newReader == nil {
		opts := cfg.Reader
		newReader = func(src telemetry.Source) Reader {
			return reader.New(src, opts)
		}
	}

	registry := liveness.NewRegistry()
	return &Supervisor{
		sources:   cfg.Sources,
		sink:      sink,
		newReader: newReader,
		registry:  registry,
		monitor:   liveness.NewMonitor(registry, cfg.Sources, sink),
		now:       time.Now,
		readers:   make(map[int]Reader),
		running:   make(map[int]bool),
	}
}

// Start launches a reader per battery and the liveness monitor.
// A battery whose reader fails to launch is logged and skipped.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.readers = make(map[int]Reader, len(s.sources))
	s.running = make(map[int]bool, len(s.sources))

	startedAt := s.now()
	for _, src := range s.sources {
		// Fresh as of start so a slow first report is not reported stale
		s.registry.Seed(src.ID, startedAt)

		r := s.newReader(src)
		if err := r.Start(runCtx); err != nil {
			metrics.SpawnErrorsTotal.WithLabelValues(metrics.BatteryLabel(src.ID)).Inc()
			log.Error().Err(err).Int("battery", src.ID).Str("name", src.Name).Msg("Failed to start reader, skipping battery")
			continue
		}

		s.readers[src.ID] = r
		s.running[src.ID] = true

		s.wg.Add(1)
		go s.consume(runCtx, src, r)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(runCtx)
	}()

	log.Info().Int("started", len(s.readers)).Int("configured", len(s.sources)).Msg("Supervisor started")
	return nil
}

// consume feeds one reader's lines through parse, map and publish until
// the reader's output ends or the supervisor stops
func (s *Supervisor) consume(ctx context.Context, src telemetry.Source, r Reader) {
	defer s.wg.Done()

	lines := r.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				s.awaitExit(ctx, src, r)
				return
			}
			s.ingest(ctx, src, line)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) ingest(ctx context.Context, src telemetry.Source, line string) {
	label := metrics.BatteryLabel(src.ID)

	reading, err := telemetry.Parse([]byte(line))
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(label).Inc()
		log.Warn().Err(err).Int("battery", src.ID).Str("raw", line).Msg("Discarding undecodable report")
		return
	}

	updates := telemetry.Map(reading, src)
	at := s.now()

	err = s.registry.Record(src.ID, at, func() error {
		return s.sink.Publish(ctx, updates)
	})

	metrics.ReportsTotal.WithLabelValues(label).Inc()
	metrics.LastReport.WithLabelValues(label).Set(float64(at.Unix()))

	if err != nil {
		metrics.PublishErrorsTotal.Inc()
		log.Error().Err(err).Int("battery", src.ID).Msg("Failed to publish battery update")
	}
}

func (s *Supervisor) awaitExit(ctx context.Context, src telemetry.Source, r Reader) {
	select {
	case exit := <-r.Exited():
		metrics.ReaderExitsTotal.WithLabelValues(metrics.BatteryLabel(src.ID)).Inc()
		event := log.Warn()
		if exit.Err != nil {
			event = log.Error().Err(exit.Err)
		}
		event.Int("battery", src.ID).Str("name", src.Name).Int("code", exit.Code).Msg("Reader exited")
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.running[src.ID] = false
	s.mu.Unlock()
}

// Stop terminates every reader, stops the monitor and waits for all
// goroutines. Nothing is published after Stop returns. Readers that could not
// be terminated are reported as ErrShutdownIncomplete.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	if cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel = nil
	readers := make(map[int]Reader, len(s.readers))
	for id, r := range s.readers {
		readers[id] = r
	}
	s.mu.Unlock()

	cancel()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
	)
	for id, r := range readers {
		id, r := id, r
		g.Go(func() error {
			if err := r.Stop(); err != nil {
				log.Warn().Err(err).Int("battery", id).Msg("Reader did not stop cleanly")
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	s.wg.Wait()

	s.mu.Lock()
	for id := range s.running {
		s.running[id] = false
	}
	s.mu.Unlock()

	log.Info().Int("readers", len(readers)).Msg("Supervisor stopped")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrShutdownIncomplete, errors.Join(errs...))
	}
	return nil
}

// Status reports every configured battery, ordered by id
func (s *Supervisor) Status() []SourceStatus {
	snapshot := s.registry.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceStatus, 0, len(s.sources))
	for _, src := range s.sources {
		e := snapshot[src.ID]
		out = append(out, SourceStatus{
			Source:     src,
			Running:    s.running[src.ID],
			Stale:      e.Stale,
			LastUpdate: e.Last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
