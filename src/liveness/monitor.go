package liveness

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/metrics"
	"github.com/ryansname/bmsbridge/src/telemetry"
)

const (
	// Timeout is how long a battery may go without a decodable report before it is stale
	Timeout = 60 * time.Second
	// ScanInterval is how often the monitor checks every battery
	ScanInterval = 5 * time.Second
)

// Monitor periodically invalidates the telemetry of batteries that have gone silent.
// One Monitor covers every battery.
type Monitor struct {
	registry *Registry
	sources  map[int]telemetry.Source
	sink     telemetry.Sink
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewMonitor creates a monitor for sources, publishing invalidations to sink
func NewMonitor(registry *Registry, sources []telemetry.Source, sink telemetry.Sink) *Monitor {
	bySource := make(map[int]telemetry.Source, len(sources))
	for _, s := range sources {
		bySource[s.ID] = s
	}
	return &Monitor{
		registry: registry,
		sources:  bySource,
		sink:     sink,
		timeout:  Timeout,
		interval: ScanInterval,
		now:      time.Now,
	}
}

// Scan invalidates every battery that became stale as of now and returns their ids.
// A battery is invalidated once per stale period; it becomes fresh again on its next report.
func (m *Monitor) Scan(ctx context.Context, now time.Time) []int {
	var invalidated []int
	for _, id := range m.registry.Candidates(now, m.timeout) {
		src, ok := m.sources[id]
		if !ok {
			continue
		}

		expired, err := m.registry.Expire(id, now, m.timeout, func() error {
			return m.sink.Publish(ctx, telemetry.Invalidate(src))
		})
		if !expired {
			continue
		}

		invalidated = append(invalidated, id)
		metrics.StaleTotal.WithLabelValues(metrics.BatteryLabel(id)).Inc()

		last, _ := m.registry.Get(id)
		log.Warn().
			Int("battery", id).
			Str("name", src.Name).
			Time("last_update", last.Last).
			Msg("Stale data, invalidating battery telemetry")

		if err != nil {
			metrics.PublishErrorsTotal.Inc()
			log.Error().Err(err).Int("battery", id).Msg("Failed to publish invalidation")
		}
	}
	return invalidated
}

// Run scans on a fixed interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Debug().Dur("timeout", m.timeout).Dur("interval", m.interval).Msg("Liveness monitor started")

	for {
		select {
		case <-ticker.C:
			m.Scan(ctx, m.now())
		case <-ctx.Done():
			log.Debug().Msg("Liveness monitor stopped")
			return
		}
	}
}
