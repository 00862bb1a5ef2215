package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/bmsbridge/src/telemetry"
)

// recordingSink captures every published batch
type recordingSink struct {
	mu      sync.Mutex
	batches [][]telemetry.Update
}

func (s *recordingSink) Publish(_ context.Context, updates []telemetry.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, updates)
	return nil
}

func (s *recordingSink) Batches() [][]telemetry.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]telemetry.Update(nil), s.batches...)
}

var (
	house   = telemetry.Source{ID: 1, Name: "House", Bus: "ble0"}
	starter = telemetry.Source{ID: 2, Name: "Starter", Bus: "ble0"}
	t0      = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func newTestMonitor(sources ...telemetry.Source) (*Monitor, *Registry, *recordingSink) {
	registry := NewRegistry()
	sink := &recordingSink{}
	for _, s := range sources {
		registry.Seed(s.ID, t0)
	}
	return NewMonitor(registry, sources, sink), registry, sink
}

func TestScan_FreshAfterSeed(t *testing.T) {
	m, _, sink := newTestMonitor(house)

	assert.Empty(t, m.Scan(context.Background(), t0.Add(5*time.Second)))
	assert.Empty(t, m.Scan(context.Background(), t0.Add(60*time.Second)))
	assert.Empty(t, sink.Batches())
}

func TestScan_StaleAfterTimeout(t *testing.T) {
	m, registry, sink := newTestMonitor(house)

	invalidated := m.Scan(context.Background(), t0.Add(61*time.Second))
	assert.Equal(t, []int{1}, invalidated)

	batches := sink.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, telemetry.Invalidate(house), batches[0])
	for _, u := range batches[0] {
		assert.Nil(t, u.Value, u.Path)
	}

	e, ok := registry.Get(1)
	require.True(t, ok)
	assert.True(t, e.Stale)
}

func TestScan_InvalidatesOncePerStalePeriod(t *testing.T) {
	m, registry, sink := newTestMonitor(house)
	ctx := context.Background()

	m.Scan(ctx, t0.Add(61*time.Second))
	m.Scan(ctx, t0.Add(66*time.Second))
	m.Scan(ctx, t0.Add(300*time.Second))
	assert.Len(t, sink.Batches(), 1)

	// A report makes the battery fresh again; the next silence invalidates again
	require.NoError(t, registry.Record(1, t0.Add(310*time.Second), nil))
	assert.Empty(t, m.Scan(ctx, t0.Add(320*time.Second)))
	assert.Equal(t, []int{1}, m.Scan(ctx, t0.Add(371*time.Second)))
	assert.Len(t, sink.Batches(), 2)
}

func TestScan_NoFalseStaleness(t *testing.T) {
	m, registry, sink := newTestMonitor(house)
	ctx := context.Background()

	// Reports every 59s, scans every 5s for an hour
	nextReport := t0.Add(59 * time.Second)
	for now := t0; now.Before(t0.Add(time.Hour)); now = now.Add(5 * time.Second) {
		if !now.Before(nextReport) {
			require.NoError(t, registry.Record(1, nextReport, nil))
			nextReport = nextReport.Add(59 * time.Second)
		}
		assert.Empty(t, m.Scan(ctx, now))
	}
	assert.Empty(t, sink.Batches())
}

func TestScan_OnlySilentSourceInvalidated(t *testing.T) {
	m, registry, sink := newTestMonitor(house, starter)
	ctx := context.Background()

	require.NoError(t, registry.Record(2, t0.Add(30*time.Second), nil))

	assert.Equal(t, []int{1}, m.Scan(ctx, t0.Add(61*time.Second)))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "electrical.batteries.house.voltage.1", batches[0][0].Path)

	assert.Equal(t, []int{2}, m.Scan(ctx, t0.Add(91*time.Second)))
}

func TestScan_IgnoresUnknownIds(t *testing.T) {
	m, registry, sink := newTestMonitor(house)
	registry.Seed(99, t0)

	assert.Equal(t, []int{1}, m.Scan(context.Background(), t0.Add(2*time.Minute)))
	assert.Len(t, sink.Batches(), 1)
}

func TestRun_ScansUntilCancelled(t *testing.T) {
	m, _, sink := newTestMonitor(house)
	m.interval = 5 * time.Millisecond
	m.now = func() time.Time { return t0.Add(2 * time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	// Still stale, so no repeated invalidation
	assert.Len(t, sink.Batches(), 1)
}
