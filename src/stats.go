package main

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/telemetry"
	"github.com/ryansname/bmsbridge/src/window"
)

// Voltage range is tracked over the last hour in one-minute buckets
const (
	voltageWindow  = time.Hour
	voltageBuckets = 60
)

const pathPrefix = "electrical.batteries.house."

// TelemetryStore keeps the latest published value for every canonical path
// and a rolling voltage range per battery
type TelemetryStore struct {
	mu      sync.RWMutex
	values  map[string]any
	updated map[string]time.Time
	voltage map[int]*window.RollingMinMax
}

// NewTelemetryStore creates an empty store
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{
		values:  make(map[string]any),
		updated: make(map[string]time.Time),
		voltage: make(map[int]*window.RollingMinMax),
	}
}

// Apply records one batch of updates received at time at
func (s *TelemetryStore) Apply(batch []telemetry.Update, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range batch {
		s.values[u.Path] = u.Value
		s.updated[u.Path] = at

		id, ok := batteryID(u.Path, telemetry.PathVoltage)
		if !ok {
			continue
		}
		v, ok := u.Value.(float64)
		if !ok {
			continue
		}
		tracker := s.voltage[id]
		if tracker == nil {
			tracker = window.NewRollingMinMax(voltageWindow, voltageBuckets)
			s.voltage[id] = tracker
		}
		tracker.Update(v, at)
	}
}

// Value returns the latest value for path. A known path may hold nil after invalidation.
func (s *TelemetryStore) Value(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	return v, ok
}

// Paths returns every path seen so far, sorted
func (s *TelemetryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.values))
	for p := range s.values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// BatteryValues returns the latest values for one battery keyed by the path
// without the common prefix and id suffix, e.g. "capacity.stateOfCharge"
func (s *TelemetryStore) BatteryValues(id int) map[string]any {
	suffix := "." + strconv.Itoa(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any)
	for path, v := range s.values {
		name, ok := strings.CutSuffix(path, suffix)
		if !ok {
			continue
		}
		out[strings.TrimPrefix(name, pathPrefix)] = v
	}
	return out
}

// VoltageRange returns the min and max voltage seen for a battery within the last hour
func (s *TelemetryStore) VoltageRange(id int, now time.Time) (minV, maxV float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracker := s.voltage[id]
	if tracker == nil {
		return 0, 0, false
	}
	minV, ok = tracker.Min(now)
	if !ok {
		return 0, 0, false
	}
	maxV, _ = tracker.Max(now)
	return minV, maxV, true
}

// batteryID extracts the id from a path built from template
func batteryID(path, template string) (int, bool) {
	rest, ok := strings.CutPrefix(path, template+".")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

// statsWorker applies every observed batch to the store
func statsWorker(ctx context.Context, inputChan <-chan []telemetry.Update, store *TelemetryStore) {
	log.Info().Msg("Stats worker started")
	for {
		select {
		case batch := <-inputChan:
			store.Apply(batch, time.Now())
		case <-ctx.Done():
			log.Info().Msg("Stats worker stopped")
			return
		}
	}
}
