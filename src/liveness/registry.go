package liveness

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	// guard serializes publishes for one battery so an invalidation can
	// never be delivered after a fresher report for the same battery
	guard sync.Mutex
	last  time.Time
	stale bool
}

// Entry is a point-in-time copy of one battery's freshness state
type Entry struct {
	Last  time.Time
	Stale bool
}

// Registry records when each battery last produced a decodable report.
// It is shared by the ingestion goroutines and the Monitor.
type Registry struct {
	mu      sync.Mutex
	entries map[int]*entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]*entry)}
}

func (r *Registry) entry(id int) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	return e
}

func (r *Registry) lookup(id int) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// Seed marks a battery fresh as of at, so it is not reported stale before its first report
func (r *Registry) Seed(id int, at time.Time) {
	e := r.entry(id)

	r.mu.Lock()
	e.last = at
	e.stale = false
	r.mu.Unlock()
}

// Record stores at as the battery's last update and then runs publish.
// The timestamp is visible to Monitor scans before publish is called.
func (r *Registry) Record(id int, at time.Time, publish func() error) error {
	e := r.entry(id)
	e.guard.Lock()
	defer e.guard.Unlock()

	r.mu.Lock()
	e.last = at
	e.stale = false
	r.mu.Unlock()

	if publish == nil {
		return nil
	}
	return publish()
}

// Expire moves a fresh battery whose last update is older than timeout into
// the stale state and runs publish. It reports whether the transition happened;
// already-stale and unknown batteries are left alone.
func (r *Registry) Expire(id int, now time.Time, timeout time.Duration, publish func() error) (bool, error) {
	e := r.lookup(id)
	if e == nil {
		return false, nil
	}
	e.guard.Lock()
	defer e.guard.Unlock()

	r.mu.Lock()
	expired := !e.stale && now.Sub(e.last) > timeout
	if expired {
		e.stale = true
	}
	r.mu.Unlock()

	if !expired || publish == nil {
		return expired, nil
	}
	return true, publish()
}

// Candidates returns the ids of fresh batteries that are past timeout at now, in ascending order
func (r *Registry) Candidates(now time.Time, timeout time.Duration) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int
	for id, e := range r.entries {
		if !e.stale && now.Sub(e.last) > timeout {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Get returns a copy of one battery's state
func (r *Registry) Get(id int) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Last: e.last, Stale: e.stale}, true
}

// Snapshot copies the state of every battery
func (r *Registry) Snapshot() map[int]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = Entry{Last: e.last, Stale: e.stale}
	}
	return out
}
