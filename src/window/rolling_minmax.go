// Package window holds rolling statistics over recent telemetry.
package window

import (
	"math"
	"time"
)

// bucket holds min/max for one slice of the window. epoch identifies which
// slice of absolute time the bucket currently represents.
type bucket struct {
	epoch    int64
	min, max float64
}

// RollingMinMax tracks min/max values over a rolling window split into equal buckets.
// It is not safe for concurrent use.
type RollingMinMax struct {
	buckets []bucket
	width   time.Duration
	latest  int64 // newest epoch seen, -1 before the first update
}

// NewRollingMinMax creates a tracker covering span, split into n buckets
func NewRollingMinMax(span time.Duration, n int) *RollingMinMax {
	if n < 1 {
		n = 1
	}
	r := &RollingMinMax{
		buckets: make([]bucket, n),
		width:   span / time.Duration(n),
		latest:  -1,
	}
	if r.width <= 0 {
		r.width = time.Second
	}
	for i := range r.buckets {
		r.buckets[i] = emptyBucket()
	}
	return r
}

func emptyBucket() bucket {
	return bucket{epoch: -1, min: math.MaxFloat64, max: -math.MaxFloat64}
}

// Update records value at time at. Values older than the window are ignored.
func (r *RollingMinMax) Update(value float64, at time.Time) {
	epoch := at.UnixNano() / int64(r.width)
	if r.latest >= 0 && epoch <= r.latest-int64(len(r.buckets)) {
		return
	}
	if epoch > r.latest {
		r.latest = epoch
	}

	b := &r.buckets[epoch%int64(len(r.buckets))]
	if b.epoch != epoch {
		// First value for this slice, reusing a bucket from an earlier lap
		*b = bucket{epoch: epoch, min: value, max: value}
		return
	}
	b.min = min(b.min, value)
	b.max = max(b.max, value)
}

// Min returns the minimum over the window ending at now, and false if there is no data
func (r *RollingMinMax) Min(now time.Time) (float64, bool) {
	result := math.MaxFloat64
	for _, b := range r.live(now) {
		result = min(result, b.min)
	}
	return result, result != math.MaxFloat64
}

// Max returns the maximum over the window ending at now, and false if there is no data
func (r *RollingMinMax) Max(now time.Time) (float64, bool) {
	result := -math.MaxFloat64
	for _, b := range r.live(now) {
		result = max(result, b.max)
	}
	return result, result != -math.MaxFloat64
}

func (r *RollingMinMax) live(now time.Time) []bucket {
	current := now.UnixNano() / int64(r.width)
	oldest := current - int64(len(r.buckets)) + 1

	live := make([]bucket, 0, len(r.buckets))
	for _, b := range r.buckets {
		if b.epoch >= oldest && b.epoch <= current {
			live = append(live, b)
		}
	}
	return live
}
