package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func minute(n int) time.Time {
	return base.Add(time.Duration(n) * time.Minute)
}

func TestRollingMinMax_Empty(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	_, ok := r.Min(base)
	assert.False(t, ok)
	_, ok = r.Max(base)
	assert.False(t, ok)
}

func TestRollingMinMax_SingleValue(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	r.Update(13.2, minute(0))

	lo, ok := r.Min(minute(0))
	assert.True(t, ok)
	assert.Equal(t, 13.2, lo)
	hi, _ := r.Max(minute(0))
	assert.Equal(t, 13.2, hi)
}

func TestRollingMinMax_MultipleValuesSameBucket(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	r.Update(13.0, minute(0))
	r.Update(12.5, minute(0).Add(10*time.Second))
	r.Update(13.4, minute(0).Add(20*time.Second))

	lo, _ := r.Min(minute(0))
	hi, _ := r.Max(minute(0))
	assert.Equal(t, 12.5, lo)
	assert.Equal(t, 13.4, hi)
}

func TestRollingMinMax_AcrossBuckets(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	r.Update(13.0, minute(0))
	r.Update(13.6, minute(1))
	r.Update(12.2, minute(2))

	lo, _ := r.Min(minute(2))
	hi, _ := r.Max(minute(2))
	assert.Equal(t, 12.2, lo)
	assert.Equal(t, 13.6, hi)
}

func TestRollingMinMax_OldBucketsExpire(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	r.Update(11.0, minute(0))
	r.Update(13.0, minute(30))

	// minute 0 has left the window by minute 60
	lo, _ := r.Min(minute(60))
	assert.Equal(t, 13.0, lo)

	_, ok := r.Min(minute(200))
	assert.False(t, ok)
}

func TestRollingMinMax_WrapAroundReusesBucket(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	r.Update(10.0, minute(5))
	r.Update(14.0, minute(65)) // same slot, one lap later

	lo, _ := r.Min(minute(65))
	hi, _ := r.Max(minute(65))
	assert.Equal(t, 14.0, lo)
	assert.Equal(t, 14.0, hi)
}

func TestRollingMinMax_IgnoresValuesOlderThanWindow(t *testing.T) {
	r := NewRollingMinMax(time.Hour, 60)
	r.Update(13.0, minute(120))
	r.Update(1.0, minute(0))

	lo, _ := r.Min(minute(120))
	assert.Equal(t, 13.0, lo)
}
