package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramPercentiles(t *testing.T) {
	r := NewRegistry(nil)

	for i := 1; i <= 100; i++ {
		r.Observe("db.query_latency", float64(i))
	}

	snap := r.Histogram("db.query_latency")
	assert.Equal(t, 100, snap.Count)
	assert.Equal(t, 1.0, snap.Min)
	assert.InDelta(t, 50.5, snap.Avg, 0.01)
	assert.Equal(t, 50.0, snap.P50)
	assert.Equal(t, 95.0, snap.P95)
	assert.Equal(t, 99.0, snap.P99)
}

func TestHistogramRollingWindow(t *testing.T) {
	r := NewRegistry(nil)

	// Fill the window, then push it out with a constant value; old samples
	// must stop contributing once evicted.
	for i := 0; i < windowSize; i++ {
		r.Observe("http.request_latency", 1000)
	}
	for i := 0; i < windowSize; i++ {
		r.Observe("http.request_latency", 5)
	}

	snap := r.Histogram("http.request_latency")
	assert.Equal(t, windowSize, snap.Count)
	assert.Equal(t, 5.0, snap.Min)
	assert.Equal(t, 5.0, snap.P99)
}

func TestHistogramEmpty(t *testing.T) {
	r := NewRegistry(nil)
	snap := r.Histogram("auth.latency")
	assert.Equal(t, 0, snap.Count)
	assert.Equal(t, 0.0, snap.P95)
}

func TestCounterMinuteBuckets(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Add("auth.login_failures", 5)
	assert.Equal(t, int64(5), r.RatePerMinute("auth.login_failures"))

	// Advance two minutes: the per-minute rate resets, the total does not.
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, int64(0), r.RatePerMinute("auth.login_failures"))

	r.Inc("auth.login_failures")
	snap := r.Counter("auth.login_failures")
	assert.Equal(t, int64(6), snap.Total)
	assert.Equal(t, int64(1), snap.LastMinute)
	assert.Equal(t, int64(6), snap.LastHour)
}

func TestCounterHourExpiry(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Add("rbac.deny_count", 10)

	// After more than an hour the bucket falls out of LastHour but stays in
	// the lifetime total.
	r.now = func() time.Time { return base.Add(61 * time.Minute) }
	snap := r.Counter("rbac.deny_count")
	assert.Equal(t, int64(10), snap.Total)
	assert.Equal(t, int64(0), snap.LastHour)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Observe("redis.latency", float64(j))
				r.Inc("redis.disconnects")
				r.Histogram("redis.latency")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(4000), r.Counter("redis.disconnects").Total)
}

func TestSnapshotCarriesStandardNames(t *testing.T) {
	r := NewRegistry(nil)
	snap := r.Snapshot()

	hists, ok := snap["histograms"].(map[string]HistogramSnapshot)
	require.True(t, ok)
	for _, name := range HistogramNames {
		assert.Contains(t, hists, name)
	}
	counters, ok := snap["counters"].(map[string]CounterSnapshot)
	require.True(t, ok)
	for _, name := range CounterNames {
		assert.Contains(t, counters, name)
	}
}
