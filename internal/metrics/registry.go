// Package metrics is the in-process metrics registry: rolling-window
// histograms with exact percentiles over the most recent samples, and
// counters with per-minute buckets for the last hour. Current values are
// additionally exported as Prometheus gauges so standard scrapers can read
// them at /health/metrics.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// windowSize is how many recent samples a histogram retains.
const windowSize = 1000

// minuteBuckets is how many per-minute counter buckets are retained.
const minuteBuckets = 60

// HistogramNames enumerates the latency histograms every deployment carries.
var HistogramNames = []string{
	"auth.latency",
	"db.query_latency",
	"rbac.resolution_latency",
	"redis.latency",
	"queue.lag",
	"http.request_latency",
}

// CounterNames enumerates the event counters every deployment carries.
var CounterNames = []string{
	"auth.login_failures",
	"db.slow_queries",
	"rbac.deny_count",
	"redis.disconnects",
	"queue.dlq_count",
	"http.error_count",
}

// HistogramSnapshot is a point-in-time view of one histogram's window.
type HistogramSnapshot struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// CounterSnapshot is a point-in-time view of one counter.
type CounterSnapshot struct {
	Total      int64 `json:"total"`
	LastMinute int64 `json:"last_minute"`
	LastHour   int64 `json:"last_hour"`
}

type histogram struct {
	samples []float64 // ring buffer
	next    int
	filled  bool
}

func (h *histogram) observe(v float64) {
	if len(h.samples) < windowSize {
		h.samples = append(h.samples, v)
		return
	}
	h.samples[h.next] = v
	h.next = (h.next + 1) % windowSize
	h.filled = true
}

func (h *histogram) snapshot() HistogramSnapshot {
	n := len(h.samples)
	if n == 0 {
		return HistogramSnapshot{}
	}
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return HistogramSnapshot{
		Count: n,
		Min:   sorted[0],
		Avg:   sum / float64(n),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

// percentile returns the pth percentile of an ascending-sorted slice using
// nearest-rank.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

type counter struct {
	total   int64
	buckets [minuteBuckets]int64 // indexed by unix-minute % minuteBuckets
	minutes [minuteBuckets]int64 // which unix-minute each bucket holds
}

func (c *counter) add(n int64, now time.Time) {
	c.total += n
	minute := now.Unix() / 60
	idx := int(minute % minuteBuckets)
	if c.minutes[idx] != minute {
		c.buckets[idx] = 0
		c.minutes[idx] = minute
	}
	c.buckets[idx] += n
}

func (c *counter) snapshot(now time.Time) CounterSnapshot {
	minute := now.Unix() / 60
	snap := CounterSnapshot{Total: c.total}
	for i := 0; i < minuteBuckets; i++ {
		age := minute - c.minutes[i]
		if age < 0 || age >= minuteBuckets {
			continue
		}
		snap.LastHour += c.buckets[i]
		if age == 0 {
			snap.LastMinute = c.buckets[i]
		}
	}
	return snap
}

// rate returns the count recorded in the current minute bucket.
func (c *counter) rate(now time.Time) int64 {
	minute := now.Unix() / 60
	idx := int(minute % minuteBuckets)
	if c.minutes[idx] != minute {
		return 0
	}
	return c.buckets[idx]
}

// Registry holds every histogram and counter for the process. Constructed
// once at startup and injected into each component; all methods are safe for
// concurrent use.
type Registry struct {
	mu         sync.Mutex
	histograms map[string]*histogram
	counters   map[string]*counter
	now        func() time.Time

	promHist    *prometheus.GaugeVec
	promCounter *prometheus.GaugeVec
}

// NewRegistry constructs a Registry pre-populated with the standard
// histogram and counter names, registering exposition gauges on reg (pass
// nil to skip Prometheus exposition, e.g. in unit tests).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		histograms: make(map[string]*histogram, len(HistogramNames)),
		counters:   make(map[string]*counter, len(CounterNames)),
		now:        time.Now,
	}
	for _, name := range HistogramNames {
		r.histograms[name] = &histogram{}
	}
	for _, name := range CounterNames {
		r.counters[name] = &counter{}
	}

	if reg != nil {
		r.promHist = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "schoolcore_histogram_ms",
			Help: "Rolling-window histogram statistics in milliseconds.",
		}, []string{"name", "stat"})
		r.promCounter = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "schoolcore_counter_total",
			Help: "Monotonic event counters.",
		}, []string{"name"})
		reg.MustRegister(r.promHist, r.promCounter)
	}
	return r
}

// Observe records one sample (in milliseconds) into the named histogram.
// Unknown names are registered on first use.
func (r *Registry) Observe(name string, ms float64) {
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		h = &histogram{}
		r.histograms[name] = h
	}
	h.observe(ms)
	snap := h.snapshot()
	r.mu.Unlock()

	if r.promHist != nil {
		r.promHist.WithLabelValues(name, "p50").Set(snap.P50)
		r.promHist.WithLabelValues(name, "p95").Set(snap.P95)
		r.promHist.WithLabelValues(name, "p99").Set(snap.P99)
	}
}

// ObserveSince records the elapsed time since start into the named histogram.
func (r *Registry) ObserveSince(name string, start time.Time) {
	r.Observe(name, float64(r.now().Sub(start).Microseconds())/1000)
}

// Inc adds one to the named counter.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add adds n to the named counter. Unknown names are registered on first use.
func (r *Registry) Add(name string, n int64) {
	r.mu.Lock()
	c, ok := r.counters[name]
	if !ok {
		c = &counter{}
		r.counters[name] = c
	}
	c.add(n, r.now())
	total := c.total
	r.mu.Unlock()

	if r.promCounter != nil {
		r.promCounter.WithLabelValues(name).Set(float64(total))
	}
}

// Histogram returns the current snapshot of the named histogram.
func (r *Registry) Histogram(name string) HistogramSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h.snapshot()
	}
	return HistogramSnapshot{}
}

// Counter returns the current snapshot of the named counter.
func (r *Registry) Counter(name string) CounterSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c.snapshot(r.now())
	}
	return CounterSnapshot{}
}

// RatePerMinute returns how many events the named counter recorded in the
// current minute. The red-flag engine polls this for its per-minute
// thresholds.
func (r *Registry) RatePerMinute(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c.rate(r.now())
	}
	return 0
}

// Snapshot returns every histogram and counter for the dashboard endpoint.
func (r *Registry) Snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	hists := make(map[string]HistogramSnapshot, len(r.histograms))
	for name, h := range r.histograms {
		hists[name] = h.snapshot()
	}
	counters := make(map[string]CounterSnapshot, len(r.counters))
	now := r.now()
	for name, c := range r.counters {
		counters[name] = c.snapshot(now)
	}
	return map[string]any{
		"histograms": hists,
		"counters":   counters,
	}
}
