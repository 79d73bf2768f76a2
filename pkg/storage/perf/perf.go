// Package perf tracks per-backend operation performance over a sliding
// window and derives latency percentiles for writes and queries.
package perf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// Defaults for the tracker.
const (
	DefaultWindow  = 5 * time.Minute
	DefaultCadence = 10 * time.Second
)

// Op classifies a recorded operation.
type Op string

const (
	OpWrite Op = "write"
	OpQuery Op = "query"
)

type sample struct {
	at      time.Time
	op      Op
	latency time.Duration
	points  int
	failed  int
	ok      bool
}

// Metrics is the summary view of one backend over the window.
type Metrics struct {
	Backend           string
	Writes            int
	Queries           int
	Failures          int
	PointsProcessed   int
	PointsFailed      int
	AvgWriteLatencyMs float64
	AvgQueryLatencyMs float64
	ThroughputOpsPerS float64
	ErrorRatePct      float64
	ActiveConnections int
	QueueSize         int
	WindowSeconds     float64
}

// Percentiles is a latency distribution for one operation type.
type Percentiles struct {
	P50Ms float64
	P95Ms float64
	P99Ms float64
	MinMs float64
	MaxMs float64
}

// Detailed adds per-operation latency percentiles to the summary.
type Detailed struct {
	Metrics
	Write Percentiles
	Query Percentiles
}

// SnapshotHandler receives the periodic metrics snapshot from Run.
type SnapshotHandler func(map[string]Metrics)

// Tracker is a sliding-window performance tracker. It implements
// storage.Observer so it can plug straight into the router.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	cadence time.Duration
	samples map[string][]sample
	conns   map[string]int
	queued  map[string]int

	nextToken int
	subs      map[int]SnapshotHandler

	now func() time.Time
}

var _ storage.Observer = (*Tracker)(nil)

// NewTracker creates a tracker with the default five minute window.
func NewTracker() *Tracker {
	return &Tracker{
		window:  DefaultWindow,
		cadence: DefaultCadence,
		samples: make(map[string][]sample),
		conns:   make(map[string]int),
		queued:  make(map[string]int),
		subs:    make(map[int]SnapshotHandler),
		now:     time.Now,
	}
}

// SetWindow overrides the sliding window length.
func (t *Tracker) SetWindow(w time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w > 0 {
		t.window = w
	}
}

// Observe records one write outcome. Implements storage.Observer.
func (t *Tracker) Observe(backend string, latency time.Duration, err error) {
	failed := 0
	if err != nil {
		failed = 1
	}
	t.ObserveOp(backend, OpWrite, latency, 1, failed, err)
}

// ObserveOp records one operation outcome with point counts.
func (t *Tracker) ObserveOp(backend string, op Op, latency time.Duration, points, failed int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.samples[backend] = append(t.samples[backend], sample{
		at:      now,
		op:      op,
		latency: latency,
		points:  points,
		failed:  failed,
		ok:      err == nil,
	})
	t.pruneLocked(backend, now)
}

// SetActiveConnections records the backend's current connection count.
func (t *Tracker) SetActiveConnections(backend string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[backend] = n
}

// SetQueueSize records the backend's current pending queue depth.
func (t *Tracker) SetQueueSize(backend string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued[backend] = n
}

// pruneLocked drops samples older than the window.
func (t *Tracker) pruneLocked(backend string, now time.Time) {
	cutoff := now.Add(-t.window)
	ss := t.samples[backend]
	keep := 0
	for keep < len(ss) && ss[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		t.samples[backend] = append(ss[:0:0], ss[keep:]...)
	}
}

// Current returns the summary metrics for one backend.
func (t *Tracker) Current(backend string) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(backend, now)
	return t.metricsLocked(backend, now)
}

func (t *Tracker) metricsLocked(backend string, now time.Time) Metrics {
	ss := t.samples[backend]
	m := Metrics{
		Backend:           backend,
		ActiveConnections: t.conns[backend],
		QueueSize:         t.queued[backend],
		WindowSeconds:     t.window.Seconds(),
	}
	if len(ss) == 0 {
		return m
	}
	var writeMs, queryMs float64
	for _, s := range ss {
		ms := float64(s.latency.Microseconds()) / 1000
		switch s.op {
		case OpQuery:
			m.Queries++
			queryMs += ms
		default:
			m.Writes++
			writeMs += ms
		}
		m.PointsProcessed += s.points
		m.PointsFailed += s.failed
		if !s.ok {
			m.Failures++
		}
	}
	if m.Writes > 0 {
		m.AvgWriteLatencyMs = writeMs / float64(m.Writes)
	}
	if m.Queries > 0 {
		m.AvgQueryLatencyMs = queryMs / float64(m.Queries)
	}
	m.ErrorRatePct = 100 * float64(m.Failures) / float64(len(ss))

	// Throughput is measured over the observed span, not the full window,
	// so a freshly started tracker still reports a meaningful rate.
	span := now.Sub(ss[0].at)
	if span < time.Second {
		span = time.Second
	}
	m.ThroughputOpsPerS = float64(len(ss)) / span.Seconds()
	return m
}

// Detailed returns the per-operation percentile breakdown for one backend.
func (t *Tracker) Detailed(backend string) Detailed {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(backend, now)

	d := Detailed{Metrics: t.metricsLocked(backend, now)}
	var writes, queries []float64
	for _, s := range t.samples[backend] {
		ms := float64(s.latency.Microseconds()) / 1000
		if s.op == OpQuery {
			queries = append(queries, ms)
		} else {
			writes = append(writes, ms)
		}
	}
	d.Write = percentiles(writes)
	d.Query = percentiles(queries)
	return d
}

// percentiles applies nearest-rank selection over an unsorted series.
func percentiles(ms []float64) Percentiles {
	if len(ms) == 0 {
		return Percentiles{}
	}
	sort.Float64s(ms)
	return Percentiles{
		P50Ms: percentile(ms, 50),
		P95Ms: percentile(ms, 95),
		P99Ms: percentile(ms, 99),
		MinMs: ms[0],
		MaxMs: ms[len(ms)-1],
	}
}

func percentile(sorted []float64, p float64) float64 {
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Snapshot returns the summary metrics of every tracked backend.
func (t *Tracker) Snapshot() map[string]Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make(map[string]Metrics, len(t.samples))
	for backend := range t.samples {
		t.pruneLocked(backend, now)
		out[backend] = t.metricsLocked(backend, now)
	}
	return out
}

// Subscribe registers a snapshot handler fed by Run.
func (t *Tracker) Subscribe(h SnapshotHandler) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	token := t.nextToken
	t.nextToken++
	t.subs[token] = h
	return token
}

// Unsubscribe removes a snapshot handler.
func (t *Tracker) Unsubscribe(token int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, token)
}

// Run publishes snapshots on the tracker cadence until the context ends.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := t.Snapshot()
			t.mu.Lock()
			handlers := make([]SnapshotHandler, 0, len(t.subs))
			for _, h := range t.subs {
				handlers = append(handlers, h)
			}
			t.mu.Unlock()
			for _, h := range handlers {
				h(snap)
			}
		}
	}
}
