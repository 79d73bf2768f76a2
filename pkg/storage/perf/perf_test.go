package perf

import (
	"errors"
	"testing"
	"time"
)

func TestCurrentSplitsWritesAndQueries(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tr.now = func() time.Time { return current }

	tr.ObserveOp("relational", OpWrite, 10*time.Millisecond, 5, 0, nil)
	tr.ObserveOp("relational", OpWrite, 30*time.Millisecond, 5, 2, errors.New("boom"))
	tr.ObserveOp("relational", OpQuery, 100*time.Millisecond, 0, 0, nil)
	current = base.Add(10 * time.Second)

	m := tr.Current("relational")
	if m.Writes != 2 || m.Queries != 1 {
		t.Fatalf("writes/queries = %d/%d, want 2/1", m.Writes, m.Queries)
	}
	if m.AvgWriteLatencyMs != 20 {
		t.Errorf("avg write latency = %.1f, want 20", m.AvgWriteLatencyMs)
	}
	if m.AvgQueryLatencyMs != 100 {
		t.Errorf("avg query latency = %.1f, want 100", m.AvgQueryLatencyMs)
	}
	if m.PointsProcessed != 10 || m.PointsFailed != 2 {
		t.Errorf("points = %d/%d, want 10/2", m.PointsProcessed, m.PointsFailed)
	}
	if want := 100.0 / 3.0; m.ErrorRatePct < want-0.01 || m.ErrorRatePct > want+0.01 {
		t.Errorf("error rate = %.2f, want %.2f", m.ErrorRatePct, want)
	}
	if want := 3.0 / 10.0; m.ThroughputOpsPerS < want-0.001 || m.ThroughputOpsPerS > want+0.001 {
		t.Errorf("throughput = %.3f, want %.3f", m.ThroughputOpsPerS, want)
	}
}

func TestObserveRecordsSingleWrite(t *testing.T) {
	tr := NewTracker()
	tr.Observe("relational", 10*time.Millisecond, nil)
	tr.Observe("relational", 20*time.Millisecond, errors.New("boom"))

	m := tr.Current("relational")
	if m.Writes != 2 || m.Queries != 0 {
		t.Fatalf("writes/queries = %d/%d, want 2/0", m.Writes, m.Queries)
	}
	if m.Failures != 1 {
		t.Errorf("failures = %d, want 1", m.Failures)
	}
	if m.PointsProcessed != 2 || m.PointsFailed != 1 {
		t.Errorf("points = %d/%d, want 2/1", m.PointsProcessed, m.PointsFailed)
	}
	if m.AvgWriteLatencyMs != 15 {
		t.Errorf("avg write latency = %.1f, want 15", m.AvgWriteLatencyMs)
	}
}

func TestGauges(t *testing.T) {
	tr := NewTracker()
	tr.SetActiveConnections("ts", 4)
	tr.SetQueueSize("ts", 128)

	m := tr.Current("ts")
	if m.ActiveConnections != 4 {
		t.Errorf("active connections = %d, want 4", m.ActiveConnections)
	}
	if m.QueueSize != 128 {
		t.Errorf("queue size = %d, want 128", m.QueueSize)
	}
}

func TestWindowEviction(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tr.now = func() time.Time { return current }

	tr.Observe("ts", 5*time.Millisecond, nil)
	current = base.Add(6 * time.Minute)
	tr.Observe("ts", 5*time.Millisecond, nil)

	m := tr.Current("ts")
	if m.Writes != 1 {
		t.Errorf("writes = %d, want 1 after eviction", m.Writes)
	}
}

func TestDetailedPercentilesPerOp(t *testing.T) {
	tr := NewTracker()
	for i := 1; i <= 100; i++ {
		tr.ObserveOp("relational", OpWrite, time.Duration(i)*time.Millisecond, 1, 0, nil)
	}
	for i := 1; i <= 10; i++ {
		tr.ObserveOp("relational", OpQuery, time.Duration(i*10)*time.Millisecond, 0, 0, nil)
	}

	d := tr.Detailed("relational")
	if d.Write.P50Ms != 50 {
		t.Errorf("write p50 = %.1f, want 50", d.Write.P50Ms)
	}
	if d.Write.P95Ms != 95 {
		t.Errorf("write p95 = %.1f, want 95", d.Write.P95Ms)
	}
	if d.Write.P99Ms != 99 {
		t.Errorf("write p99 = %.1f, want 99", d.Write.P99Ms)
	}
	if d.Write.MinMs != 1 || d.Write.MaxMs != 100 {
		t.Errorf("write min/max = %.1f/%.1f, want 1/100", d.Write.MinMs, d.Write.MaxMs)
	}
	if d.Query.P50Ms != 50 {
		t.Errorf("query p50 = %.1f, want 50", d.Query.P50Ms)
	}
	if d.Query.MinMs != 10 || d.Query.MaxMs != 100 {
		t.Errorf("query min/max = %.1f/%.1f, want 10/100", d.Query.MinMs, d.Query.MaxMs)
	}
}

func TestEmptyBackend(t *testing.T) {
	tr := NewTracker()
	m := tr.Current("nothing")
	if m.Writes != 0 || m.ErrorRatePct != 0 || m.ThroughputOpsPerS != 0 {
		t.Errorf("empty metrics = %+v", m)
	}
	d := tr.Detailed("nothing")
	if d.Write.P99Ms != 0 || d.Query.P99Ms != 0 {
		t.Errorf("empty percentiles = %+v/%+v", d.Write, d.Query)
	}
}

func TestSnapshotCoversAllBackends(t *testing.T) {
	tr := NewTracker()
	tr.Observe("a", time.Millisecond, nil)
	tr.Observe("b", time.Millisecond, errors.New("x"))

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("backends = %d, want 2", len(snap))
	}
	if snap["b"].Failures != 1 {
		t.Errorf("backend b failures = %d, want 1", snap["b"].Failures)
	}
}
