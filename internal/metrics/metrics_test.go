package metrics

import (
	"sync"
	"testing"
	"time"

	"inferd/pkg/types"
)

func TestRecordAndSnapshot(t *testing.T) {
	a := NewAggregator()
	k1 := types.Key("summarizer", "v1")
	k2 := types.Key("generator", "v1")

	a.Record(k1, 10*time.Millisecond, true)
	a.Record(k1, 30*time.Millisecond, true)
	a.Record(k2, 20*time.Millisecond, false)

	snap := a.Snapshot()
	if snap.TotalRequests != 3 {
		t.Fatalf("total=%d", snap.TotalRequests)
	}
	if snap.SuccessfulRequests != 2 || snap.FailedRequests != 1 {
		t.Fatalf("success=%d failed=%d", snap.SuccessfulRequests, snap.FailedRequests)
	}
	if snap.RequestsPerModel["summarizer:v1"] != 2 {
		t.Fatalf("per-model summarizer=%d", snap.RequestsPerModel["summarizer:v1"])
	}
	if snap.RequestsPerModel["generator:v1"] != 1 {
		t.Fatalf("per-model generator=%d", snap.RequestsPerModel["generator:v1"])
	}
	// (10+30+20)/3 = 20ms running average
	if snap.AverageLatencyMS < 19.9 || snap.AverageLatencyMS > 20.1 {
		t.Fatalf("avg=%f", snap.AverageLatencyMS)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	a := NewAggregator()
	snap := a.Snapshot()
	if snap.TotalRequests != 0 || snap.AverageLatencyMS != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
	if snap.RequestsPerModel == nil {
		t.Fatal("expected non-nil per-model map")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := NewAggregator()
	k := types.Key("m", "v1")
	a.Record(k, time.Millisecond, true)

	snap := a.Snapshot()
	snap.RequestsPerModel["m:v1"] = 99

	if got := a.Snapshot().RequestsPerModel["m:v1"]; got != 1 {
		t.Fatalf("mutating a snapshot leaked into the aggregator: %d", got)
	}
}

func TestConcurrentRecords(t *testing.T) {
	a := NewAggregator()
	k := types.Key("m", "v1")
	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				a.Record(k, time.Millisecond, n%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	snap := a.Snapshot()
	if snap.TotalRequests != workers*perWorker {
		t.Fatalf("total=%d", snap.TotalRequests)
	}
	if snap.SuccessfulRequests+snap.FailedRequests != snap.TotalRequests {
		t.Fatalf("success+failed != total: %+v", snap)
	}
}
