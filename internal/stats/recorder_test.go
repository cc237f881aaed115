package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderEmptySnapshot(t *testing.T) {
	r := NewRecorder(4)
	s := r.Snapshot()

	assert.Zero(t, s.Count)
	assert.Zero(t, s.ErrorRate)
	assert.Zero(t, s.SuccessRate())
	assert.Zero(t, s.Quantile(95))
	assert.Equal(t, LatencySummary{}, s.Latency)
}

func TestRecorderCountsAndChecks(t *testing.T) {
	r := NewRecorder(2)
	now := time.Now()

	for i := 0; i < 98; i++ {
		r.Record(Outcome{Timestamp: now, Duration: 10 * time.Millisecond, Success: true, Label: "status is 200", VU: i})
	}
	r.Record(Outcome{Timestamp: now, Duration: 300 * time.Millisecond, Success: false, Label: "status is 200", VU: 1})
	r.Record(Outcome{Timestamp: now, Duration: 300 * time.Millisecond, Success: false, Label: "body ok", VU: 2})

	s := r.Snapshot()
	require.Equal(t, uint64(100), s.Count)
	assert.Equal(t, uint64(2), s.Failures)
	assert.InDelta(t, 0.02, s.ErrorRate, 1e-9)
	assert.InDelta(t, 0.98, s.SuccessRate(), 1e-9)
	assert.Equal(t, CheckCounts{Passes: 98, Fails: 1}, s.Checks["status is 200"])
	assert.Equal(t, CheckCounts{Passes: 0, Fails: 1}, s.Checks["body ok"])
}

func TestRecorderLatencyWithinBound(t *testing.T) {
	r := NewRecorder(1)
	for i := 1; i <= 1000; i++ {
		r.Record(Outcome{Duration: time.Duration(i) * time.Millisecond, Success: true})
	}

	s := r.Snapshot()
	within := func(want, got time.Duration) {
		t.Helper()
		assert.InEpsilon(t, float64(want), float64(got), 0.002, "want %s got %s", want, got)
	}
	within(time.Millisecond, s.Latency.Min)
	within(500*time.Millisecond, s.Latency.P50)
	within(950*time.Millisecond, s.Latency.P95)
	within(990*time.Millisecond, s.Latency.P99)
	within(time.Second, s.Latency.Max)
	within(750*time.Millisecond, s.Quantile(75))
}

func TestRecorderClampsOutOfRange(t *testing.T) {
	r := NewRecorder(1)
	r.Record(Outcome{Duration: 0, Success: true})
	r.Record(Outcome{Duration: time.Hour, Success: true})

	s := r.Snapshot()
	assert.Equal(t, uint64(2), s.Count)
	assert.Equal(t, time.Microsecond, s.Latency.Min)
	assert.InEpsilon(t, float64(10*time.Minute), float64(s.Latency.Max), 0.002)
}

func TestSnapshotIdempotent(t *testing.T) {
	r := NewRecorder(8)
	for i := 0; i < 500; i++ {
		r.Record(Outcome{Duration: time.Duration(i%37) * time.Millisecond, Success: i%11 != 0, Label: "c", VU: i})
	}

	a := r.Snapshot()
	b := r.Snapshot()
	assert.Equal(t, a.Count, b.Count)
	assert.Equal(t, a.Failures, b.Failures)
	assert.Equal(t, a.ErrorRate, b.ErrorRate)
	assert.Equal(t, a.Latency, b.Latency)
	assert.Equal(t, a.Checks, b.Checks)
	for _, q := range []float64{10, 50, 99.9} {
		assert.Equal(t, a.Quantile(q), b.Quantile(q))
	}
}

func TestRecorderConcurrentNoLoss(t *testing.T) {
	const (
		producers = 64
		each      = 2000
	)
	r := NewRecorder(0)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				r.Record(Outcome{Duration: time.Millisecond, Success: i%2 == 0, Label: "x", VU: vu})
			}
		}(p)
	}

	// Snapshots taken while producers run must never exceed the total.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			assert.LessOrEqual(t, r.Snapshot().Count, uint64(producers*each))
		}
	}()

	wg.Wait()
	<-done

	s := r.Snapshot()
	assert.Equal(t, uint64(producers*each), s.Count)
	assert.Equal(t, uint64(producers*each/2), s.Failures)
	assert.Equal(t, CheckCounts{Passes: producers * each / 2, Fails: producers * each / 2}, s.Checks["x"])
}

func TestNewRecorderRoundsShards(t *testing.T) {
	assert.Len(t, NewRecorder(3).shards, 4)
	assert.Len(t, NewRecorder(1).shards, 1)
	assert.Len(t, NewRecorder(16).shards, 16)
}

func TestRecorderCountsRequestsOnce(t *testing.T) {
	r := NewRecorder(2)
	now := time.Now()

	// Ten requests with two checks each; the body check misses on three
	// responses and one request failed outright.
	for i := 0; i < 10; i++ {
		r.Record(Outcome{Timestamp: now, Duration: 20 * time.Millisecond, Success: i != 9, Label: "status is 200",
			VU: i, Request: true, RequestFailed: i == 9})
		r.Record(Outcome{Timestamp: now, Duration: 20 * time.Millisecond, Success: i >= 3 && i != 9, Label: "has users", VU: i})
	}

	s := r.Snapshot()
	assert.Equal(t, uint64(20), s.Count)
	assert.Equal(t, uint64(5), s.Failures)
	assert.Equal(t, uint64(10), s.Requests)
	assert.Equal(t, uint64(1), s.RequestFailures)
	assert.InDelta(t, 0.1, s.RequestFailRate, 1e-9)
}
