package threshold

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagerun/internal/stats"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr       string
		metric     Metric
		percentile float64
		op         Op
		limit      float64
	}{
		{"error_rate < 0.01", ErrorRate, 0, Less, 0.01},
		{"http_req_failed rate<0.01", RequestFailRate, 0, Less, 0.01},
		{"req_failed_rate <= 0.1", RequestFailRate, 0, LessEqual, 0.1},
		{"checks rate >= 0.99", SuccessRate, 0, GreaterEqual, 0.99},
		{"check_rate>0.9", SuccessRate, 0, Greater, 0.9},
		{"http_reqs count > 10", RequestCount, 0, Greater, 10},
		{"requests >= 1", RequestCount, 0, GreaterEqual, 1},
		{"count != 0", Count, 0, NotEqual, 0},
		{"http_req_duration p(95)<200", LatencyPercentile, 95, Less, 200},
		{"p(99.9) <= 350", LatencyPercentile, 99.9, LessEqual, 350},
		{"latency avg < 100", LatencyAvg, 0, Less, 100},
		{"med==5", LatencyMed, 0, Equal, 5},
		{"  max < 1000  ", LatencyMax, 0, Less, 1000},
		{"min > -1", LatencyMin, 0, Greater, -1},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := Parse(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.metric, s.Metric)
			assert.Equal(t, tc.percentile, s.Percentile)
			assert.Equal(t, tc.op, s.Op)
			assert.Equal(t, tc.limit, s.Limit)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, expr := range []string{
		"",
		"error_rate",
		"error_rate < ",
		"error_rate << 0.1",
		"error_rate < abc",
		"bogus < 1",
		"http_req_failed p(95) < 1",
		"checks count > 1",
		"http_req_duration rate < 1",
		"p(0) < 100",
		"p(101) < 100",
		"p < 100",
		"foo bar < 1",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestHolds(t *testing.T) {
	s := Spec{Op: Less, Limit: 1}
	assert.True(t, s.Holds(0.5))
	assert.False(t, s.Holds(1))

	s.Op = LessEqual
	assert.True(t, s.Holds(1))
	s.Op = Greater
	assert.False(t, s.Holds(1))
	s.Op = GreaterEqual
	assert.True(t, s.Holds(1))
	s.Op = Equal
	assert.True(t, s.Holds(1))
	s.Op = NotEqual
	assert.False(t, s.Holds(1))
}

func snapshotWith(t *testing.T, ok, failed int, d time.Duration) stats.Snapshot {
	t.Helper()
	r := stats.NewRecorder(1)
	for i := 0; i < ok; i++ {
		r.Record(stats.Outcome{Duration: d, Success: true, Label: "status is 200", Request: true})
	}
	for i := 0; i < failed; i++ {
		r.Record(stats.Outcome{Duration: d, Success: false, Label: "status is 200", Request: true, RequestFailed: true})
	}
	return r.Snapshot()
}

func TestEvaluatorErrorRateViolation(t *testing.T) {
	e := NewEvaluator([]Spec{MustParse("error_rate < 0.01")}, true, zerolog.Nop())

	abort := e.Evaluate(snapshotWith(t, 98, 2, time.Millisecond), time.Now())
	assert.True(t, abort)
	assert.Equal(t, []string{"error_rate < 0.01"}, e.Violated())

	res := e.Results()
	require.Len(t, res, 1)
	assert.True(t, res[0].Violated)
	assert.InDelta(t, 0.02, res[0].Observed, 1e-9)
	assert.NotNil(t, res[0].FirstViolatedAt)
}

func TestEvaluatorReportOnly(t *testing.T) {
	e := NewEvaluator([]Spec{MustParse("error_rate < 0.01")}, false, zerolog.Nop())

	assert.False(t, e.Evaluate(snapshotWith(t, 98, 2, time.Millisecond), time.Now()))
	assert.Equal(t, []string{"error_rate < 0.01"}, e.Violated())
}

func TestEvaluatorViolationIsMonotonic(t *testing.T) {
	e := NewEvaluator([]Spec{
		MustParse("http_req_duration p(95) < 200"),
		MustParse("error_rate < 0.5"),
	}, false, zerolog.Nop())

	first := time.Now()
	e.Evaluate(snapshotWith(t, 10, 0, 500*time.Millisecond), first)
	e.Evaluate(snapshotWith(t, 10, 0, 5*time.Millisecond), first.Add(time.Second))

	res := e.Results()
	assert.True(t, res[0].Violated)
	assert.Equal(t, first, *res[0].FirstViolatedAt)
	assert.InDelta(t, 5, res[0].Observed, 0.1)
	assert.False(t, res[1].Violated)
	assert.Nil(t, res[1].FirstViolatedAt)
}

func TestEvaluatorRunAborts(t *testing.T) {
	e := NewEvaluator([]Spec{MustParse("error_rate < 0.01")}, true, zerolog.Nop())
	snap := snapshotWith(t, 0, 5, time.Millisecond)

	var aborts int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(context.Background(), 10*time.Millisecond, func() stats.Snapshot { return snap }, func() {
			atomic.AddInt32(&aborts, 1)
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("evaluator did not abort")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&aborts))
}

func TestEvaluatorRunStopsOnContext(t *testing.T) {
	e := NewEvaluator(nil, true, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx, 5*time.Millisecond, func() stats.Snapshot { return stats.Snapshot{} }, func() {
			t.Error("unexpected abort")
		})
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done
}

func TestEvaluatorDefersCountLowerBounds(t *testing.T) {
	e := NewEvaluator([]Spec{
		MustParse("http_reqs count > 50"),
		MustParse("count < 20"),
	}, true, zerolog.Nop())

	assert.False(t, MustParse("count < 20").Deferred())
	assert.True(t, MustParse("count >= 1").Deferred())

	// An early sample below the lower bound is not a violation yet.
	assert.False(t, e.Evaluate(snapshotWith(t, 10, 0, time.Millisecond), time.Now()))
	assert.Empty(t, e.Violated())

	assert.True(t, e.Evaluate(snapshotWith(t, 30, 0, time.Millisecond), time.Now()))
	assert.Equal(t, []string{"count < 20"}, e.Violated())

	e.Final(snapshotWith(t, 40, 0, time.Millisecond), time.Now())
	assert.Equal(t, []string{"http_reqs count > 50", "count < 20"}, e.Violated())
	assert.Equal(t, 40.0, e.Results()[0].Observed)
}

func TestEvaluatorSkipsEmptySnapshot(t *testing.T) {
	e := NewEvaluator([]Spec{
		MustParse("checks rate > 0.95"),
		MustParse("min > 1"),
		MustParse("count != 0"),
	}, true, zerolog.Nop())

	assert.False(t, e.Evaluate(stats.Snapshot{}, time.Now()))
	assert.Empty(t, e.Violated())

	assert.False(t, e.Evaluate(snapshotWith(t, 20, 0, 5*time.Millisecond), time.Now()))
	assert.Empty(t, e.Violated())
}

func TestEvaluatorFinalOnEmptyRun(t *testing.T) {
	e := NewEvaluator([]Spec{
		MustParse("checks rate > 0.95"),
		MustParse("http_req_duration p(95) < 200"),
		MustParse("http_reqs count > 0"),
	}, false, zerolog.Nop())

	e.Final(stats.Snapshot{}, time.Now())
	assert.Equal(t, []string{"http_reqs count > 0"}, e.Violated())
}

func TestEvaluatorRequestFailRate(t *testing.T) {
	r := stats.NewRecorder(1)
	for i := 0; i < 10; i++ {
		r.Record(stats.Outcome{Duration: time.Millisecond, Success: true, Label: "status is 200", Request: true})
		r.Record(stats.Outcome{Duration: time.Millisecond, Success: false, Label: "has users"})
	}
	snap := r.Snapshot()

	e := NewEvaluator([]Spec{
		MustParse("http_req_failed rate < 0.01"),
		MustParse("http_reqs count == 10"),
		MustParse("error_rate < 0.1"),
	}, false, zerolog.Nop())
	e.Final(snap, time.Now())

	assert.Equal(t, []string{"error_rate < 0.1"}, e.Violated())
	res := e.Results()
	assert.Zero(t, res[0].Observed)
	assert.Equal(t, 10.0, res[1].Observed)
	assert.InDelta(t, 0.5, res[2].Observed, 1e-9)
}
