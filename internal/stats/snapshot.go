package stats

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// CheckCounts holds pass/fail totals for one check label.
type CheckCounts struct {
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

// LatencySummary is a precomputed set of latency aggregates.
type LatencySummary struct {
	Min  time.Duration
	Mean time.Duration
	P50  time.Duration
	P90  time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration
}

// Snapshot is a point-in-time aggregate of every Outcome recorded so far.
// It is never modified after creation.
//
// Count, Failures and ErrorRate are per Outcome (one per check). Requests,
// RequestFailures and RequestFailRate only count Outcomes marked as a
// request. Every Outcome of a request carries its duration, so with a fixed
// number of checks per request the latency quantiles equal the per-request
// ones.
type Snapshot struct {
	Count     uint64
	Failures  uint64
	ErrorRate float64

	Requests        uint64
	RequestFailures uint64
	RequestFailRate float64

	Latency LatencySummary
	Checks  map[string]CheckCounts

	hist *hdrhistogram.Histogram
}

func newSnapshot(count, failures uint64, hist *hdrhistogram.Histogram, checks map[string]CheckCounts) Snapshot {
	s := Snapshot{
		Count:    count,
		Failures: failures,
		Checks:   checks,
		hist:     hist,
	}
	if count > 0 {
		s.ErrorRate = float64(failures) / float64(count)
		s.Latency = LatencySummary{
			Min:  usToDuration(hist.Min()),
			Mean: time.Duration(hist.Mean() * float64(time.Microsecond)),
			P50:  usToDuration(hist.ValueAtQuantile(50)),
			P90:  usToDuration(hist.ValueAtQuantile(90)),
			P95:  usToDuration(hist.ValueAtQuantile(95)),
			P99:  usToDuration(hist.ValueAtQuantile(99)),
			Max:  usToDuration(hist.Max()),
		}
	}
	return s
}

// SuccessRate is the fraction of Outcomes that passed.
func (s Snapshot) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return 1 - s.ErrorRate
}

// Quantile returns the latency at percentile q (0-100).
func (s Snapshot) Quantile(q float64) time.Duration {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	return usToDuration(s.hist.ValueAtQuantile(q))
}
