package stats

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Latencies are tracked in microseconds from 1us to 10min with 3
	// significant figures, so any reported quantile is within 0.1% of the
	// recorded value it stands for.
	minTrackable = 1
	maxTrackable = int64(10 * time.Minute / time.Microsecond)
	sigFigs      = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minTrackable, maxTrackable, sigFigs)
}

// recordDuration records d in microseconds, clamping to the trackable range.
func recordDuration(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < minTrackable {
		us = minTrackable
	}
	if us > maxTrackable {
		us = maxTrackable
	}
	// Cannot fail: value is clamped into range above.
	_ = h.RecordValue(us)
}

func usToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
