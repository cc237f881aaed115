package stats

import (
	"runtime"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder accumulates Outcomes from many concurrent virtual users.
//
// Outcomes are folded into per-shard aggregates on arrival, so memory stays
// bounded regardless of run length. Shards are selected by VU id, which keeps
// users that record at the same time mostly on different locks.
type Recorder struct {
	shards []*shard
	mask   uint
}

type shard struct {
	mu       sync.Mutex
	count    uint64
	failures uint64
	requests uint64
	reqFails uint64
	hist     *hdrhistogram.Histogram
	checks   map[string]*CheckCounts
}

// NewRecorder returns a Recorder with n shards rounded up to a power of two.
// n <= 0 uses GOMAXPROCS.
func NewRecorder(n int) *Recorder {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	size := 1
	for size < n {
		size <<= 1
	}

	r := &Recorder{
		shards: make([]*shard, size),
		mask:   uint(size - 1),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			hist:   newHistogram(),
			checks: make(map[string]*CheckCounts),
		}
	}
	return r
}

// Record folds o into the aggregate. Safe for concurrent use.
func (r *Recorder) Record(o Outcome) {
	s := r.shards[uint(o.VU)&r.mask]

	s.mu.Lock()
	s.count++
	c, ok := s.checks[o.Label]
	if !ok {
		c = &CheckCounts{}
		s.checks[o.Label] = c
	}
	if o.Success {
		c.Passes++
	} else {
		s.failures++
		c.Fails++
	}
	if o.Request {
		s.requests++
		if o.RequestFailed {
			s.reqFails++
		}
	}
	recordDuration(s.hist, o.Duration)
	s.mu.Unlock()
}

// Snapshot merges all shards into an immutable aggregate. Shards are locked
// one at a time, so the result is not linearizable with concurrent Record
// calls, but every Outcome whose Record returned before Snapshot was called
// is counted exactly once.
func (r *Recorder) Snapshot() Snapshot {
	hist := newHistogram()
	checks := make(map[string]CheckCounts)
	var count, failures, requests, reqFails uint64

	for _, s := range r.shards {
		s.mu.Lock()
		count += s.count
		failures += s.failures
		requests += s.requests
		reqFails += s.reqFails
		hist.Merge(s.hist)
		for label, c := range s.checks {
			agg := checks[label]
			agg.Passes += c.Passes
			agg.Fails += c.Fails
			checks[label] = agg
		}
		s.mu.Unlock()
	}

	snap := newSnapshot(count, failures, hist, checks)
	snap.Requests = requests
	snap.RequestFailures = reqFails
	if requests > 0 {
		snap.RequestFailRate = float64(reqFails) / float64(requests)
	}
	return snap
}
