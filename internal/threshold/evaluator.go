package threshold

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stagerun/internal/stats"
)

// Result is the evaluation state of one Spec.
type Result struct {
	Expr            string     `json:"expr"`
	Violated        bool       `json:"violated"`
	Observed        float64    `json:"observed"`
	FirstViolatedAt *time.Time `json:"first_violated_at,omitempty"`
}

// Evaluator checks Specs against snapshots. Once a Spec is violated it stays
// violated for the rest of the run, even if the metric recovers.
type Evaluator struct {
	mu      sync.Mutex
	specs   []Spec
	results []Result
	abort   bool
	log     zerolog.Logger
}

// NewEvaluator returns an Evaluator for specs. With abortOnViolation set,
// Evaluate reports that the run should stop as soon as any Spec is violated.
func NewEvaluator(specs []Spec, abortOnViolation bool, log zerolog.Logger) *Evaluator {
	results := make([]Result, len(specs))
	for i, s := range specs {
		results[i].Expr = s.Expr
	}
	return &Evaluator{
		specs:   specs,
		results: results,
		abort:   abortOnViolation,
		log:     log,
	}
}

// Evaluate checks every Spec against snap and returns true if the run should
// be aborted. Deferred Specs are skipped until Final, and nothing is judged
// before the first Outcome is recorded.
func (e *Evaluator) Evaluate(snap stats.Snapshot, now time.Time) bool {
	return e.evaluate(snap, now, false)
}

// Final evaluates every Spec, deferred ones included, against the snapshot
// taken when the run ended. Rates and latencies without samples are left
// unjudged; counts are always judged.
func (e *Evaluator) Final(snap stats.Snapshot, now time.Time) {
	e.evaluate(snap, now, true)
}

func (e *Evaluator) evaluate(snap stats.Snapshot, now time.Time, final bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	violated := false
	for i, spec := range e.specs {
		r := &e.results[i]
		if skip := !final && (spec.Deferred() || snap.Count == 0); skip || !spec.Sampled(snap) {
			violated = violated || r.Violated
			continue
		}
		v := spec.Observe(snap)
		r.Observed = v
		if !r.Violated && !spec.Holds(v) {
			at := now
			r.Violated = true
			r.FirstViolatedAt = &at
			e.log.Warn().
				Str("threshold", spec.Expr).
				Float64("observed", v).
				Uint64("samples", snap.Count).
				Msg("threshold violated")
		}
		violated = violated || r.Violated
	}
	return e.abort && violated
}

// Run evaluates source() every interval until ctx is done. onAbort is called
// once, after which Run returns.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration, source func() stats.Snapshot, onAbort func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if e.Evaluate(source(), now) {
				onAbort()
				return
			}
		}
	}
}

// Results returns a copy of the current per-Spec state.
func (e *Evaluator) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Result, len(e.results))
	copy(out, e.results)
	return out
}

// Violated returns the expressions of all violated Specs.
func (e *Evaluator) Violated() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	for _, r := range e.results {
		if r.Violated {
			out = append(out, r.Expr)
		}
	}
	return out
}
