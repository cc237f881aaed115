package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stagerun/internal/profile"
	"stagerun/internal/stats"
)

// PanicLabel labels the failed Outcome recorded when a script panics.
const PanicLabel = "script panic"

// Recorder receives Outcomes. *stats.Recorder implements it.
type Recorder interface {
	Record(stats.Outcome)
}

// VirtualUser repeats a Script until told to stop.
type VirtualUser struct {
	ID int

	script     profile.Script
	pacing     time.Duration
	limit      int64
	recorder   Recorder
	log        zerolog.Logger
	iterations int64
}

func NewVirtualUser(id int, p *profile.RunProfile, rec Recorder, log zerolog.Logger) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		script:   p.Script,
		pacing:   p.Pacing,
		limit:    p.Iterations,
		recorder: rec,
		log:      log.With().Int("vu", id).Logger(),
	}
}

// Iterations is the number of completed iterations.
func (vu *VirtualUser) Iterations() int64 {
	return atomic.LoadInt64(&vu.iterations)
}

// Run executes iterations until stop is closed, ctx is done or the iteration
// limit is reached. stop is only observed between iterations and during
// pacing; ctx cancellation also interrupts an in-flight request, and the
// outcomes of such an interrupted iteration are dropped.
func (vu *VirtualUser) Run(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		outcomes := vu.iterate(ctx, vu.Iterations())
		if ctx.Err() != nil {
			return
		}
		for _, o := range outcomes {
			o.VU = vu.ID
			vu.recorder.Record(o)
		}

		n := atomic.AddInt64(&vu.iterations, 1)
		if vu.limit > 0 && n >= vu.limit {
			vu.log.Debug().Int64("iterations", n).Msg("iteration limit reached")
			return
		}

		if vu.pacing > 0 {
			timer := time.NewTimer(vu.pacing)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (vu *VirtualUser) iterate(ctx context.Context, n int64) (out []stats.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			vu.log.Error().Str("panic", fmt.Sprint(r)).Int64("iteration", n).Msg("script panicked")
			out = []stats.Outcome{{
				Timestamp: start,
				Duration:  time.Since(start),
				Success:   false,
				Label:     PanicLabel,
			}}
		}
	}()
	return vu.script.Iterate(ctx, profile.Iteration{VU: vu.ID, Iteration: n})
}
