// Package controller owns a single load test run: it validates the profile,
// runs the scheduler and the threshold evaluator side by side, and turns
// their outcome into a Report.
package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stagerun/internal/profile"
	"stagerun/internal/runner"
	"stagerun/internal/stats"
	"stagerun/internal/threshold"
)

var (
	// ErrThresholdAbort is the cancellation cause of runs stopped by a
	// violated threshold.
	ErrThresholdAbort = errors.New("threshold violated, run aborted")
	ErrAlreadyStarted = errors.New("run already started")
)

// Controller drives one run through PENDING -> RUNNING -> COMPLETED|ABORTED.
type Controller struct {
	id        string
	profile   profile.RunProfile
	recorder  *stats.Recorder
	evaluator *threshold.Evaluator
	scheduler *runner.Scheduler
	log       zerolog.Logger

	state     int32
	mu        sync.Mutex
	startedAt time.Time
}

type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithRecorder replaces the default recorder, e.g. to share it with an
// exporter created before the run.
func WithRecorder(r *stats.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// New prepares a run of p. p is copied; later changes to it have no effect.
func New(p *profile.RunProfile, opts ...Option) *Controller {
	c := &Controller{
		id:      uuid.New().String(),
		profile: p.WithDefaults(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.recorder == nil {
		c.recorder = stats.NewRecorder(0)
	}
	c.log = c.log.With().Str("run", c.id).Logger()
	c.evaluator = threshold.NewEvaluator(c.profile.Thresholds, c.profile.AbortOnViolation, c.log)
	c.scheduler = runner.NewScheduler(&c.profile, c.recorder, c.log)
	return c
}

// ID is the unique id of this run.
func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State { return State(atomic.LoadInt32(&c.state)) }

// Run validates the profile and executes the run. A ConfigurationError is
// returned without leaving PENDING. Otherwise the run ends COMPLETED, or
// ABORTED when a threshold requested it or ctx was cancelled, and the Report
// is returned with a nil error.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	if err := c.profile.Validate(); err != nil {
		c.log.Error().Err(err).Msg("invalid run profile")
		return nil, err
	}
	if !atomic.CompareAndSwapInt32(&c.state, int32(Pending), int32(Running)) {
		return nil, ErrAlreadyStarted
	}

	started := time.Now()
	c.mu.Lock()
	c.startedAt = started
	c.mu.Unlock()
	c.log.Info().
		Dur("planned", c.profile.Stages.Total()).
		Int("thresholds", len(c.profile.Thresholds)).
		Bool("abort_on_violation", c.profile.AbortOnViolation).
		Msg("run started")

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	evalCtx, stopEval := context.WithCancel(runCtx)
	defer stopEval()

	var g errgroup.Group
	g.Go(func() error {
		c.evaluator.Run(evalCtx, c.profile.EvalInterval, c.recorder.Snapshot, func() {
			cancel(ErrThresholdAbort)
		})
		return nil
	})
	g.Go(func() error {
		defer stopEval()
		return c.scheduler.Run(runCtx)
	})
	runErr := g.Wait()

	ended := time.Now()
	snap := c.recorder.Snapshot()
	c.evaluator.Final(snap, ended)

	final := Completed
	if runErr != nil {
		final = Aborted
	}
	atomic.StoreInt32(&c.state, int32(final))

	r := &Report{
		RunID:      c.id,
		State:      final,
		StartedAt:  started,
		EndedAt:    ended,
		Planned:    c.profile.Stages.Total(),
		Stages:     c.profile.Stages,
		Snapshot:   snap,
		Iterations: c.scheduler.Iterations(),
		PeakVUs:    c.scheduler.Peak(),
		Abandoned:  c.scheduler.Abandoned(),
		Thresholds: c.evaluator.Results(),
		Violated:   c.evaluator.Violated(),
	}
	if runErr != nil {
		r.Reason = runErr.Error()
	}

	ev := c.log.Info()
	if !r.Passed() {
		ev = c.log.Warn()
	}
	ev.Str("state", final.String()).
		Uint64("outcomes", snap.Count).
		Float64("error_rate", snap.ErrorRate).
		Strs("violated", r.Violated).
		Msg("run finished")
	return r, nil
}

// Status is a live view of a run for progress displays.
type Status struct {
	State     State
	Elapsed   time.Duration
	Planned   time.Duration
	ActiveVUs int
	Snapshot  stats.Snapshot
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	started := c.startedAt
	c.mu.Unlock()

	st := Status{
		State:     c.State(),
		Planned:   c.profile.Stages.Total(),
		ActiveVUs: c.scheduler.Active(),
		Snapshot:  c.recorder.Snapshot(),
	}
	if !started.IsZero() {
		st.Elapsed = time.Since(started)
	}
	return st
}

// ActiveVUs is the number of running virtual users.
func (c *Controller) ActiveVUs() int { return c.scheduler.Active() }

// Snapshot returns the current metric aggregate.
func (c *Controller) Snapshot() stats.Snapshot { return c.recorder.Snapshot() }
