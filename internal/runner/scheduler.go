// Package runner drives virtual users: the scheduler converges the live
// population on the profile's ramp plan, and each virtual user loops over
// the script until it is told to stop.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stagerun/internal/profile"
)

// lateTicks is how many tick intervals a tick may be late before it is
// reported as a scheduling error.
const lateTicks = 5

type handle struct {
	vu   *VirtualUser
	stop chan struct{}
	once sync.Once
}

func (h *handle) signalStop() {
	h.once.Do(func() { close(h.stop) })
}

// Scheduler spawns and retires virtual users so the live population follows
// the profile's stages.
type Scheduler struct {
	profile  *profile.RunProfile
	recorder Recorder
	log      zerolog.Logger

	mu      sync.Mutex
	live    []*handle
	nextID  int
	stopped bool

	wg         sync.WaitGroup
	running    int64
	peak       int64
	iterations int64
	abandoned  int64
	lateTicks  int64
}

// NewScheduler returns a scheduler for p. p must already be validated and
// have its defaults applied.
func NewScheduler(p *profile.RunProfile, rec Recorder, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		profile:  p,
		recorder: rec,
		log:      log,
	}
}

// Active is the number of virtual user goroutines currently running.
func (s *Scheduler) Active() int { return int(atomic.LoadInt64(&s.running)) }

// Peak is the highest Active value seen so far.
func (s *Scheduler) Peak() int { return int(atomic.LoadInt64(&s.peak)) }

// Iterations is the number of iterations completed by users that have exited.
func (s *Scheduler) Iterations() int64 { return atomic.LoadInt64(&s.iterations) }

// Abandoned is the number of users still running when an abort gave up
// waiting for them.
func (s *Scheduler) Abandoned() int { return int(atomic.LoadInt64(&s.abandoned)) }

// LateTicks counts ticks that fell more than lateTicks intervals behind.
func (s *Scheduler) LateTicks() int { return int(atomic.LoadInt64(&s.lateTicks)) }

// Run executes the ramp plan. It returns nil once every stage has elapsed
// and all users have drained, or the cancellation cause of ctx when the run
// was aborted.
//
// On abort every user is cancelled at once, in-flight requests included,
// and Run waits at most ShutdownGrace before abandoning the rest.
func (s *Scheduler) Run(ctx context.Context) error {
	p := s.profile
	start := time.Now()

	// Users get their own context so a graceful finish does not cut
	// in-flight requests, while an abort still can through hardStop.
	vuCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	ticker := time.NewTicker(p.TickInterval)
	defer ticker.Stop()
	end := time.NewTimer(p.Stages.Total())
	defer end.Stop()

	s.log.Info().
		Int("stages", len(p.Stages)).
		Dur("duration", p.Stages.Total()).
		Int("max_vus", p.Stages.MaxTarget(p.StartUsers)).
		Msg("scheduler starting")

	s.reconcile(vuCtx, 0)
	last := start
	for {
		select {
		case <-ctx.Done():
			return s.abort(ctx, hardStop)
		case <-end.C:
			return s.finish(ctx, hardStop)
		case <-ticker.C:
			now := time.Now()
			if lag := now.Sub(last); lag > lateTicks*p.TickInterval {
				atomic.AddInt64(&s.lateTicks, 1)
				s.log.Warn().Dur("lag", lag).Dur("tick", p.TickInterval).Msg("scheduler tick fell behind")
			}
			last = now
			s.reconcile(vuCtx, now.Sub(start))
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context, elapsed time.Duration) {
	desired := s.profile.DesiredAt(elapsed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	before := len(s.live)
	for len(s.live) < desired {
		s.spawn(ctx)
	}
	for len(s.live) > desired {
		// Most recently started users retire first.
		h := s.live[len(s.live)-1]
		s.live[len(s.live)-1] = nil
		s.live = s.live[:len(s.live)-1]
		h.signalStop()
	}
	if before != desired {
		s.log.Debug().Int("from", before).Int("to", desired).Dur("elapsed", elapsed).Msg("population adjusted")
	}
}

// spawn must be called with s.mu held.
func (s *Scheduler) spawn(ctx context.Context) {
	id := s.nextID
	s.nextID++

	h := &handle{
		vu:   NewVirtualUser(id, s.profile, s.recorder, s.log),
		stop: make(chan struct{}),
	}
	s.live = append(s.live, h)

	s.wg.Add(1)
	n := atomic.AddInt64(&s.running, 1)
	for {
		peak := atomic.LoadInt64(&s.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&s.peak, peak, n) {
			break
		}
	}

	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.running, -1)
		h.vu.Run(ctx, h.stop)
		atomic.AddInt64(&s.iterations, h.vu.Iterations())
	}()
}

// stopAll prevents further spawns and gracefully stops every live user.
func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, h := range s.live {
		h.signalStop()
	}
	s.live = nil
}

func (s *Scheduler) finish(ctx context.Context, hardStop context.CancelFunc) error {
	s.stopAll()
	s.log.Info().Int("active", s.Active()).Msg("stages complete, draining users")

	if s.wait(ctx.Done(), s.profile.GracefulStop) {
		return nil
	}
	if ctx.Err() != nil {
		return s.abort(ctx, hardStop)
	}

	s.log.Warn().Int("active", s.Active()).Dur("graceful_stop", s.profile.GracefulStop).
		Msg("graceful stop expired, interrupting remaining iterations")
	hardStop()
	if !s.wait(nil, s.profile.ShutdownGrace) {
		atomic.StoreInt64(&s.abandoned, int64(s.Active()))
	}
	return nil
}

func (s *Scheduler) abort(ctx context.Context, hardStop context.CancelFunc) error {
	s.stopAll()
	hardStop()
	s.log.Warn().Err(context.Cause(ctx)).Int("active", s.Active()).Msg("run aborted, stopping users")

	if !s.wait(nil, s.profile.ShutdownGrace) {
		n := s.Active()
		atomic.StoreInt64(&s.abandoned, int64(n))
		s.log.Error().Int("abandoned", n).Dur("grace", s.profile.ShutdownGrace).
			Msg("users did not stop within shutdown grace period")
	}
	return context.Cause(ctx)
}

// wait blocks until all users exited (true), the timeout passed or cancel
// was closed (false).
func (s *Scheduler) wait(cancel <-chan struct{}, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-cancel:
		return false
	case <-timer.C:
		return false
	}
}
