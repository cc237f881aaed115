// Package profile defines the immutable description of a load test run:
// ramp stages, the per-iteration script, pacing and thresholds.
package profile

import (
	"context"
	"time"

	"stagerun/internal/stats"
	"stagerun/internal/threshold"
)

const (
	DefaultTickInterval  = time.Second
	DefaultEvalInterval  = time.Second
	DefaultGracefulStop  = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// Iteration identifies one execution of a Script.
type Iteration struct {
	VU        int
	Iteration int64
}

// Script is the work a virtual user repeats. Expected failures such as
// transport errors and non-2xx responses must be returned as failed
// Outcomes, never as panics.
type Script interface {
	Iterate(ctx context.Context, it Iteration) []stats.Outcome
}

// ScriptFunc adapts a function to the Script interface.
type ScriptFunc func(ctx context.Context, it Iteration) []stats.Outcome

func (f ScriptFunc) Iterate(ctx context.Context, it Iteration) []stats.Outcome {
	return f(ctx, it)
}

// RunProfile is everything a run needs. It is built once before the run and
// must not be modified afterwards.
type RunProfile struct {
	// StartUsers is the concurrency at t=0, the value the first stage ramps from.
	StartUsers int
	Stages     Stages
	Script     Script

	// Pacing is the delay between two iterations of the same virtual user.
	Pacing time.Duration
	// Iterations caps iterations per virtual user. 0 means unlimited.
	Iterations int64

	Thresholds       []threshold.Spec
	AbortOnViolation bool

	TickInterval time.Duration
	EvalInterval time.Duration
	// GracefulStop bounds how long users may finish their last iteration
	// once the final stage has elapsed.
	GracefulStop time.Duration
	// ShutdownGrace bounds how long an aborted run waits for users before
	// abandoning them.
	ShutdownGrace time.Duration
}

// WithDefaults returns a copy of p with zero timing fields set to defaults.
func (p RunProfile) WithDefaults() RunProfile {
	if p.TickInterval <= 0 {
		p.TickInterval = DefaultTickInterval
	}
	if p.EvalInterval <= 0 {
		p.EvalInterval = DefaultEvalInterval
	}
	if p.GracefulStop <= 0 {
		p.GracefulStop = DefaultGracefulStop
	}
	if p.ShutdownGrace <= 0 {
		p.ShutdownGrace = DefaultShutdownGrace
	}
	return p
}

// DesiredAt returns the target concurrency at elapsed time t.
func (p *RunProfile) DesiredAt(t time.Duration) int {
	return p.Stages.DesiredAt(p.StartUsers, t)
}

// Validate reports the first problem that makes p unusable.
func (p *RunProfile) Validate() error {
	if p.StartUsers < 0 {
		return &ConfigurationError{Field: "start_users", Reason: "must not be negative"}
	}
	if err := p.Stages.Validate(); err != nil {
		return err
	}
	if p.Script == nil {
		return &ConfigurationError{Field: "script", Reason: "is required"}
	}
	if p.Pacing < 0 {
		return &ConfigurationError{Field: "pacing", Reason: "must not be negative"}
	}
	if p.Iterations < 0 {
		return &ConfigurationError{Field: "iterations", Reason: "must not be negative"}
	}
	for i, t := range p.Thresholds {
		if t.Expr == "" || t.Op == "" {
			return &ConfigurationError{Field: fieldIndex("thresholds", i), Reason: "is not a parsed threshold"}
		}
	}
	return nil
}
