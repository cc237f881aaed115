package controller

import (
	"time"

	"stagerun/internal/profile"
	"stagerun/internal/stats"
	"stagerun/internal/threshold"
)

// Report is the final result of a run.
type Report struct {
	RunID     string
	State     State
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
	Planned   time.Duration
	Stages    profile.Stages

	Snapshot   stats.Snapshot
	Iterations int64
	PeakVUs    int
	Abandoned  int

	Thresholds []threshold.Result
	Violated   []string
}

func (r *Report) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// RPS is the average request rate over the whole run.
func (r *Report) RPS() float64 {
	d := r.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(r.Snapshot.Requests) / d
}

// Passed is true for a completed run without threshold violations.
func (r *Report) Passed() bool {
	return r.State == Completed && len(r.Violated) == 0
}
