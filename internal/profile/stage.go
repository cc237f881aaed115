package profile

import (
	"math"
	"time"
)

// Stage ramps concurrency linearly to Target over Duration. A zero Duration
// jumps to Target immediately.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// Stages is an ordered ramp plan.
type Stages []Stage

// Total is the summed duration of all stages.
func (ss Stages) Total() time.Duration {
	var total time.Duration
	for _, s := range ss {
		total += s.Duration
	}
	return total
}

// Validate checks the structural invariants of a stage list.
func (ss Stages) Validate() error {
	if len(ss) == 0 {
		return &ConfigurationError{Field: "stages", Reason: "at least one stage has to be specified"}
	}
	for i, s := range ss {
		if s.Duration < 0 {
			return &ConfigurationError{Field: fieldIndex("stages", i) + ".duration", Reason: "must not be negative"}
		}
		if s.Target < 0 {
			return &ConfigurationError{Field: fieldIndex("stages", i) + ".target", Reason: "must not be negative"}
		}
	}
	if ss.Total() <= 0 {
		return &ConfigurationError{Field: "stages", Reason: "total duration must be greater than 0"}
	}
	return nil
}

// DesiredAt interpolates the concurrency at elapsed time t, ramping from
// start towards each stage's target across that stage. The result is rounded
// to the nearest whole user.
func (ss Stages) DesiredAt(start int, t time.Duration) int {
	from := float64(start)
	var stageStart time.Duration
	for _, s := range ss {
		end := stageStart + s.Duration
		if t < end {
			// s.Duration > 0 here, as t >= stageStart.
			progress := float64(t-stageStart) / float64(s.Duration)
			return int(math.Round(from + (float64(s.Target)-from)*progress))
		}
		from = float64(s.Target)
		stageStart = end
	}
	return int(from)
}

// MaxTarget is the highest concurrency the plan reaches.
func (ss Stages) MaxTarget(start int) int {
	max := start
	for _, s := range ss {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}
