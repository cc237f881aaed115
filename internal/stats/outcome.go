package stats

import "time"

// Outcome is the result of one check within one iteration. It is created
// once by a virtual user and never mutated afterwards.
type Outcome struct {
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
	Label     string

	// Request marks the one Outcome of an iteration that stands for its HTTP
	// request, so requests are counted once however many checks ran.
	// RequestFailed is only meaningful on that Outcome.
	Request       bool
	RequestFailed bool

	// VU is the id of the producing virtual user, used to pick a shard.
	VU int
}
