// Package report renders a finished run as a JSON document and as a
// console summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stagerun/internal/controller"
	"stagerun/internal/stats"
	"stagerun/internal/threshold"
)

// Latency holds latency aggregates in milliseconds.
type Latency struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Med float64 `json:"med"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// Stage is a ramp step with its duration in seconds.
type Stage struct {
	Duration float64 `json:"duration_s"`
	Target   int     `json:"target"`
}

// Document is the serialized form of a controller.Report.
type Document struct {
	RunID     string           `json:"run_id"`
	State     controller.State `json:"state"`
	Reason    string           `json:"reason,omitempty"`
	Passed    bool             `json:"passed"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Duration  float64          `json:"duration_s"`
	Planned   float64          `json:"planned_s"`
	Stages    []Stage          `json:"stages"`

	Requests        uint64  `json:"requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	RequestFailRate float64 `json:"request_fail_rate"`
	RPS             float64 `json:"rps"`

	// Outcomes and Failures count check results, one per check per request.
	Outcomes  uint64  `json:"outcomes"`
	Failures  uint64  `json:"failures"`
	ErrorRate float64 `json:"error_rate"`

	Iterations int64 `json:"iterations"`
	PeakVUs    int   `json:"peak_vus"`
	Abandoned  int   `json:"abandoned_vus"`

	Latency    Latency                      `json:"latency_ms"`
	Checks     map[string]stats.CheckCounts `json:"checks"`
	Thresholds []threshold.Result           `json:"thresholds"`
	Violated   []string                     `json:"violated"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FromReport converts r into a Document. Slices and maps are never nil so
// the JSON form always carries every key.
func FromReport(r *controller.Report) Document {
	snap := r.Snapshot
	d := Document{
		RunID:           r.RunID,
		State:           r.State,
		Reason:          r.Reason,
		Passed:          r.Passed(),
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		Duration:        r.Duration().Seconds(),
		Planned:         r.Planned.Seconds(),
		Stages:          make([]Stage, 0, len(r.Stages)),
		Requests:        snap.Requests,
		FailedRequests:  snap.RequestFailures,
		RequestFailRate: snap.RequestFailRate,
		RPS:             r.RPS(),
		Outcomes:        snap.Count,
		Failures:        snap.Failures,
		ErrorRate:       snap.ErrorRate,
		Iterations:      r.Iterations,
		PeakVUs:         r.PeakVUs,
		Abandoned:       r.Abandoned,
		Latency: Latency{
			Min: ms(snap.Latency.Min),
			Avg: ms(snap.Latency.Mean),
			Med: ms(snap.Latency.P50),
			P90: ms(snap.Latency.P90),
			P95: ms(snap.Latency.P95),
			P99: ms(snap.Latency.P99),
			Max: ms(snap.Latency.Max),
		},
		Checks:     make(map[string]stats.CheckCounts, len(snap.Checks)),
		Thresholds: append([]threshold.Result{}, r.Thresholds...),
		Violated:   append([]string{}, r.Violated...),
	}
	for _, s := range r.Stages {
		d.Stages = append(d.Stages, Stage{Duration: s.Duration.Seconds(), Target: s.Target})
	}
	for label, c := range snap.Checks {
		d.Checks[label] = c
	}
	return d
}

// JSON returns the indented encoding of d.
func (d Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Write stores d as indented JSON at path, creating parent directories.
func (d Document) Write(path string) error {
	data, err := d.JSON()
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Read loads a Document previously written with Write.
func Read(path string) (Document, error) {
	var d Document
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return d, nil
}
