// Package threshold parses SLO expressions and evaluates them against metric
// snapshots.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"stagerun/internal/stats"
)

// Metric selects the aggregate a Spec compares.
type Metric int

const (
	ErrorRate Metric = iota
	SuccessRate
	Count
	LatencyAvg
	LatencyMin
	LatencyMax
	LatencyMed
	LatencyPercentile
	RequestFailRate
	RequestCount
)

func (m Metric) String() string {
	switch m {
	case ErrorRate:
		return "error_rate"
	case SuccessRate:
		return "check_rate"
	case Count:
		return "count"
	case LatencyAvg:
		return "avg"
	case LatencyMin:
		return "min"
	case LatencyMax:
		return "max"
	case LatencyMed:
		return "med"
	case LatencyPercentile:
		return "p"
	case RequestFailRate:
		return "req_failed_rate"
	case RequestCount:
		return "requests"
	default:
		return "unknown"
	}
}

// Op is a comparison operator.
type Op string

const (
	Less         Op = "<"
	LessEqual    Op = "<="
	Greater      Op = ">"
	GreaterEqual Op = ">="
	Equal        Op = "=="
	NotEqual     Op = "!="
)

// Spec is a parsed threshold expression. Latency limits are in milliseconds.
type Spec struct {
	Expr       string
	Metric     Metric
	Percentile float64
	Op         Op
	Limit      float64
}

var exprRe = regexp.MustCompile(
	`^\s*(?:([a-z_]+)\s+)?([a-z_]+(?:\(\s*[0-9]+(?:\.[0-9]+)?\s*\))?)\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)\s*$`)

var percentileRe = regexp.MustCompile(`^p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)$`)

// Parse turns an expression of the form "[metric] aggregation op value" into
// a Spec. Accepted forms include "error_rate < 0.01", "http_req_failed
// rate<0.01", "http_req_duration p(95)<200" and "p(99) <= 350".
func Parse(expr string) (Spec, error) {
	m := exprRe.FindStringSubmatch(expr)
	if m == nil {
		return Spec{}, fmt.Errorf("threshold %q: expected \"[metric] aggregation op value\"", expr)
	}
	name, agg, op, raw := m[1], m[2], Op(m[3]), m[4]

	limit, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Spec{}, fmt.Errorf("threshold %q: bad limit: %w", expr, err)
	}

	spec := Spec{Expr: strings.TrimSpace(expr), Op: op, Limit: limit}
	if err := spec.resolve(name, agg); err != nil {
		return Spec{}, fmt.Errorf("threshold %q: %w", expr, err)
	}
	return spec, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static tables.
func MustParse(expr string) Spec {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Spec) resolve(name, agg string) error {
	switch name {
	case "":
		switch agg {
		case "error_rate":
			s.Metric = ErrorRate
			return nil
		case "check_rate":
			s.Metric = SuccessRate
			return nil
		case "count":
			s.Metric = Count
			return nil
		case "req_failed_rate":
			s.Metric = RequestFailRate
			return nil
		case "requests":
			s.Metric = RequestCount
			return nil
		}
		return s.resolveLatency(agg)
	case "http_req_failed":
		if agg == "rate" {
			s.Metric = RequestFailRate
			return nil
		}
	case "checks":
		if agg == "rate" {
			s.Metric = SuccessRate
			return nil
		}
	case "http_reqs":
		if agg == "count" {
			s.Metric = RequestCount
			return nil
		}
	case "http_req_duration", "latency":
		return s.resolveLatency(agg)
	default:
		return fmt.Errorf("unknown metric %q", name)
	}
	return fmt.Errorf("aggregation %q not supported for %s", agg, name)
}

func (s *Spec) resolveLatency(agg string) error {
	switch agg {
	case "avg":
		s.Metric = LatencyAvg
	case "min":
		s.Metric = LatencyMin
	case "max":
		s.Metric = LatencyMax
	case "med":
		s.Metric = LatencyMed
	default:
		pm := percentileRe.FindStringSubmatch(agg)
		if pm == nil {
			return fmt.Errorf("unknown aggregation %q", agg)
		}
		p, err := strconv.ParseFloat(pm[1], 64)
		if err != nil || p <= 0 || p > 100 {
			return fmt.Errorf("percentile %q out of range (0, 100]", pm[1])
		}
		s.Metric = LatencyPercentile
		s.Percentile = p
	}
	return nil
}

// Observe extracts the value this Spec compares from a snapshot.
func (s Spec) Observe(snap stats.Snapshot) float64 {
	switch s.Metric {
	case ErrorRate:
		return snap.ErrorRate
	case SuccessRate:
		return snap.SuccessRate()
	case Count:
		return float64(snap.Count)
	case LatencyAvg:
		return ms(snap.Latency.Mean)
	case LatencyMin:
		return ms(snap.Latency.Min)
	case LatencyMax:
		return ms(snap.Latency.Max)
	case LatencyMed:
		return ms(snap.Latency.P50)
	case LatencyPercentile:
		return ms(snap.Quantile(s.Percentile))
	case RequestFailRate:
		return snap.RequestFailRate
	case RequestCount:
		return float64(snap.Requests)
	}
	return 0
}

// Deferred reports whether the Spec can only be judged on the final
// snapshot. A lower bound on a count is missed by every early sample, and a
// violation never heals.
func (s Spec) Deferred() bool {
	return s.counter() && (s.Op == Greater || s.Op == GreaterEqual || s.Op == Equal)
}

// Sampled reports whether snap holds any data for the Spec's metric. An empty
// snapshot reads as a zero rate and a zero latency, which would fail lower
// bounds such as "checks rate > 0.95" before anything ran.
func (s Spec) Sampled(snap stats.Snapshot) bool {
	switch {
	case s.counter():
		return true
	case s.Metric == RequestFailRate:
		return snap.Requests > 0
	default:
		return snap.Count > 0
	}
}

func (s Spec) counter() bool {
	return s.Metric == Count || s.Metric == RequestCount
}

// Holds reports whether v satisfies the comparison.
func (s Spec) Holds(v float64) bool {
	switch s.Op {
	case Less:
		return v < s.Limit
	case LessEqual:
		return v <= s.Limit
	case Greater:
		return v > s.Limit
	case GreaterEqual:
		return v >= s.Limit
	case Equal:
		return v == s.Limit
	case NotEqual:
		return v != s.Limit
	}
	return false
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
