// Package telemetry exposes a live run as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"stagerun/internal/stats"
)

const namespace = "stagerun"

// Source is a running load test.
type Source interface {
	ActiveVUs() int
	Snapshot() stats.Snapshot
}

var latencyQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector reads a Source on every scrape. Values come from snapshots, so
// counters are reported as const metrics rather than incremented.
type Collector struct {
	src Source

	vus         *prometheus.Desc
	requests    *prometheus.Desc
	reqFailures *prometheus.Desc
	outcomes    *prometheus.Desc
	failures    *prometheus.Desc
	checks      *prometheus.Desc
	latency     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src Source, runID string) *Collector {
	labels := prometheus.Labels{"run_id": runID}
	return &Collector{
		src: src,
		vus: prometheus.NewDesc(namespace+"_vus",
			"Number of running virtual users.", nil, labels),
		requests: prometheus.NewDesc(namespace+"_requests_total",
			"Requests sent so far.", nil, labels),
		reqFailures: prometheus.NewDesc(namespace+"_request_failures_total",
			"Requests that failed in transport or returned a status outside 200-399.", nil, labels),
		outcomes: prometheus.NewDesc(namespace+"_outcomes_total",
			"Outcomes recorded so far.", nil, labels),
		failures: prometheus.NewDesc(namespace+"_failures_total",
			"Failed outcomes recorded so far.", nil, labels),
		checks: prometheus.NewDesc(namespace+"_checks_total",
			"Outcomes per check and result.", []string{"check", "result"}, labels),
		latency: prometheus.NewDesc(namespace+"_latency_seconds",
			"Outcome latency.", nil, labels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.vus
	ch <- c.requests
	ch <- c.reqFailures
	ch <- c.outcomes
	ch <- c.failures
	ch <- c.checks
	ch <- c.latency
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(c.src.ActiveVUs()))
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Requests))
	ch <- prometheus.MustNewConstMetric(c.reqFailures, prometheus.CounterValue, float64(snap.RequestFailures))
	ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(snap.Count))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(snap.Failures))

	for label, cc := range snap.Checks {
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(cc.Passes), label, "pass")
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(cc.Fails), label, "fail")
	}

	quantiles := make(map[float64]float64, len(latencyQuantiles))
	for _, q := range latencyQuantiles {
		quantiles[q] = snap.Quantile(q * 100).Seconds()
	}
	sum := snap.Latency.Mean.Seconds() * float64(snap.Count)
	ch <- prometheus.MustNewConstSummary(c.latency, snap.Count, sum, quantiles)
}
