package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stagerun/internal/styles"
)

// Summary renders d for a terminal.
func Summary(d Document) string {
	var b strings.Builder

	verdict := styles.Success.Render("PASSED")
	if !d.Passed {
		verdict = styles.Error.Render("FAILED")
	}
	b.WriteString(styles.Title.Render("LOAD TEST RESULTS") + "  " + verdict + "\n")

	rows := []string{
		styles.KeyValue("Run ID", d.RunID),
		styles.KeyValue("State", d.State.String()),
		styles.KeyValue("Duration", fmt.Sprintf("%s / %s planned",
			secs(d.Duration).Round(time.Second), secs(d.Planned))),
		styles.KeyValue("Requests", fmt.Sprintf("%d", d.Requests)),
		styles.KeyValue("Failed", fmt.Sprintf("%d (%.2f%%)", d.FailedRequests, d.RequestFailRate*100)),
		styles.KeyValue("Actual RPS", fmt.Sprintf("%.2f", d.RPS)),
		styles.KeyValue("Checks", fmt.Sprintf("%d, %d failed (%.2f%%)", d.Outcomes, d.Failures, d.ErrorRate*100)),
		styles.KeyValue("Iterations", fmt.Sprintf("%d", d.Iterations)),
		styles.KeyValue("Peak VUs", fmt.Sprintf("%d", d.PeakVUs)),
	}
	if d.Abandoned > 0 {
		rows = append(rows, styles.KeyValue("Abandoned VUs", styles.Warn.Render(fmt.Sprintf("%d", d.Abandoned))))
	}
	if d.Reason != "" {
		rows = append(rows, styles.KeyValue("Reason", styles.Warn.Render(d.Reason)))
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, rows...) + "\n")

	b.WriteString(styles.Section.Render("RESPONSE TIMES (ms)") + "\n")
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left,
		styles.KeyValue("   Min", fmt.Sprintf("%.2f", d.Latency.Min)),
		styles.KeyValue("   Avg", fmt.Sprintf("%.2f", d.Latency.Avg)),
		styles.KeyValue("   P50", fmt.Sprintf("%.2f", d.Latency.Med)),
		styles.KeyValue("   P90", fmt.Sprintf("%.2f", d.Latency.P90)),
		styles.KeyValue("   P95", fmt.Sprintf("%.2f", d.Latency.P95)),
		styles.KeyValue("   P99", fmt.Sprintf("%.2f", d.Latency.P99)),
		styles.KeyValue("   Max", fmt.Sprintf("%.2f", d.Latency.Max)),
	) + "\n")

	if len(d.Checks) > 0 {
		b.WriteString(styles.Section.Render("CHECKS") + "\n")
		labels := make([]string, 0, len(d.Checks))
		for l := range d.Checks {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			c := d.Checks[l]
			mark := styles.Success.Render("✓")
			if c.Fails > 0 {
				mark = styles.Error.Render("✗")
			}
			fmt.Fprintf(&b, "   %s %s %s\n", mark, styles.Text.Render(l),
				styles.Subtle.Render(fmt.Sprintf("%d passed, %d failed", c.Passes, c.Fails)))
		}
	}

	if len(d.Thresholds) > 0 {
		b.WriteString(styles.Section.Render("THRESHOLDS") + "\n")
		for _, t := range d.Thresholds {
			mark := styles.Success.Render("✓")
			if t.Violated {
				mark = styles.Error.Render("✗")
			}
			fmt.Fprintf(&b, "   %s %s %s\n", mark, styles.Text.Render(t.Expr),
				styles.Subtle.Render(fmt.Sprintf("observed %.4g", t.Observed)))
		}
	}

	return styles.Panel.Render(strings.TrimRight(b.String(), "\n"))
}

// PrintSummary writes the rendered summary of d to w.
func PrintSummary(w io.Writer, d Document) {
	fmt.Fprintf(w, "\n%s\n", Summary(d))
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
