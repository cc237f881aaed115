// Package cli runs a configuration file headlessly: live progress, console
// summary, JSON report, run history and exit code.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/rs/zerolog"

	"stagerun/internal/banner"
	"stagerun/internal/config"
	"stagerun/internal/controller"
	"stagerun/internal/profile"
	"stagerun/internal/report"
	"stagerun/internal/storage"
	"stagerun/internal/styles"
	"stagerun/internal/telemetry"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitViolation = 1
	ExitConfig    = 2
)

const defaultProgressInterval = 200 * time.Millisecond

// Options configures one headless run.
type Options struct {
	ConfigPath  string
	Out         string // JSON report path, empty for none
	Quiet       bool
	MetricsAddr string // Prometheus listen address, empty for none
	HistoryPath string // bbolt history database, empty for none

	Stdout           io.Writer
	Log              zerolog.Logger
	ProgressInterval time.Duration
}

// Run executes the run described by opts.ConfigPath and returns the process
// exit code. Cancelling ctx aborts the run; the report is still produced.
func Run(ctx context.Context, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	log := opts.Log

	p, err := config.Load(opts.ConfigPath, log)
	if err != nil {
		log.Error().Err(err).Str("config", opts.ConfigPath).Msg("invalid configuration")
		return ExitConfig
	}

	ctrl := controller.New(p, controller.WithLogger(log))
	if !opts.Quiet {
		printHeader(opts.Stdout, opts.ConfigPath, ctrl.ID(), p)
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if opts.MetricsAddr != "" {
		reg, err := telemetry.NewRegistry(ctrl, ctrl.ID())
		if err == nil {
			_, err = telemetry.Serve(metricsCtx, opts.MetricsAddr, reg, log)
		}
		if err != nil {
			log.Error().Err(err).Str("addr", opts.MetricsAddr).Msg("cannot serve metrics")
			return ExitConfig
		}
	}

	type result struct {
		r   *controller.Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := ctrl.Run(ctx)
		done <- result{r, err}
	}()

	var res result
	if opts.Quiet {
		res = <-done
	} else {
		res = monitor(opts.Stdout, ctrl, p, opts.ProgressInterval, func() (result, bool) {
			select {
			case res := <-done:
				return res, true
			default:
				return result{}, false
			}
		})
	}

	if res.err != nil {
		log.Error().Err(res.err).Msg("run failed")
		if profile.IsConfigurationError(res.err) {
			return ExitConfig
		}
		return ExitViolation
	}

	doc := report.FromReport(res.r)
	if !opts.Quiet {
		report.PrintSummary(opts.Stdout, doc)
	}
	handleReport(opts, doc, log)

	if doc.Passed {
		return ExitOK
	}
	return ExitViolation
}

// monitor redraws the progress line until poll reports the run finished.
func monitor[T any](w io.Writer, ctrl *controller.Controller, p *profile.RunProfile, interval time.Duration, poll func() (T, bool)) T {
	bar := progress.New(
		progress.WithGradient("#7D56F4", "#04B575"),
		progress.WithWidth(20),
		progress.WithoutPercentage(),
	)
	vus := newSparkline(12, styles.Active)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if res, ok := poll(); ok {
			fmt.Fprintln(w)
			return res
		}
		<-ticker.C
		st := ctrl.Status()
		vus.add(st.ActiveVUs)
		fmt.Fprint(w, "\r"+progressLine(bar, vus, st, p))
	}
}

func progressLine(bar progress.Model, vus *sparkline, st controller.Status, p *profile.RunProfile) string {
	pct := 0.0
	if st.Planned > 0 {
		pct = float64(st.Elapsed) / float64(st.Planned)
	}
	if pct > 1.0 {
		pct = 1.0
	}

	phase := stageLabel(p, st.Elapsed)
	if st.Elapsed >= st.Planned {
		phase = "Draining"
	}

	rps := 0.0
	if st.Elapsed > 0 {
		rps = float64(st.Snapshot.Requests) / st.Elapsed.Seconds()
	}

	return fmt.Sprintf("%s %3.0f%% | %s/%s | %-12s | VUs: %3d %s | RPS: %.1f | OK: %d | Err: %d   ",
		bar.ViewAs(pct), pct*100,
		st.Elapsed.Round(time.Second), st.Planned,
		phase,
		st.ActiveVUs, vus.view(),
		rps,
		st.Snapshot.Requests-st.Snapshot.RequestFailures,
		st.Snapshot.RequestFailures,
	)
}

// stageLabel names the stage running at elapsed time t.
func stageLabel(p *profile.RunProfile, t time.Duration) string {
	var end time.Duration
	for i, s := range p.Stages {
		end += s.Duration
		if t < end {
			return fmt.Sprintf("Stage %d/%d", i+1, len(p.Stages))
		}
	}
	return fmt.Sprintf("Stage %d/%d", len(p.Stages), len(p.Stages))
}

func printHeader(w io.Writer, path, runID string, p *profile.RunProfile) {
	fmt.Fprint(w, banner.GetString())
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Config     : %s\n", path)
	fmt.Fprintf(w, "Run ID     : %s\n", runID)
	fmt.Fprintf(w, "Stages     : %d (peak %d VUs, start %d)\n", len(p.Stages), p.Stages.MaxTarget(p.StartUsers), p.StartUsers)
	fmt.Fprintf(w, "Duration   : %s\n", p.Stages.Total())
	fmt.Fprintf(w, "Pacing     : %s\n", p.Pacing)
	for _, t := range p.Thresholds {
		fmt.Fprintf(w, "Threshold  : %s\n", t.Expr)
	}
	fmt.Fprintf(w, "======================================================================\n\n")
}

// handleReport writes the JSON report and the history entry. Failures here
// are logged and do not change the exit code.
func handleReport(opts Options, doc report.Document, log zerolog.Logger) {
	if opts.Out != "" {
		if err := doc.Write(opts.Out); err != nil {
			log.Error().Err(err).Str("path", opts.Out).Msg("cannot write report")
		} else {
			log.Info().Str("path", opts.Out).Msg("report saved")
		}
	}

	if opts.HistoryPath != "" {
		if err := saveHistory(opts.HistoryPath, opts.ConfigPath, doc); err != nil {
			log.Error().Err(err).Str("path", opts.HistoryPath).Msg("cannot save run history")
		}
	}
}

func saveHistory(path, configPath string, doc report.Document) error {
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(storage.NewHistoryItem(configPath, doc))
}
