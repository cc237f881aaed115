package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stagerun/internal/cli"
	"stagerun/internal/storage"
)

func newRunCmd(a *app) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Execute a run configuration",
		Example: `  stagerun run users.yaml
  stagerun run users.yaml --out report.json --quiet
  stagerun run users.yaml --metrics-addr :9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			history := a.v.GetString("history")
			if !cmd.Flags().Changed("history") && !a.v.IsSet("history") {
				if p, err := storage.DefaultPath(); err == nil {
					history = p
				}
			}
			if history == "none" {
				history = ""
			}

			a.exitCode = cli.Run(ctx, cli.Options{
				ConfigPath:  args[0],
				Out:         a.v.GetString("out"),
				Quiet:       a.v.GetBool("quiet"),
				MetricsAddr: a.v.GetString("metrics_addr"),
				HistoryPath: history,
				Stdout:      cmd.OutOrStdout(),
				Log:         a.log,
			})
			return nil
		},
	}

	runCmd.Flags().StringP("out", "o", "", "write the JSON report to this file")
	runCmd.Flags().BoolP("quiet", "q", false, "no progress or summary, warnings only")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	runCmd.Flags().String("history", "", `run history database (default is $HOME/.stagerun/history.db, "none" disables)`)

	cobra.CheckErr(bindFlags(a.v, runCmd.Flags(), "out", "quiet", "metrics-addr", "history"))
	return runCmd
}
