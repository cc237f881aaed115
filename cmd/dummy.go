package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stagerun/internal/dummy"
)

func newDummyCmd(a *app) *cobra.Command {
	dummyCmd := &cobra.Command{
		Use:   "dummy",
		Short: "Run internal dummy server",
		Long:  "Serves /fast, /medium, /slow, /spike, /error and /users/{offset}/{limit} as a local target.",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := dummy.Start(ctx, dummy.ServerConfig{Port: port}, a.log); err != nil {
				a.exitCode = 1
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	return dummyCmd
}
