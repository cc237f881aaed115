package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"stagerun/internal/banner"
	"stagerun/internal/cli"
	"stagerun/internal/logging"
)

// app carries the state shared by one command tree.
type app struct {
	cfgFile  string
	v        *viper.Viper
	log      zerolog.Logger
	exitCode int
}

// bindFlags binds each named flag of fs to the viper key spelled with
// underscores, so "metrics-addr" is read as "metrics_addr".
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{v: viper.New(), log: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "stagerun",
		Short: "stagerun - staged load testing",
		Long: `
stagerun ramps virtual users through the stages of a run configuration,
checks every response and evaluates thresholds while the run is in progress.

A run exits 0 when it completed without threshold violations, 1 when a
threshold was violated or the run was aborted and 2 on configuration errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(); err != nil {
				return err
			}
			log, err := logging.Setup(a.v.GetString("log_level"), stderr, a.v.GetBool("quiet"))
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), banner.GetString())
		cmd.Usage()
	})

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "settings file (default is $HOME/.stagerun.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cobra.CheckErr(bindFlags(a.v, rootCmd.PersistentFlags(), "log-level"))

	rootCmd.AddCommand(newRunCmd(a), newDummyCmd(a), newHistoryCmd(a))
	return rootCmd, a
}

// initConfig reads the optional settings file. Its keys mirror the flag
// names with underscores, e.g. log_level or metrics_addr.
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(home)
			a.v.SetConfigType("yaml")
			a.v.SetConfigName(".stagerun")
		}
	}
	a.v.SetEnvPrefix("STAGERUN")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && a.cfgFile == "" {
			return nil
		}
		return fmt.Errorf("reading settings: %w", err)
	}
	return nil
}

// run executes the command tree with args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd, a := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		if a.exitCode != cli.ExitOK {
			return a.exitCode
		}
		return cli.ExitConfig
	}
	return a.exitCode
}

func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
