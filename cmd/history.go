package cmd

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"stagerun/internal/report"
	"stagerun/internal/storage"
	"stagerun/internal/styles"
)

func newHistoryCmd(a *app) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect previous runs",
	}
	historyCmd.PersistentFlags().String("db", "", "run history database (default is $HOME/.stagerun/history.db)")

	openStore := func(cmd *cobra.Command) (*storage.Store, error) {
		path, _ := cmd.Flags().GetString("db")
		if path == "" {
			p, err := storage.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return storage.Open(path)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = 1
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			items, err := store.List()
			if err != nil {
				return err
			}
			a.exitCode = 0
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), styles.Subtle.Render("no runs recorded"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), historyTable(items))
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the summary of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exitCode = 1
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			item, err := store.Get(args[0])
			if err != nil {
				return err
			}
			a.exitCode = 0

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				data, err := item.Report.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styles.Subtle.Render("config:"), item.ConfigPath)
			report.PrintSummary(cmd.OutOrStdout(), item.Report)
			return nil
		},
	}
	showCmd.Flags().Bool("json", false, "print the stored JSON report")

	historyCmd.AddCommand(listCmd, showCmd)
	return historyCmd
}

func historyTable(items []storage.HistoryItem) string {
	columns := []table.Column{
		{Title: "Run ID", Width: 36},
		{Title: "Started", Width: 19},
		{Title: "State", Width: 9},
		{Title: "Reqs", Width: 8},
		{Title: "Err %", Width: 7},
		{Title: "P95 (ms)", Width: 9},
		{Title: "Result", Width: 6},
	}

	rows := make([]table.Row, len(items))
	for i, item := range items {
		d := item.Report
		result := "pass"
		if !d.Passed {
			result = "FAIL"
		}
		rows[i] = table.Row{
			item.ID,
			item.Timestamp.Local().Format("2006-01-02 15:04:05"),
			d.State.String(),
			fmt.Sprintf("%d", d.Requests),
			fmt.Sprintf("%.2f", d.RequestFailRate*100),
			fmt.Sprintf("%.1f", d.Latency.P95),
			result,
		}
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+2),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)

	return t.View()
}
