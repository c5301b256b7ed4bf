package commands

import (
	"fmt"
	"time"

	"github.com/awsnare/awsnare/pkg/engine/history"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent detection runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		path := s.Detection.HistoryDB
		if path == "" {
			if path, err = history.GetLedgerPath(); err != nil {
				return err
			}
		}
		backend, err := history.OpenBolt(path)
		if err != nil {
			return err
		}
		ledger := history.NewClient(backend)
		defer ledger.Close()

		runs, err := ledger.LoadWindow(historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		fmt.Fprintf(out, "%-20s %-5s %-23s %6s %8s %5s  %s\n", "STARTED", "MODE", "WINDOW", "FILES", "RECORDS", "HITS", "ARTIFACT")
		for _, r := range runs {
			line := fmt.Sprintf("%-20s %-5s %-23s %6d %8d %5d  %s",
				r.StartedAt.Local().Format(time.DateTime), r.Mode, orDash(r.Window),
				r.Files, r.Records, r.Hits, orDash(r.Artifact))
			switch {
			case r.Partial:
				line = warnStyle.Render(line)
			case r.Hits > 0:
				line = hitStyle.Render(line)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
}
