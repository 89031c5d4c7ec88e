package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parcl-data/parcl-crawler/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show table row counts and per-source freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		statuses, err := store.ListSourceStatus(ctx, db, time.Now())
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%-35s %-10s %-25s %-22s %-8s %s\n",
			"ID", "Type", "Table", "Last Run", "Rows", "Fresh")
		fmt.Fprintln(out, strings.Repeat("-", 110))
		for _, s := range statuses {
			lastRun := "never"
			if s.LastRunAt != nil {
				lastRun = s.LastRunAt.Format("2006-01-02 15:04:05")
			}
			rows := 0
			if s.LastRowCount != nil {
				rows = *s.LastRowCount
			}
			fmt.Fprintf(out, "%-35s %-10s %-25s %-22s %-8d %v\n",
				s.ID, s.SourceType, s.TargetTable, lastRun, rows, s.Fresh)
		}

		counts := store.TableRowCounts(ctx, db)
		fmt.Fprintf(out, "\n%-30s %s\n", "Table", "Rows")
		fmt.Fprintln(out, strings.Repeat("-", 40))
		total := 0
		for _, table := range append([]string{"sources", "jurisdictions"}, store.TargetTables...) {
			n := counts[table]
			fmt.Fprintf(out, "%-30s %d\n", table, n)
			if n > 0 {
				total += n
			}
		}
		fmt.Fprintln(out, strings.Repeat("-", 40))
		fmt.Fprintf(out, "%-30s %d\n", "Total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
