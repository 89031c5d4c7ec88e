package main

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parcl-data/parcl-crawler/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema and seed jurisdictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.InitSchema(ctx, db); err != nil {
			return eris.Wrap(err, "init schema")
		}

		fmt.Println("Database initialized successfully.")
		counts := store.TableRowCounts(ctx, db)
		tables := make([]string, 0, len(counts))
		for table := range counts {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			fmt.Printf("  %s: %d rows\n", table, counts[table])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
