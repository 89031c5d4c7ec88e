package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parcl-data/parcl-crawler/internal/export"
)

var (
	exportFormat string
	exportDir    string
	exportTable  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export target tables to CSV, JSONL, or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		outDir := exportDir
		if outDir == "" {
			outDir = cfg.Export.OutputDir
		}

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		if exportTable != "" {
			path, err := export.Table(ctx, db, exportTable, format, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Exported to: %s\n", path)
			return nil
		}

		paths, err := export.All(ctx, db, format, outDir)
		if err != nil {
			return err
		}
		for _, path := range paths {
			fmt.Fprintf(out, "Exported to: %s\n", path)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format (csv, jsonl, xlsx)")
	exportCmd.Flags().StringVarP(&exportDir, "output-dir", "o", "", "output directory (default from config)")
	exportCmd.Flags().StringVar(&exportTable, "table", "", "export a single table (default all)")
	rootCmd.AddCommand(exportCmd)
}
