package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/etl"
	"github.com/parcl-data/parcl-crawler/internal/source"
	"github.com/parcl-data/parcl-crawler/internal/store"
)

var (
	runAll   bool
	runForce bool
)

// timeNow is swapped in freshness tests.
var timeNow = time.Now

var runCmd = &cobra.Command{
	Use:   "run [source_id]",
	Short: "Run ETL for one source or all configured sources",
	Args:  cobra.MaximumNArgs(1),
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

		p := etl.NewPipeline(db, source.NewRegistry(), source.PolicyFromConfig(cfg.Crawler))

		if runAll {
			return runAllSources(cmd, p, db)
		}
		if len(args) == 0 {
			return eris.New("specify a source_id or use --all")
		}

		path := filepath.Join(cfg.Sources.Dir, args[0]+".yaml")
		if _, err := os.Stat(path); err != nil {
			return eris.Errorf("source config not found: %s", path)
		}
		src, err := config.LoadSource(path)
		if err != nil {
			return err
		}

		if !runForce && isFresh(cmd, db, src) {
			return nil
		}

		sum, err := p.RunSource(ctx, src)
		if err != nil {
			return eris.Wrapf(err, "run source %s", src.ID)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

func runAllSources(cmd *cobra.Command, p *etl.Pipeline, db store.DB) error {
	ctx := cmd.Context()

	sources, err := config.LoadAllSources(cfg.Sources.Dir)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return eris.Errorf("no source configs found in %s", cfg.Sources.Dir)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Running %d sources...\n", len(sources))
	failures := 0
	for _, src := range sources {
		if !runForce && isFresh(cmd, db, src) {
			continue
		}

		sum, err := p.RunSource(ctx, src)
		if err != nil {
			failures++
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: ERROR - %v\n", src.ID, err)
			zap.L().Error("source run failed", zap.String("source", src.ID), zap.Error(err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d records in %.2fs\n",
			src.ID, sum.LoadedRecords, sum.DurationSeconds)
	}

	if failures > 0 {
		return eris.Errorf("%d of %d sources failed", failures, len(sources))
	}
	return nil
}

func isFresh(cmd *cobra.Command, db store.DB, src *config.Source) bool {
	ctx := cmd.Context()

	lastRun, err := store.LastRun(ctx, db, src.ID)
	if err != nil {
		zap.L().Warn("freshness check failed, running anyway",
			zap.String("source", src.ID), zap.Error(err))
		return false
	}
	if !store.IsFresh(lastRun, src.RefreshCadence, timeNow()) {
		return false
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  %s: skipped (within %s cadence)\n",
		src.ID, src.RefreshCadence)
	return true
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "run all configured sources")
	runCmd.Flags().BoolVar(&runForce, "force", false, "run even if the source is within its refresh cadence")
	rootCmd.AddCommand(runCmd)
}
