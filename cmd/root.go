package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "parcl-crawler",
	Short: "Parcel-anchored public records crawler",
	Long:  "Ingests permits, zoning, parcels, and environmental data from city and county open-data portals into a queryable relational store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore connects to the configured backend.
func openStore(ctx context.Context) (store.DB, error) {
	return store.Open(ctx, cfg.Store)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
