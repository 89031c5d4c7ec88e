package etl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/source"
	"github.com/parcl-data/parcl-crawler/internal/store"
)

// Pipeline orchestrates extract, transform, load for configured sources.
type Pipeline struct {
	db       store.DB
	registry *source.Registry
	policy   source.Policy
}

// NewPipeline builds a pipeline over an open store.
func NewPipeline(db store.DB, registry *source.Registry, policy source.Policy) *Pipeline {
	return &Pipeline{db: db, registry: registry, policy: policy}
}

// Summary reports the outcome of one source run.
type Summary struct {
	SourceID        string  `json:"source_id"`
	TargetTable     string  `json:"target_table"`
	Pages           int     `json:"pages"`
	RawRecords      int     `json:"raw_records"`
	LoadedRecords   int     `json:"loaded_records"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// RunSource runs the full pipeline for one source. Page-level load errors
// are counted and the run continues; a fetch error ends the run after the
// pages already loaded. Either way the source's freshness metadata is
// updated, so a partially failed run still records that it happened.
//
// The returned error covers setup problems only (bad descriptor, unknown
// provider kind, metadata writes); data-path failures land in the
// summary's error count.
func (p *Pipeline) RunSource(ctx context.Context, src *config.Source) (*Summary, error) {
	log := zap.L().With(
		zap.String("source", src.ID),
		zap.String("table", src.TargetTable),
	)
	start := time.Now()

	if err := src.Validate(); err != nil {
		return nil, err
	}
	if _, err := TableColumns(src.TargetTable); err != nil {
		return nil, eris.Wrapf(err, "pipeline: source %s", src.ID)
	}
	if err := store.EnsureSource(ctx, p.db, src); err != nil {
		return nil, err
	}

	fetcher, err := p.registry.New(src, p.policy)
	if err != nil {
		return nil, err
	}

	log.Info("starting etl run")

	sum := &Summary{SourceID: src.ID, TargetTable: src.TargetTable}

	for batch, err := range fetcher.Fetch(ctx) {
		if err != nil {
			sum.Errors++
			log.Error("fetch error, ending run", zap.Int("page", sum.Pages+1), zap.Error(err))
			break
		}

		sum.Pages++
		sum.RawRecords += len(batch)

		transformed, dropped := TransformBatch(batch, src)
		if dropped > 0 {
			log.Debug("dropped records missing required fields",
				zap.Int("page", sum.Pages),
				zap.Int("dropped", dropped),
			)
		}

		loaded, err := Load(ctx, p.db, src.TargetTable, transformed)
		sum.LoadedRecords += loaded
		if err != nil {
			sum.Errors++
			log.Error("load error", zap.Int("page", sum.Pages), zap.Error(err))
			continue
		}

		log.Info("page loaded",
			zap.Int("page", sum.Pages),
			zap.Int("transformed", len(transformed)),
			zap.Int("loaded", loaded),
		)
	}

	if err := store.UpdateFreshness(ctx, p.db, src.ID, time.Now(), sum.LoadedRecords); err != nil {
		return nil, err
	}

	sum.DurationSeconds = time.Since(start).Seconds()
	log.Info("etl run complete",
		zap.Int("pages", sum.Pages),
		zap.Int("raw", sum.RawRecords),
		zap.Int("loaded", sum.LoadedRecords),
		zap.Int("errors", sum.Errors),
		zap.Float64("duration_s", sum.DurationSeconds),
	)
	return sum, nil
}
