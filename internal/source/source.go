// Package source implements the pluggable fetch side of the ETL pipeline:
// one fetcher variant per provider kind, each producing a lazy sequence of
// raw record batches.
package source

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/fetcher"
)

// RawRecord is one untyped provider record: provider-native field names
// mapped to scalar or nested values, plus batch metadata fields such as
// _layer_id for geometry sources.
type RawRecord map[string]any

// Batches is a lazy, finite, single-pass sequence of record pages. Each
// call to Fetch rebuilds the sequence from page one; a transport failure
// surfaces as the final yielded error.
type Batches = iter.Seq2[[]RawRecord, error]

// Source is one configured data source ready to fetch.
type Source interface {
	Fetch(ctx context.Context) Batches
}

// Policy is the crawl policy applied to a source's transport session.
type Policy struct {
	PageSize     int
	MaxPages     int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff float64
	Delay        time.Duration
}

// PolicyFromConfig builds a Policy from the global crawler defaults.
func PolicyFromConfig(cfg config.CrawlerConfig) Policy {
	return Policy{
		PageSize:     cfg.PageSize,
		MaxPages:     cfg.MaxPages,
		Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Delay:        time.Duration(cfg.RateLimitSecs * float64(time.Second)),
	}
}

// client builds the reusable transport session for one source run.
func (p Policy) client() *fetcher.Client {
	return fetcher.New(fetcher.Options{
		Timeout:    p.Timeout,
		MaxRetries: p.MaxRetries,
		Backoff:    p.RetryBackoff,
		Delay:      p.Delay,
	})
}

// Constructor builds a Source for one descriptor under one crawl policy.
type Constructor func(src *config.Source, policy Policy) Source

// Registry maps provider kind strings to constructors. It is built once at
// startup and passed to whatever resolves a kind; there is no ambient
// global registry.
type Registry struct {
	constructors map[string]Constructor
	order        []string
}

// NewRegistry returns a registry populated with every provider kind.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("socrata", NewSocrata)
	r.Register("arcgis", NewArcGIS)
	r.Register("csv", NewCSVFile)
	r.Register("shapefile", NewShapefile)
	r.Register("pdf", NewPDFStub)
	return r
}

// Register adds a provider kind. Adding a kind is an additive change.
func (r *Registry) Register(kind string, ctor Constructor) {
	if _, exists := r.constructors[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.constructors[kind] = ctor
}

// New resolves the descriptor's provider kind and builds the source.
// An unknown kind is a configuration error, raised before any I/O.
func (r *Registry) New(src *config.Source, policy Policy) (Source, error) {
	ctor, ok := r.constructors[src.SourceType]
	if !ok {
		return nil, eris.Errorf("source: unknown source_type %q for %s (valid: %v)",
			src.SourceType, src.ID, r.Kinds())
	}
	return ctor(src, policy), nil
}

// Kinds returns all registered provider kinds in registration order.
func (r *Registry) Kinds() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// sortedKeys returns map keys in deterministic order; used when turning
// filter maps into query parameters.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
