package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/fetcher"
)

// Socrata fetches rows from a Socrata open-data portal with offset/limit
// pagination. Configured filters pass through as SoQL parameters; multiple
// $where clauses are ANDed together.
type Socrata struct {
	src    *config.Source
	policy Policy
	client *fetcher.Client
}

// NewSocrata builds the paginated-JSON-API fetcher. An app token from
// SOCRATA_APP_TOKEN raises the anonymous throttling limits.
func NewSocrata(src *config.Source, policy Policy) Source {
	opts := fetcher.Options{
		Timeout:    policy.Timeout,
		MaxRetries: policy.MaxRetries,
		Backoff:    policy.RetryBackoff,
		Delay:      policy.Delay,
	}
	if token := os.Getenv("SOCRATA_APP_TOKEN"); token != "" {
		opts.Headers = map[string]string{"X-App-Token": token}
	}
	return &Socrata{src: src, policy: policy, client: fetcher.New(opts)}
}

func (s *Socrata) Fetch(ctx context.Context) Batches {
	log := zap.L().With(zap.String("source", s.src.ID))
	endpoint := fmt.Sprintf("%s/resource/%s.json",
		strings.TrimRight(s.src.BaseURL, "/"), s.src.DatasetID)

	return func(yield func([]RawRecord, error) bool) {
		offset := 0

		for page := 0; page < s.policy.MaxPages; page++ {
			params := url.Values{}
			params.Set("$limit", strconv.Itoa(s.policy.PageSize))
			params.Set("$offset", strconv.Itoa(offset))
			params.Set("$order", ":id")

			var whereClauses []string
			for _, key := range sortedKeys(s.src.Filters) {
				val := s.src.Filters[key]
				if key == "$where" {
					whereClauses = append(whereClauses, val)
					continue
				}
				params.Set(key, val)
			}
			if len(whereClauses) > 0 {
				params.Set("$where", strings.Join(whereClauses, " AND "))
			}

			log.Debug("fetching page",
				zap.Int("page", page+1),
				zap.Int("offset", offset),
				zap.Int("limit", s.policy.PageSize),
			)

			var records []RawRecord
			if err := s.client.GetJSON(ctx, endpoint, params, &records); err != nil {
				yield(nil, eris.Wrapf(err, "socrata: fetch page %d for %s", page+1, s.src.ID))
				return
			}

			if len(records) == 0 {
				log.Debug("no more records", zap.Int("offset", offset))
				return
			}

			if !yield(records, nil) {
				return
			}
			offset += s.policy.PageSize

			if len(records) < s.policy.PageSize {
				log.Debug("last page", zap.Int("records", len(records)))
				return
			}
		}
	}
}
