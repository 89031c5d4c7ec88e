package source

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/fetcher"
)

// CSVFile downloads a delimited export (HTTP or FTP) to a scratch file and
// re-batches its rows into pages of the configured size. The first row is
// the header; each subsequent row becomes a header-keyed record.
type CSVFile struct {
	src    *config.Source
	policy Policy
	client *fetcher.Client
}

// NewCSVFile builds the bulk-file-download fetcher.
func NewCSVFile(src *config.Source, policy Policy) Source {
	return &CSVFile{src: src, policy: policy, client: policy.client()}
}

func (c *CSVFile) downloadURL() string {
	u := c.src.BaseURL
	if c.src.DatasetID != "" {
		u = strings.TrimRight(u, "/") + "/" + c.src.DatasetID
	}
	return u
}

func (c *CSVFile) Fetch(ctx context.Context) Batches {
	log := zap.L().With(zap.String("source", c.src.ID))

	return func(yield func([]RawRecord, error) bool) {
		u := c.downloadURL()
		log.Info("downloading csv", zap.String("url", u))

		tmp, err := os.CreateTemp("", "parcl-csv-*.csv")
		if err != nil {
			yield(nil, eris.Wrap(err, "csv: create scratch file"))
			return
		}
		tmpPath := tmp.Name()
		_ = tmp.Close()
		defer func() { _ = os.Remove(tmpPath) }()

		if _, err := c.client.DownloadToFile(ctx, u, tmpPath); err != nil {
			yield(nil, eris.Wrapf(err, "csv: download %s", filepath.Base(u)))
			return
		}

		f, err := os.Open(tmpPath)
		if err != nil {
			yield(nil, eris.Wrap(err, "csv: open scratch file"))
			return
		}
		defer f.Close() //nolint:errcheck

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, eris.Wrap(err, "csv: read header"))
			return
		}

		batch := make([]RawRecord, 0, c.policy.PageSize)
		for {
			if ctx.Err() != nil {
				yield(nil, eris.Wrap(ctx.Err(), "csv: context cancelled"))
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(nil, eris.Wrap(err, "csv: read row"))
				return
			}

			rec := make(RawRecord, len(header))
			for i, col := range header {
				if i < len(row) {
					rec[col] = row[i]
				}
			}
			batch = append(batch, rec)

			if len(batch) >= c.policy.PageSize {
				if !yield(batch, nil) {
					return
				}
				batch = make([]RawRecord, 0, c.policy.PageSize)
			}
		}

		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}
