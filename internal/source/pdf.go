package source

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/parcl-data/parcl-crawler/internal/config"
)

// PDFStub is a placeholder for agenda and minutes sources published only
// as PDF documents. Extraction requires per-jurisdiction layout work, so
// the kind is registered to give a clear error rather than an unknown-kind
// failure when a config references it.
type PDFStub struct {
	src *config.Source
}

func NewPDFStub(src *config.Source, _ Policy) Source {
	return &PDFStub{src: src}
}

func (p *PDFStub) Fetch(_ context.Context) Batches {
	return func(yield func([]RawRecord, error) bool) {
		yield(nil, eris.Errorf(
			"source: pdf extraction is not implemented for %s; use one of: %s",
			p.src.ID, strings.Join([]string{"arcgis", "csv", "shapefile", "socrata"}, ", ")))
	}
}
