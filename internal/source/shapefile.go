package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/fetcher"
)

// Shapefile downloads a zipped ESRI shapefile (the common bulk format for
// county parcel and appraisal exports), flattens each shape's DBF
// attributes together with a WKT rendering of its geometry, and re-batches
// the records into pages of the configured size.
type Shapefile struct {
	src    *config.Source
	policy Policy
	client *fetcher.Client
}

// NewShapefile builds the zipped-shapefile bulk fetcher.
func NewShapefile(src *config.Source, policy Policy) Source {
	return &Shapefile{src: src, policy: policy, client: policy.client()}
}

func (s *Shapefile) Fetch(ctx context.Context) Batches {
	log := zap.L().With(zap.String("source", s.src.ID))

	return func(yield func([]RawRecord, error) bool) {
		workDir, err := os.MkdirTemp("", "parcl-shp-*")
		if err != nil {
			yield(nil, eris.Wrap(err, "shapefile: create scratch dir"))
			return
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		zipPath := filepath.Join(workDir, "bundle.zip")
		log.Info("downloading shapefile archive", zap.String("url", s.src.BaseURL))
		if _, err := s.client.DownloadToFile(ctx, s.src.BaseURL, zipPath); err != nil {
			yield(nil, eris.Wrapf(err, "shapefile: download for %s", s.src.ID))
			return
		}

		extracted, err := fetcher.ExtractZIP(zipPath, workDir)
		if err != nil {
			yield(nil, eris.Wrapf(err, "shapefile: extract for %s", s.src.ID))
			return
		}

		shpPath := ""
		for _, p := range extracted {
			if strings.EqualFold(filepath.Ext(p), ".shp") {
				shpPath = p
				break
			}
		}
		if shpPath == "" {
			yield(nil, eris.Errorf("shapefile: no .shp entry in archive for %s", s.src.ID))
			return
		}

		reader, err := shp.Open(shpPath)
		if err != nil {
			yield(nil, eris.Wrapf(err, "shapefile: open %s", filepath.Base(shpPath)))
			return
		}
		defer func() { _ = reader.Close() }()

		fields := reader.Fields()
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = strings.TrimRight(f.String(), "\x00")
		}

		batch := make([]RawRecord, 0, s.policy.PageSize)
		var skipped int

		for reader.Next() {
			if ctx.Err() != nil {
				yield(nil, eris.Wrap(ctx.Err(), "shapefile: context cancelled"))
				return
			}

			_, shape := reader.Shape()

			rec := make(RawRecord, len(names)+1)
			for i, name := range names {
				val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
				if val != "" {
					rec[name] = val
				}
			}

			text, err := shapeToWKT(shape)
			if err != nil {
				skipped++
				continue
			}
			rec["_geometry_wkt"] = text
			batch = append(batch, rec)

			if len(batch) >= s.policy.PageSize {
				if !yield(batch, nil) {
					return
				}
				batch = make([]RawRecord, 0, s.policy.PageSize)
			}
		}

		if skipped > 0 {
			log.Debug("skipped shapes with unencodable geometry", zap.Int("skipped", skipped))
		}

		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// shapeToWKT renders a shapefile geometry as WKT. Unsupported shapes
// yield the empty string without error.
func shapeToWKT(shape shp.Shape) (string, error) {
	var g geom.T

	switch s := shape.(type) {
	case *shp.Point:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		g = polyLineToMultiLineString(s)
	case *shp.Polygon:
		g = polygonGeom(s)
	default:
		return "", nil
	}

	if g == nil {
		return "", nil
	}

	text, err := wkt.Marshal(g)
	if err != nil {
		return "", eris.Wrap(err, "shapefile: encode WKT")
	}
	return text, nil
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for _, part := range partRanges(pl.Parts, len(pl.Points)) {
		coords := make([]geom.Coord, 0, part[1]-part[0])
		for _, pt := range pl.Points[part[0]:part[1]] {
			coords = append(coords, geom.Coord{pt.X, pt.Y})
		}
		if len(coords) < 2 {
			continue
		}
		ls := geom.NewLineString(geom.XY)
		if _, err := ls.SetCoords(coords); err != nil {
			return nil
		}
		if err := mls.Push(ls); err != nil {
			return nil
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func polygonGeom(pg *shp.Polygon) geom.T {
	pl := (*shp.PolyLine)(pg)
	if pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	poly := geom.NewPolygon(geom.XY)
	for _, part := range partRanges(pl.Parts, len(pl.Points)) {
		coords := make([]geom.Coord, 0, part[1]-part[0])
		for _, pt := range pl.Points[part[0]:part[1]] {
			coords = append(coords, geom.Coord{pt.X, pt.Y})
		}
		if len(coords) < 4 {
			continue
		}
		ring := geom.NewLinearRing(geom.XY)
		if _, err := ring.SetCoords(coords); err != nil {
			return nil
		}
		if err := poly.Push(ring); err != nil {
			return nil
		}
	}
	if poly.NumLinearRings() == 0 {
		return nil
	}
	return poly
}

// partRanges converts a shapefile part index array into [start, end)
// slices over the point array.
func partRanges(parts []int32, numPoints int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := numPoints
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < end {
			out = append(out, [2]int{int(start), end})
		}
	}
	return out
}
