package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/fetcher"
)

// ArcGIS fetches features from ArcGIS REST MapServer/FeatureServer layers.
// Layers are walked sequentially and concatenated into one logical fetch.
// Each layer is paginated by offset until the service's in-band error body
// says pagination is unsupported, at which point that layer downgrades
// permanently to a single unpaginated request.
type ArcGIS struct {
	src    *config.Source
	policy Policy
	client *fetcher.Client
}

// NewArcGIS builds the tiled-geometry-API fetcher.
func NewArcGIS(src *config.Source, policy Policy) Source {
	return &ArcGIS{src: src, policy: policy, client: policy.client()}
}

type arcgisResponse struct {
	Error                 *arcgisError    `json:"error"`
	Features              []arcgisFeature `json:"features"`
	ExceededTransferLimit bool            `json:"exceededTransferLimit"`
}

type arcgisError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *arcgisError) text() string {
	return strings.ToLower(e.Message + " " + strings.Join(e.Details, " "))
}

type arcgisFeature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   *arcgisGeometry `json:"geometry"`
}

type arcgisGeometry struct {
	X     *float64      `json:"x"`
	Y     *float64      `json:"y"`
	Rings [][][]float64 `json:"rings"`
	Paths [][][]float64 `json:"paths"`
}

func (a *ArcGIS) Fetch(ctx context.Context) Batches {
	layers := a.src.Layers
	if len(layers) == 0 {
		layers = []config.Layer{{ID: 0, Name: "default"}}
	}

	return func(yield func([]RawRecord, error) bool) {
		for _, layer := range layers {
			if !a.fetchLayer(ctx, layer, yield) {
				return
			}
		}
	}
}

// fetchLayer yields the batches of one layer. It returns false when the
// whole fetch must stop (consumer break or transport error); true means
// the layer is exhausted and the next layer may proceed.
func (a *ArcGIS) fetchLayer(ctx context.Context, layer config.Layer, yield func([]RawRecord, error) bool) bool {
	log := zap.L().With(
		zap.String("source", a.src.ID),
		zap.Int("layer_id", layer.ID),
		zap.String("layer_name", layer.Name),
	)
	endpoint := fmt.Sprintf("%s/%d/query", strings.TrimRight(a.src.BaseURL, "/"), layer.ID)

	offset := 0
	usePagination := true

	for page := 0; page < a.policy.MaxPages; page++ {
		params := url.Values{}
		params.Set("where", filterOr(a.src.Filters, "where", "1=1"))
		params.Set("outFields", filterOr(a.src.Filters, "outFields", "*"))
		params.Set("returnGeometry", "true")
		params.Set("f", "json")
		if usePagination {
			params.Set("resultOffset", strconv.Itoa(offset))
			params.Set("resultRecordCount", strconv.Itoa(a.policy.PageSize))
		}

		log.Debug("fetching layer page", zap.Int("page", page+1), zap.Int("offset", offset))

		var resp arcgisResponse
		if err := a.client.GetJSON(ctx, endpoint, params, &resp); err != nil {
			yield(nil, eris.Wrapf(err, "arcgis: fetch layer %d page %d for %s", layer.ID, page+1, a.src.ID))
			return false
		}

		// In-band error body despite HTTP 200.
		if resp.Error != nil {
			if usePagination && strings.Contains(resp.Error.text(), "pagination") {
				log.Info("pagination not supported, retrying without offset")
				usePagination = false
				continue
			}
			log.Warn("arcgis error body, stopping layer",
				zap.Int("code", resp.Error.Code),
				zap.String("message", resp.Error.Message),
			)
			return true
		}

		if len(resp.Features) == 0 {
			return true
		}

		records := make([]RawRecord, 0, len(resp.Features))
		for _, feat := range resp.Features {
			rec := make(RawRecord, len(feat.Attributes)+3)
			for k, v := range feat.Attributes {
				rec[k] = v
			}
			rec["_geometry_wkt"] = geometryToWKT(feat.Geometry)
			rec["_layer_id"] = layer.ID
			rec["_layer_name"] = layer.Name
			records = append(records, rec)
		}

		if !yield(records, nil) {
			return false
		}
		offset += a.policy.PageSize

		// Non-paginated layers are always single-shot.
		if !usePagination {
			return true
		}

		if !resp.ExceededTransferLimit && len(resp.Features) < a.policy.PageSize {
			return true
		}
	}

	return true
}

func filterOr(filters map[string]string, key, def string) string {
	if v, ok := filters[key]; ok && v != "" {
		return v
	}
	return def
}

// geometryToWKT converts an ArcGIS geometry object to a WKT string.
// Unknown or absent geometry yields the empty string.
func geometryToWKT(geom *arcgisGeometry) string {
	switch {
	case geom == nil:
		return ""
	case len(geom.Rings) > 0:
		return ringsToWKT(geom.Rings)
	case geom.X != nil && geom.Y != nil:
		return fmt.Sprintf("POINT(%s %s)", formatCoord(*geom.X), formatCoord(*geom.Y))
	case len(geom.Paths) > 0 && len(geom.Paths[0]) > 0:
		return "LINESTRING(" + joinPoints(geom.Paths[0]) + ")"
	default:
		return ""
	}
}

// ringsToWKT converts ring arrays to a WKT POLYGON, one parenthesized
// ring per array.
func ringsToWKT(rings [][][]float64) string {
	parts := make([]string, 0, len(rings))
	for _, ring := range rings {
		parts = append(parts, "("+joinPoints(ring)+")")
	}
	return "POLYGON(" + strings.Join(parts, ", ") + ")"
}

func joinPoints(points [][]float64) string {
	coords := make([]string, 0, len(points))
	for _, pt := range points {
		if len(pt) < 2 {
			continue
		}
		coords = append(coords, formatCoord(pt[0])+" "+formatCoord(pt[1]))
	}
	return strings.Join(coords, ", ")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
