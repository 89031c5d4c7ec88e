// Package etl implements the transform and load stages of the pipeline:
// field mapping with type coercion, identity stamping, and idempotent
// upserts into the target tables.
package etl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/address"
	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/source"
)

// Record is one transformed record keyed by schema column name, ready for
// the loader.
type Record map[string]any

// dateLayouts are tried in order when coercing date values. ISO forms
// first, then the slash and dash forms US portals publish.
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
}

// Coerce converts a raw value to the target schema type. Nil and empty
// string become nil; a value that cannot be converted becomes nil, except
// for dates, which pass through unparsed so no information is lost.
func Coerce(value any, targetType string) any {
	if value == nil || value == "" {
		return nil
	}

	switch targetType {
	case "text":
		return strings.TrimSpace(fmt.Sprint(value))
	case "float":
		f, ok := toFloat(value)
		if !ok {
			return nil
		}
		return f
	case "integer":
		f, ok := toFloat(value)
		if !ok {
			return nil
		}
		return int64(f)
	case "date":
		return coerceDate(value)
	case "boolean":
		switch strings.ToLower(strings.TrimSpace(fmt.Sprint(value))) {
		case "true", "1", "yes":
			return true
		default:
			return false
		}
	default:
		return value
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceDate(value any) any {
	if t, ok := value.(time.Time); ok {
		return t.Format("2006-01-02")
	}

	s := strings.TrimSpace(fmt.Sprint(value))
	// Trailing precision beyond microseconds defeats the fractional
	// layout, so also try the truncated form.
	candidates := []string{s}
	if len(s) > 26 {
		candidates = append(candidates, s[:26])
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.Format("2006-01-02")
			}
		}
	}
	return s
}

// expandTemplate substitutes "{field}" placeholders with the raw record's
// values. Missing fields expand to the empty string.
func expandTemplate(tmpl string, raw source.RawRecord) string {
	out := tmpl
	for key, val := range raw {
		token := "{" + key + "}"
		if !strings.Contains(out, token) {
			continue
		}
		s := ""
		if val != nil {
			s = strings.TrimSpace(fmt.Sprint(val))
		}
		out = strings.ReplaceAll(out, token, s)
	}
	return out
}

// TransformRecord maps one raw record through the source's field map.
// It returns false when a required field is missing or empty; required
// failure drops the whole record, never a single field.
func TransformRecord(raw source.RawRecord, src *config.Source) (Record, bool) {
	mapped := make(Record, len(src.FieldMap)+6)

	for _, fm := range src.FieldMap {
		rawVal := raw[fm.RawField]
		if fm.Required && isEmpty(rawVal) {
			return nil, false
		}
		if fm.Template != "" {
			mapped[fm.SchemaField] = Coerce(expandTemplate(fm.Template, raw), fm.Type)
			continue
		}
		mapped[fm.SchemaField] = Coerce(rawVal, fm.Type)
	}

	mapped["id"] = uuid.NewString()
	mapped["source_id"] = src.ID
	mapped["jurisdiction_id"] = src.JurisdictionID
	mapped["external_id"] = externalID(raw, mapped, src)

	if addr, ok := mapped["address"].(string); ok && addr != "" {
		mapped["address_norm"] = address.Normalize(addr)
	}

	mapped["raw_payload"] = canonicalJSON(raw)

	applyCategoryDefaults(mapped, src)

	return mapped, true
}

// externalID derives the stable natural-key half of (source_id,
// external_id): the first required mapped field that produced a value, or
// a deterministic hash of the canonical raw record when no required field
// did. The hash keeps repeat runs idempotent for key-less sources.
func externalID(raw source.RawRecord, mapped Record, src *config.Source) string {
	for _, fm := range src.FieldMap {
		if !fm.Required {
			continue
		}
		if v := mapped[fm.SchemaField]; !isEmpty(v) {
			return fmt.Sprint(v)
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonicalJSON(raw))).String()
}

// canonicalJSON serializes a raw record with sorted keys so equal records
// always produce byte-identical payloads.
func canonicalJSON(raw source.RawRecord) string {
	data, err := json.Marshal(map[string]any(raw))
	if err != nil {
		// Unencodable values degrade to fmt rather than dropping audit data.
		return fmt.Sprintf("%v", map[string]any(raw))
	}
	return string(data)
}

func isEmpty(v any) bool {
	return v == nil || v == ""
}

// categoryRule maps a keyword in the source id to default discriminator
// columns for tables whose sources rarely carry one.
type categoryRule struct {
	keyword string
	exclude string
	fields  map[string]any
}

// categoryDefaults is the keyword rule table, checked in order per target
// table. The final empty-keyword rule is the generic fallback.
var categoryDefaults = map[string][]categoryRule{
	"environmental_constraints": {
		{keyword: "flood", fields: map[string]any{"constraint_type": "flood_zone", "severity": "high"}},
		{keyword: "brownfield", fields: map[string]any{"constraint_type": "brownfield", "severity": "medium"}},
		{fields: map[string]any{"constraint_type": "other", "severity": "low"}},
	},
	"utility_capacity": {
		{keyword: "water", exclude: "waste", fields: map[string]any{"utility_type": "water", "metric_unit": "million_gallons"}},
		{keyword: "wastewater", fields: map[string]any{"utility_type": "wastewater", "metric_unit": "million_gallons"}},
		{fields: map[string]any{"utility_type": "other"}},
	},
}

// discriminator column per table, used to detect whether the field map
// already supplied a classification.
var categoryColumn = map[string]string{
	"environmental_constraints": "constraint_type",
	"utility_capacity":          "utility_type",
}

// applyCategoryDefaults infers discriminator columns from keywords in the
// source id. This is an approximation keyed to the source naming
// convention; a source id matching no keyword gets the generic fallback,
// which is logged because it usually means a misnamed source.
func applyCategoryDefaults(mapped Record, src *config.Source) {
	rules, ok := categoryDefaults[src.TargetTable]
	if !ok {
		return
	}
	if col := categoryColumn[src.TargetTable]; !isEmpty(mapped[col]) {
		return
	}

	id := strings.ToLower(src.ID)
	for _, rule := range rules {
		if rule.keyword != "" {
			if !strings.Contains(id, rule.keyword) {
				continue
			}
			if rule.exclude != "" && strings.Contains(id, rule.exclude) {
				continue
			}
		} else {
			zap.L().Warn("no category keyword matched source id, using generic fallback",
				zap.String("source", src.ID),
				zap.String("table", src.TargetTable),
			)
		}
		for col, val := range rule.fields {
			if isEmpty(mapped[col]) {
				mapped[col] = val
			}
		}
		return
	}
}

// TransformBatch maps a page of raw records, dropping those missing
// required fields. The second return is the dropped count.
func TransformBatch(records []source.RawRecord, src *config.Source) ([]Record, int) {
	out := make([]Record, 0, len(records))
	for _, raw := range records {
		if rec, ok := TransformRecord(raw, src); ok {
			out = append(out, rec)
		}
	}
	return out, len(records) - len(out)
}
