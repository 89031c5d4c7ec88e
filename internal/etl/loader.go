package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcl-data/parcl-crawler/internal/store"
)

// tableColumns lists the insert columns per target table, in statement
// order. id, source_id and external_id lead every list; only the natural
// key columns are excluded from the conflict update set.
var tableColumns = map[string][]string{
	"parcels": {
		"id", "source_id", "external_id", "apn", "address", "address_norm",
		"city", "state", "zip_code", "county", "latitude", "longitude",
		"base_zoning", "zoning_desc", "lot_size_sqft", "jurisdiction_id", "raw_payload",
	},
	"permits": {
		"id", "source_id", "external_id", "permit_number", "permit_type",
		"permit_class", "work_class", "status", "description", "address",
		"address_norm", "applicant", "contractor", "valuation", "issued_date",
		"filed_date", "completed_date", "expired_date", "latitude", "longitude",
		"jurisdiction_id", "raw_payload",
	},
	"zoning_cases": {
		"id", "source_id", "external_id", "case_number", "case_name",
		"address", "address_norm", "existing_zoning", "proposed_zoning",
		"status", "filed_date", "decided_date", "council_district",
		"description", "jurisdiction_id", "raw_payload",
	},
	"boa_cases": {
		"id", "source_id", "external_id", "case_number", "address",
		"address_norm", "variance_type", "status", "filed_date",
		"hearing_date", "decision", "description", "jurisdiction_id", "raw_payload",
	},
	"zoning_overlays": {
		"id", "source_id", "external_id", "overlay_name", "overlay_type",
		"layer_name", "layer_id", "geometry_wkt", "properties",
		"jurisdiction_id", "raw_payload",
	},
	"utility_capacity": {
		"id", "source_id", "external_id", "utility_type", "facility_name",
		"metric_name", "metric_value", "metric_unit", "period_start",
		"period_end", "geometry_wkt", "jurisdiction_id", "raw_payload",
	},
	"environmental_constraints": {
		"id", "source_id", "external_id", "constraint_type", "name",
		"severity", "description", "address", "address_norm", "latitude",
		"longitude", "geometry_wkt", "properties", "jurisdiction_id", "raw_payload",
	},
	"rights_restrictions": {
		"id", "source_id", "external_id", "restriction_type", "parcel_id",
		"address", "address_norm", "grantor", "grantee", "recorded_date",
		"description", "geometry_wkt", "jurisdiction_id", "raw_payload",
	},
	"property_valuations": {
		"id", "source_id", "external_id", "prop_id", "geo_id",
		"address", "address_norm", "city", "zip_code", "subdivision",
		"entities", "acreage", "legal_description",
		"appraised_value", "land_value", "improvement_value",
		"tax_year", "geometry_wkt", "jurisdiction_id", "raw_payload",
	},
	"transit_amenities": {
		"id", "source_id", "external_id", "amenity_type", "name",
		"description", "address", "address_norm",
		"stop_id", "route_id", "route_type", "park_type", "acreage",
		"latitude", "longitude", "geometry_wkt", "properties",
		"jurisdiction_id", "raw_payload",
	},
}

// TableColumns returns the insert column order for a target table.
func TableColumns(table string) ([]string, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, eris.Errorf("etl: unknown table %q (valid: %s)",
			table, strings.Join(store.TargetTables, ", "))
	}
	return cols, nil
}

// BuildUpsertSQL builds the idempotent upsert statement for a table: an
// INSERT whose (source_id, external_id) conflict updates every non-key
// column and refreshes fetched_at. The surrogate id is a non-key column
// here, so the latest run's generated id wins.
func BuildUpsertSQL(driver store.Driver, table string) (string, []string, error) {
	cols, err := TableColumns(table)
	if err != nil {
		return "", nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "source_id" || c == "external_id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	sets = append(sets, "fetched_at = CURRENT_TIMESTAMP")

	q := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (source_id, external_id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "),
	)
	return store.Rebind(driver, q), cols, nil
}

// Load upserts transformed records into the target table. A record that
// fails to upsert is logged and skipped; the page keeps going. Returns
// the number of records loaded.
func Load(ctx context.Context, db store.DB, table string, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	q, cols, err := BuildUpsertSQL(db.Driver(), table)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, rec := range records {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = rec[c]
		}

		if err := db.Exec(ctx, q, args...); err != nil {
			zap.L().Warn("upsert failed, skipping record",
				zap.String("table", table),
				zap.Any("external_id", rec["external_id"]),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	return loaded, nil
}
