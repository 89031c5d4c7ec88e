package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/parcl-data/parcl-crawler/internal/config"
)

// TargetTables lists every table the loader can write, in schema order.
var TargetTables = []string{
	"parcels",
	"permits",
	"zoning_cases",
	"boa_cases",
	"zoning_overlays",
	"utility_capacity",
	"environmental_constraints",
	"rights_restrictions",
	"property_valuations",
	"transit_amenities",
}

// cadenceHours maps refresh cadence strings to staleness windows.
var cadenceHours = map[string]int{
	"hourly":  1,
	"daily":   24,
	"weekly":  168,
	"monthly": 720,
}

var titleCaser = cases.Title(language.AmericanEnglish)

// displayName turns a source id like "austin_permits" into "Austin Permits".
func displayName(id string) string {
	return titleCaser.String(strings.ReplaceAll(id, "_", " "))
}

// EnsureSource registers the source descriptor if absent. An existing row
// is never overwritten.
func EnsureSource(ctx context.Context, db DB, src *config.Source) error {
	q := Rebind(db.Driver(), `
		INSERT INTO sources (id, name, source_type, base_url, dataset_id, target_table, jurisdiction_id, license, refresh_cadence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)

	err := db.Exec(ctx, q,
		src.ID, displayName(src.ID), src.SourceType, src.BaseURL, src.DatasetID,
		src.TargetTable, src.JurisdictionID, src.License, src.RefreshCadence,
	)
	if err != nil {
		return eris.Wrapf(err, "store: register source %s", src.ID)
	}
	return nil
}

// UpdateFreshness records the last run timestamp and row count for a source.
func UpdateFreshness(ctx context.Context, db DB, sourceID string, ranAt time.Time, rowCount int) error {
	q := Rebind(db.Driver(), "UPDATE sources SET last_run_at = ?, last_row_count = ? WHERE id = ?")
	// RFC3339 text keeps the value portable across both drivers.
	if err := db.Exec(ctx, q, ranAt.UTC().Format(time.RFC3339), rowCount, sourceID); err != nil {
		return eris.Wrapf(err, "store: update freshness for %s", sourceID)
	}
	return nil
}

// LastRun returns the last successful run timestamp for a source, or nil
// if the source never ran (or is unregistered).
func LastRun(ctx context.Context, db DB, sourceID string) (*time.Time, error) {
	q := Rebind(db.Driver(), "SELECT last_run_at FROM sources WHERE id = ?")

	var raw any
	err := db.QueryRow(ctx, q, sourceID).Scan(&raw)
	if eris.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: last run for %s", sourceID)
	}

	return parseTimestamp(raw), nil
}

// parseTimestamp normalizes driver-dependent timestamp representations.
// SQLite hands back strings, Postgres time.Time.
func parseTimestamp(raw any) *time.Time {
	switch v := raw.(type) {
	case nil:
		return nil
	case time.Time:
		u := v.UTC()
		return &u
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				u := t.UTC()
				return &u
			}
		}
	}
	return nil
}

// IsFresh reports whether lastRun is within the cadence window at now.
// Unknown cadences fall back to daily. The skip decision belongs to the
// caller, not the pipeline.
func IsFresh(lastRun *time.Time, cadence string, now time.Time) bool {
	if lastRun == nil {
		return false
	}
	hours, ok := cadenceHours[cadence]
	if !ok {
		hours = 24
	}
	return now.Sub(*lastRun) < time.Duration(hours)*time.Hour
}

// TableRowCounts returns the row count for every target table plus the
// metadata tables. Missing tables count as -1.
func TableRowCounts(ctx context.Context, db DB) map[string]int {
	tables := append([]string{"sources", "jurisdictions"}, TargetTables...)
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		err := db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
		if err != nil {
			counts[table] = -1
			continue
		}
		counts[table] = n
	}
	return counts
}

// SourceStatus summarizes one registered source for status reporting.
type SourceStatus struct {
	ID             string     `json:"id"`
	SourceType     string     `json:"source_type"`
	TargetTable    string     `json:"target_table"`
	RefreshCadence string     `json:"refresh_cadence"`
	LastRunAt      *time.Time `json:"last_run_at"`
	LastRowCount   *int       `json:"last_row_count"`
	Fresh          bool       `json:"fresh"`
}

// ListSourceStatus returns every registered source with its freshness.
func ListSourceStatus(ctx context.Context, db DB, now time.Time) ([]SourceStatus, error) {
	rows, err := db.Query(ctx,
		"SELECT id, source_type, target_table, refresh_cadence, last_run_at, last_row_count FROM sources ORDER BY id")
	if err != nil {
		return nil, eris.Wrap(err, "store: list sources")
	}
	defer rows.Close()

	var out []SourceStatus
	for rows.Next() {
		var s SourceStatus
		var cadence, lastRunRaw any
		var rowCount any
		if err := rows.Scan(&s.ID, &s.SourceType, &s.TargetTable, &cadence, &lastRunRaw, &rowCount); err != nil {
			return nil, eris.Wrap(err, "store: scan source row")
		}
		if c, ok := cadence.(string); ok {
			s.RefreshCadence = c
		}
		s.LastRunAt = parseTimestamp(lastRunRaw)
		if n, ok := asInt(rowCount); ok {
			s.LastRowCount = &n
		}
		s.Fresh = IsFresh(s.LastRunAt, s.RefreshCadence, now)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate sources")
	}
	return out, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
