package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcl-data/parcl-crawler/internal/store"
)

func seededDB(t *testing.T) store.DB {
	t.Helper()
	db, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx, db))

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO parcels (id, source_id, external_id, apn, address, address_norm, base_zoning, zoning_desc, latitude, longitude, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{"parcel-1", "tcad_parcels", "R12345", "0204050711",
				"123 North Main Street", "123 N MAIN ST", "SF-3", "Family Residence",
				30.2672, -97.7431, "{}"}},
		{`INSERT INTO permits (id, source_id, external_id, permit_number, permit_type, status, valuation, issued_date, address_norm, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{"permit-1", "austin_permits", "2024-001", "2024-001", "Building Permit",
				"Final", 85000.0, "2024-06-01", "123 N MAIN ST", "{}"}},
		{`INSERT INTO permits (id, source_id, external_id, permit_number, permit_type, status, issued_date, address_norm, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{"permit-2", "austin_permits", "2010-044", "2010-044", "Demolition Permit",
				"Final", "2010-01-15", "123 N MAIN ST", "{}"}},
		{`INSERT INTO zoning_cases (id, source_id, external_id, case_number, status, address_norm, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{"case-1", "austin_zoning", "C14-2026-0042", "C14-2026-0042", "Pending",
				"123 N MAIN ST", "{}"}},
		{`INSERT INTO boa_cases (id, source_id, external_id, case_number, address_norm, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"boa-1", "austin_boa", "BOA-9", "BOA-9", "123 N MAIN ST", "{}"}},
		{`INSERT INTO environmental_constraints (id, source_id, external_id, constraint_type, name, severity, address_norm, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{"env-1", "fema_floodplains", "F-1", "flood_zone", "FEMA Zone AE",
				"high", "123 N MAIN ST", "{}"}},
		{`INSERT INTO environmental_constraints (id, source_id, external_id, constraint_type, name, severity, latitude, longitude, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{"env-2", "tceq_brownfields", "B-7", "brownfield", "Former Dry Cleaner",
				"medium", 30.2690, -97.7440, "{}"}},
		{`INSERT INTO environmental_constraints (id, source_id, external_id, constraint_type, name, severity, latitude, longitude, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{"env-3", "tceq_brownfields", "B-8", "brownfield", "Far Away Site",
				"medium", 30.5000, -97.9000, "{}"}},
	}
	for _, s := range stmts {
		require.NoError(t, db.Exec(ctx, s.sql, s.args...))
	}
	return db
}

func TestGetByAddress(t *testing.T) {
	db := seededDB(t)

	p, err := Get(context.Background(), db, "123 North Main Street")
	require.NoError(t, err)

	assert.Equal(t, "123 N MAIN ST", p.MatchedAddress)
	assert.Empty(t, p.Warnings)
	assert.Equal(t, "SF-3", p.Zoning.BaseZone)
	assert.True(t, p.Zoning.PendingRezoning)

	require.Len(t, p.Permits, 2)
	assert.Equal(t, "2024-001", p.Permits[0].PermitNumber, "newest permit first")
	require.NotNil(t, p.Permits[0].Valuation)
	assert.Equal(t, 85000.0, *p.Permits[0].Valuation)

	labels := make([]string, 0, len(p.Risks))
	for _, r := range p.Risks {
		labels = append(labels, r.Label)
	}
	assert.Contains(t, labels, "FEMA Zone AE")
	assert.Contains(t, labels, "Former Dry Cleaner", "nearby constraint within the coordinate box")
	assert.NotContains(t, labels, "Far Away Site")

	assert.Equal(t, 1, p.SupportingFacts["open_zoning_cases"])
	assert.Equal(t, 1, p.SupportingFacts["total_boa_cases"])
	assert.Equal(t, 1, p.SupportingFacts["environmental_flags"])
	assert.Equal(t, 1, p.SupportingFacts["active_permits_5yr"], "2010 permit is outside the window")

	assert.Contains(t, p.DataSources, "parcels")
	assert.Contains(t, p.DataSources, "permits")
	assert.Contains(t, p.DataSources, "environmental_constraints")
}

func TestGetByParcelID(t *testing.T) {
	db := seededDB(t)

	p, err := Get(context.Background(), db, "parcel-1")
	require.NoError(t, err)
	assert.Equal(t, "123 N MAIN ST", p.MatchedAddress)
	assert.Equal(t, "SF-3", p.Zoning.BaseZone)
}

func TestGetUnknownAddressFallsBack(t *testing.T) {
	db := seededDB(t)

	p, err := Get(context.Background(), db, "999 Nowhere Lane")
	require.NoError(t, err)

	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "No parcel record found")
	assert.Equal(t, "999 NOWHERE LN", p.MatchedAddress)
	assert.Empty(t, p.Zoning.BaseZone)
	assert.NotContains(t, p.DataSources, "parcels")
	assert.Empty(t, p.Permits)
}
