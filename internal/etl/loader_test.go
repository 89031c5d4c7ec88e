package etl

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcl-data/parcl-crawler/internal/store"
)

func newTestDB(t *testing.T) store.DB {
	t.Helper()
	db, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.InitSchema(context.Background(), db))
	return db
}

func TestBuildUpsertSQL(t *testing.T) {
	q, cols, err := BuildUpsertSQL(store.DriverSQLite, "permits")
	require.NoError(t, err)
	assert.Equal(t, "id", cols[0])
	assert.Contains(t, q, "INSERT INTO permits (id, source_id, external_id,")
	assert.Contains(t, q, "ON CONFLICT (source_id, external_id) DO UPDATE SET")
	assert.Contains(t, q, "id = EXCLUDED.id")
	assert.Contains(t, q, "status = EXCLUDED.status")
	assert.Contains(t, q, "fetched_at = CURRENT_TIMESTAMP")
	assert.NotContains(t, q, "source_id = EXCLUDED.source_id")
	assert.NotContains(t, q, "$1")

	pq, _, err := BuildUpsertSQL(store.DriverPostgres, "permits")
	require.NoError(t, err)
	assert.Contains(t, pq, "VALUES ($1, $2, $3,")
	assert.NotContains(t, pq, "?")
}

func TestBuildUpsertSQLUnknownTable(t *testing.T) {
	_, _, err := BuildUpsertSQL(store.DriverSQLite, "nonsense")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown table "nonsense"`)
	assert.Contains(t, err.Error(), "permits")
}

func TestLoadUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := Record{
		"id": "row-1", "source_id": "austin_permits", "external_id": "2026-004321",
		"permit_number": "2026-004321", "status": "Active", "jurisdiction_id": "austin-tx",
		"raw_payload": "{}",
	}
	n, err := Load(ctx, db, "permits", []Record{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same natural key, new surrogate id and new status.
	second := Record{
		"id": "row-2", "source_id": "austin_permits", "external_id": "2026-004321",
		"permit_number": "2026-004321", "status": "Final", "jurisdiction_id": "austin-tx",
		"raw_payload": "{}",
	}
	n, err = Load(ctx, db, "permits", []Record{second})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var count int
	var id, status string
	row := db.QueryRow(ctx, "SELECT COUNT(*) FROM permits")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)

	row = db.QueryRow(ctx, "SELECT id, status FROM permits WHERE external_id = ?", "2026-004321")
	require.NoError(t, row.Scan(&id, &status))
	assert.Equal(t, "row-2", id, "latest run's generated id wins")
	assert.Equal(t, "Final", status, "later run wins on data columns")
}

func TestLoadSkipsBadRecord(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	records := []Record{
		{"id": "a", "source_id": "s", "external_id": "1", "raw_payload": "{}"},
		// Missing external_id violates NOT NULL and is skipped.
		{"id": "b", "source_id": "s", "raw_payload": "{}"},
		{"id": "c", "source_id": "s", "external_id": "3", "raw_payload": "{}"},
	}
	n, err := Load(ctx, db, "parcels", records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadEmptyBatch(t *testing.T) {
	n, err := Load(context.Background(), newTestDB(t), "permits", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadPostgresPlaceholders(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	db := store.NewPostgresFromPool(mock)

	mock.ExpectExec("INSERT INTO zoning_cases").
		WithArgs(pgxmock.AnyArg(), "austin_zoning", "C14-01",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := Record{
		"id": "row-1", "source_id": "austin_zoning", "external_id": "C14-01",
		"case_number": "C14-01", "raw_payload": "{}",
	}
	n, err := Load(context.Background(), db, "zoning_cases", []Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
