package etl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcl-data/parcl-crawler/internal/config"
	"github.com/parcl-data/parcl-crawler/internal/source"
	"github.com/parcl-data/parcl-crawler/internal/store"
)

func testPipeline(t *testing.T) (*Pipeline, store.DB) {
	t.Helper()
	db := newTestDB(t)
	policy := source.Policy{
		PageSize:     2,
		MaxPages:     10,
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryBackoff: 2.0,
	}
	return NewPipeline(db, source.NewRegistry(), policy), db
}

func TestRunSourceEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("$offset") {
		case "0":
			fmt.Fprint(w, `[
				{"permit_number":"P-1","status":"Active"},
				{"permit_number":"P-2","status":"Final"}
			]`)
		default:
			fmt.Fprint(w, `[{"status":"orphan record without a number"}]`)
		}
	}))
	defer server.Close()

	src := &config.Source{
		ID:             "austin_permits",
		SourceType:     "socrata",
		TargetTable:    "permits",
		JurisdictionID: "austin-tx",
		BaseURL:        server.URL,
		DatasetID:      "abcd-1234",
		RefreshCadence: "daily",
		FieldMap: []config.FieldMapping{
			{RawField: "permit_number", SchemaField: "permit_number", Type: "text", Required: true},
			{RawField: "status", SchemaField: "status", Type: "text"},
		},
	}

	p, db := testPipeline(t)
	ctx := context.Background()

	sum, err := p.RunSource(ctx, src)
	require.NoError(t, err)

	assert.Equal(t, "austin_permits", sum.SourceID)
	assert.Equal(t, "permits", sum.TargetTable)
	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 3, sum.RawRecords)
	assert.Equal(t, 2, sum.LoadedRecords, "record without the required field is dropped")
	assert.Zero(t, sum.Errors)
	assert.GreaterOrEqual(t, sum.DurationSeconds, 0.0)

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM permits").Scan(&count))
	assert.Equal(t, 2, count)

	// The source registered itself and recorded the run.
	lastRun, err := store.LastRun(ctx, db, "austin_permits")
	require.NoError(t, err)
	require.NotNil(t, lastRun)
	assert.True(t, store.IsFresh(lastRun, "daily", time.Now()))
}

func TestRunSourceRerunIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"permit_number":"P-1","status":"Active"}]`)
	}))
	defer server.Close()

	src := &config.Source{
		ID: "austin_permits", SourceType: "socrata", TargetTable: "permits",
		BaseURL: server.URL, DatasetID: "abcd-1234",
		FieldMap: []config.FieldMapping{
			{RawField: "permit_number", SchemaField: "permit_number", Type: "text", Required: true},
			{RawField: "status", SchemaField: "status", Type: "text"},
		},
	}

	p, db := testPipeline(t)
	ctx := context.Background()

	for range 2 {
		sum, err := p.RunSource(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.LoadedRecords)
	}

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM permits").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunSourceFetchErrorEndsRun(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprint(w, `[{"permit_number":"P-1"},{"permit_number":"P-2"}]`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := &config.Source{
		ID: "flaky", SourceType: "socrata", TargetTable: "permits",
		BaseURL: server.URL, DatasetID: "abcd-1234",
		FieldMap: []config.FieldMapping{
			{RawField: "permit_number", SchemaField: "permit_number", Type: "text", Required: true},
		},
	}

	p, db := testPipeline(t)
	ctx := context.Background()

	sum, err := p.RunSource(ctx, src)
	require.NoError(t, err, "fetch failures are counted, not returned")
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.LoadedRecords)
	assert.Equal(t, 1, sum.Errors)

	// The partial run still stamps freshness metadata.
	lastRun, err := store.LastRun(ctx, db, "flaky")
	require.NoError(t, err)
	assert.NotNil(t, lastRun)
}

func TestRunSourceUnknownKind(t *testing.T) {
	src := &config.Source{ID: "bad", SourceType: "gopher", TargetTable: "permits"}
	p, _ := testPipeline(t)
	_, err := p.RunSource(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source_type")
}

func TestRunSourceUnknownTable(t *testing.T) {
	src := &config.Source{ID: "bad", SourceType: "socrata", TargetTable: "ledger"}
	p, _ := testPipeline(t)
	_, err := p.RunSource(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown table "ledger"`)
}
