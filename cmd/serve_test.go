package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcl-data/parcl-crawler/internal/store"
)

func routerWithData(t *testing.T) http.Handler {
	t.Helper()
	db, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx, db))

	require.NoError(t, db.Exec(ctx, `
		INSERT INTO sources (id, name, source_type, target_table, refresh_cadence)
		VALUES (?, ?, ?, ?, ?)`,
		"austin_permits", "Austin Permits", "socrata", "permits", "daily"))
	require.NoError(t, db.Exec(ctx, `
		INSERT INTO parcels (id, source_id, external_id, address, address_norm, base_zoning, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"parcel-1", "tcad_parcels", "R1", "500 East 6th Street", "500 E 6TH ST", "CBD", "{}"))

	return newRouter(db)
}

func TestHealthEndpoint(t *testing.T) {
	router := routerWithData(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	router := routerWithData(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sources []store.SourceStatus `json:"sources"`
		Tables  map[string]int       `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "austin_permits", body.Sources[0].ID)
	assert.False(t, body.Sources[0].Fresh, "never-run source is stale")
	assert.Equal(t, 1, body.Tables["parcels"])
}

func TestProfileEndpoint(t *testing.T) {
	router := routerWithData(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile?q=500+East+6th+Street", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		MatchedAddress string `json:"matched_address"`
		Zoning         struct {
			BaseZone string `json:"base_zone"`
		} `json:"zoning"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "500 E 6TH ST", body.MatchedAddress)
	assert.Equal(t, "CBD", body.Zoning.BaseZone)
}

func TestProfileEndpointRequiresQuery(t *testing.T) {
	router := routerWithData(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
