package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const permitSourceYAML = `
id: austin_permits
source_type: socrata
target_table: permits
jurisdiction_id: austin-tx
base_url: https://data.austintexas.gov
dataset_id: 3syk-w9eu
license: public-domain
refresh_cadence: daily
filters:
  "$where": "issue_date > '2020-01-01'"
field_map:
  - raw_field: permit_number
    schema_field: permit_number
    type: text
    required: true
  - raw_field: total_valuation
    schema_field: valuation
    type: float
`

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSource(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "austin_permits.yaml", permitSourceYAML)

	src, err := LoadSource(path)
	require.NoError(t, err)

	assert.Equal(t, "austin_permits", src.ID)
	assert.Equal(t, "socrata", src.SourceType)
	assert.Equal(t, "permits", src.TargetTable)
	assert.Equal(t, "austin-tx", src.JurisdictionID)
	assert.Equal(t, "daily", src.RefreshCadence)
	assert.Equal(t, "issue_date > '2020-01-01'", src.Filters["$where"])

	require.Len(t, src.FieldMap, 2)
	assert.Equal(t, "permit_number", src.FieldMap[0].RawField)
	assert.True(t, src.FieldMap[0].Required)
	assert.Equal(t, "float", src.FieldMap[1].Type)
	assert.False(t, src.FieldMap[1].Required)
}

func TestLoadSource_MissingID(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "bad.yaml", "source_type: socrata\ntarget_table: permits\n")

	_, err := LoadSource(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestLoadSource_MissingTable(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "bad.yaml", "id: x\nsource_type: socrata\n")

	_, err := LoadSource(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing target_table")
}

func TestLoadAllSources_SortedByFileName(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "b_zoning.yaml", "id: zoning\nsource_type: arcgis\ntarget_table: zoning_overlays\n")
	writeSource(t, dir, "a_permits.yaml", "id: permits\nsource_type: socrata\ntarget_table: permits\n")
	writeSource(t, dir, "notes.txt", "not yaml")

	sources, err := LoadAllSources(dir)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "permits", sources[0].ID)
	assert.Equal(t, "zoning", sources[1].ID)
}

func TestLoadAllSources_MissingDir(t *testing.T) {
	sources, err := LoadAllSources(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestLoadDefaults(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 1000, cfg.Crawler.PageSize)
	assert.Equal(t, 500, cfg.Crawler.MaxPages)
	assert.Equal(t, 3, cfg.Crawler.MaxRetries)
	assert.InDelta(t, 0.5, cfg.Crawler.RateLimitSecs, 1e-9)
	assert.Equal(t, "config/sources", cfg.Sources.Dir)
	assert.Equal(t, "json", cfg.Log.Format)
}
