package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// schemaDDL creates the metadata and target tables. The {JSON} token is
// replaced per driver (JSONB on Postgres, TEXT on SQLite). Every target
// table carries the (source_id, external_id) natural-key constraint.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS jurisdictions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	level      TEXT NOT NULL,
	parent_id  TEXT REFERENCES jurisdictions(id),
	state_code TEXT
);

CREATE TABLE IF NOT EXISTS sources (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	base_url        TEXT,
	dataset_id      TEXT,
	target_table    TEXT NOT NULL,
	jurisdiction_id TEXT,
	license         TEXT,
	refresh_cadence TEXT,
	last_run_at     TIMESTAMP,
	last_row_count  INTEGER
);

CREATE TABLE IF NOT EXISTS parcels (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	apn             TEXT,
	address         TEXT,
	address_norm    TEXT,
	city            TEXT,
	state           TEXT,
	zip_code        TEXT,
	county          TEXT,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	base_zoning     TEXT,
	zoning_desc     TEXT,
	lot_size_sqft   DOUBLE PRECISION,
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS permits (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	permit_number   TEXT,
	permit_type     TEXT,
	permit_class    TEXT,
	work_class      TEXT,
	status          TEXT,
	description     TEXT,
	address         TEXT,
	address_norm    TEXT,
	applicant       TEXT,
	contractor      TEXT,
	valuation       DOUBLE PRECISION,
	issued_date     DATE,
	filed_date      DATE,
	completed_date  DATE,
	expired_date    DATE,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS zoning_cases (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	case_number     TEXT,
	case_name       TEXT,
	address         TEXT,
	address_norm    TEXT,
	existing_zoning TEXT,
	proposed_zoning TEXT,
	status          TEXT,
	filed_date      DATE,
	decided_date    DATE,
	council_district TEXT,
	description     TEXT,
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS boa_cases (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	case_number     TEXT,
	address         TEXT,
	address_norm    TEXT,
	variance_type   TEXT,
	status          TEXT,
	filed_date      DATE,
	hearing_date    DATE,
	decision        TEXT,
	description     TEXT,
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS zoning_overlays (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	overlay_name    TEXT,
	overlay_type    TEXT,
	layer_name      TEXT,
	layer_id        INTEGER,
	geometry_wkt    TEXT,
	properties      {JSON},
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS utility_capacity (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	utility_type    TEXT,
	facility_name   TEXT,
	metric_name     TEXT,
	metric_value    DOUBLE PRECISION,
	metric_unit     TEXT,
	period_start    DATE,
	period_end      DATE,
	geometry_wkt    TEXT,
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS environmental_constraints (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	constraint_type TEXT,
	name            TEXT,
	severity        TEXT,
	description     TEXT,
	address         TEXT,
	address_norm    TEXT,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	geometry_wkt    TEXT,
	properties      {JSON},
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS rights_restrictions (
	id               TEXT PRIMARY KEY,
	source_id        TEXT NOT NULL,
	external_id      TEXT NOT NULL,
	restriction_type TEXT,
	parcel_id        TEXT,
	address          TEXT,
	address_norm     TEXT,
	grantor          TEXT,
	grantee          TEXT,
	recorded_date    DATE,
	description      TEXT,
	geometry_wkt     TEXT,
	jurisdiction_id  TEXT,
	raw_payload      {JSON},
	fetched_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS property_valuations (
	id                TEXT PRIMARY KEY,
	source_id         TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	prop_id           TEXT,
	geo_id            TEXT,
	address           TEXT,
	address_norm      TEXT,
	city              TEXT,
	zip_code          TEXT,
	subdivision       TEXT,
	entities          TEXT,
	acreage           DOUBLE PRECISION,
	legal_description TEXT,
	appraised_value   DOUBLE PRECISION,
	land_value        DOUBLE PRECISION,
	improvement_value DOUBLE PRECISION,
	tax_year          INTEGER,
	geometry_wkt      TEXT,
	jurisdiction_id   TEXT,
	raw_payload       {JSON},
	fetched_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS transit_amenities (
	id              TEXT PRIMARY KEY,
	source_id       TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	amenity_type    TEXT,
	name            TEXT,
	description     TEXT,
	address         TEXT,
	address_norm    TEXT,
	stop_id         TEXT,
	route_id        TEXT,
	route_type      INTEGER,
	park_type       TEXT,
	acreage         DOUBLE PRECISION,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	geometry_wkt    TEXT,
	properties      {JSON},
	jurisdiction_id TEXT,
	raw_payload     {JSON},
	fetched_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_parcels_address_norm ON parcels(address_norm);
CREATE INDEX IF NOT EXISTS idx_permits_address_norm ON permits(address_norm);
CREATE INDEX IF NOT EXISTS idx_zoning_cases_address_norm ON zoning_cases(address_norm);
CREATE INDEX IF NOT EXISTS idx_boa_cases_address_norm ON boa_cases(address_norm);
CREATE INDEX IF NOT EXISTS idx_env_constraints_address_norm ON environmental_constraints(address_norm);
`

// jurisdictionSeeds are inserted in order for FK integrity.
var jurisdictionSeeds = [][]any{
	{"us", "United States", "country", nil, nil},
	{"us-tx", "Texas", "state", "us", "TX"},
	{"us-tx-travis", "Travis County", "county", "us-tx", "TX"},
	{"austin-tx", "Austin", "city", "us-tx-travis", "TX"},
}

// InitSchema creates all tables and indexes and seeds jurisdictions.
// Safe to run repeatedly.
func InitSchema(ctx context.Context, db DB) error {
	jsonType := "TEXT"
	if db.Driver() == DriverPostgres {
		jsonType = "JSONB"
	}
	ddl := strings.ReplaceAll(schemaDDL, "{JSON}", jsonType)

	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := db.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "store: init schema")
		}
	}

	for _, seed := range jurisdictionSeeds {
		q := Rebind(db.Driver(),
			"INSERT INTO jurisdictions (id, name, level, parent_id, state_code) VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING")
		if err := db.Exec(ctx, q, seed...); err != nil {
			return eris.Wrapf(err, "store: seed jurisdiction %v", seed[0])
		}
	}

	return nil
}
