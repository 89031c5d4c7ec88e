// Package profile assembles parcel risk profiles from the ingested
// tables: zoning, permit history, environmental risks, and supporting
// aggregates for a single address or parcel id.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/parcl-data/parcl-crawler/internal/address"
	"github.com/parcl-data/parcl-crawler/internal/store"
)

// Profile is the assembled risk profile for one query.
type Profile struct {
	Query           string         `json:"query"`
	MatchedAddress  string         `json:"matched_address"`
	Zoning          Zoning         `json:"zoning"`
	Risks           []Risk         `json:"risks"`
	Permits         []Permit       `json:"permits"`
	SupportingFacts map[string]int `json:"supporting_facts"`
	DataSources     []string       `json:"data_sources"`
	Warnings        []string       `json:"warnings"`
}

type Zoning struct {
	BaseZone        string   `json:"base_zone"`
	Description     string   `json:"description"`
	Overlays        []string `json:"overlays"`
	PendingRezoning bool     `json:"pending_rezoning"`
}

type Risk struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Label    string `json:"label"`
	Detail   string `json:"detail"`
}

type Permit struct {
	PermitNumber string   `json:"permit_number"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Valuation    *float64 `json:"valuation"`
	IssuedDate   string   `json:"issued_date,omitempty"`
	Description  string   `json:"description"`
}

type parcel struct {
	ID          string
	Address     string
	AddressNorm string
	BaseZoning  string
	ZoningDesc  string
	Latitude    *float64
	Longitude   *float64
}

// closedStatuses are zoning case statuses that no longer count as pending.
const closedStatuses = "('Closed', 'Withdrawn', 'Denied')"

// proximityDegrees is the lat/lon box half-width for nearby-constraint
// matching, roughly 500m at Austin's latitude.
const proximityDegrees = 0.005

// Get builds a risk profile for an address or parcel id. Resolution tries
// an exact parcel id match first, then a normalized-address substring
// match on parcels, and finally falls back to permit and case data alone.
func Get(ctx context.Context, db store.DB, query string) (*Profile, error) {
	norm := address.Normalize(query)
	like := "%" + norm + "%"

	p := &Profile{
		Query:           query,
		Risks:           []Risk{},
		Permits:         []Permit{},
		SupportingFacts: map[string]int{},
		DataSources:     []string{},
		Warnings:        []string{},
	}

	pcl, err := findParcel(ctx, db, query, like)
	if err != nil {
		return nil, err
	}
	if pcl != nil {
		p.MatchedAddress = pcl.AddressNorm
		if p.MatchedAddress == "" {
			p.MatchedAddress = pcl.Address
		}
		z, err := zoningInfo(ctx, db, pcl, like)
		if err != nil {
			return nil, err
		}
		p.Zoning = z
		p.DataSources = append(p.DataSources, "parcels")
	} else {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("No parcel record found for %q. Using permit/case data only.", query))
		p.MatchedAddress = norm
		p.Zoning.Overlays = []string{}
	}

	permits, err := permitHistory(ctx, db, like)
	if err != nil {
		return nil, err
	}
	if len(permits) > 0 {
		p.Permits = permits
		p.DataSources = append(p.DataSources, "permits")
	}

	risks, err := collectRisks(ctx, db, like, pcl)
	if err != nil {
		return nil, err
	}
	p.Risks = risks

	facts, err := supportingFacts(ctx, db, like)
	if err != nil {
		return nil, err
	}
	p.SupportingFacts = facts

	for _, r := range p.Risks {
		if r.Type == "flood_zone" {
			p.DataSources = append(p.DataSources, "environmental_constraints")
			break
		}
	}
	if len(p.Zoning.Overlays) > 0 {
		p.DataSources = append(p.DataSources, "zoning_overlays")
	}

	return p, nil
}

const parcelSelect = `SELECT id, address, address_norm, base_zoning, zoning_desc, latitude, longitude
	FROM parcels WHERE `

func findParcel(ctx context.Context, db store.DB, rawQuery, like string) (*parcel, error) {
	if p, err := scanParcel(db.QueryRow(ctx,
		store.Rebind(db.Driver(), parcelSelect+"id = ?"), rawQuery)); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}

	return scanParcel(db.QueryRow(ctx,
		store.Rebind(db.Driver(), parcelSelect+"address_norm LIKE ? LIMIT 1"), like))
}

func scanParcel(row store.Row) (*parcel, error) {
	var p parcel
	var addr, addrNorm, baseZoning, zoningDesc *string
	err := row.Scan(&p.ID, &addr, &addrNorm, &baseZoning, &zoningDesc, &p.Latitude, &p.Longitude)
	if eris.Is(err, store.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "profile: scan parcel")
	}
	p.Address = deref(addr)
	p.AddressNorm = deref(addrNorm)
	p.BaseZoning = deref(baseZoning)
	p.ZoningDesc = deref(zoningDesc)
	return &p, nil
}

func zoningInfo(ctx context.Context, db store.DB, pcl *parcel, like string) (Zoning, error) {
	z := Zoning{
		BaseZone:    pcl.BaseZoning,
		Description: pcl.ZoningDesc,
		Overlays:    []string{},
	}

	var pending int
	q := store.Rebind(db.Driver(),
		"SELECT COUNT(*) FROM zoning_cases WHERE address_norm LIKE ? AND status NOT IN "+closedStatuses)
	if err := db.QueryRow(ctx, q, like).Scan(&pending); err != nil {
		return z, eris.Wrap(err, "profile: count pending rezonings")
	}
	z.PendingRezoning = pending > 0

	rows, err := db.Query(ctx, store.Rebind(db.Driver(),
		"SELECT DISTINCT overlay_name FROM zoning_overlays WHERE overlay_name IS NOT NULL AND properties LIKE ?"), like)
	if err != nil {
		return z, eris.Wrap(err, "profile: query overlays")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return z, eris.Wrap(err, "profile: scan overlay")
		}
		z.Overlays = append(z.Overlays, name)
	}
	return z, rows.Err()
}

func permitHistory(ctx context.Context, db store.DB, like string) ([]Permit, error) {
	q := store.Rebind(db.Driver(), `
		SELECT permit_number, permit_type, status, valuation, issued_date, description
		FROM permits WHERE address_norm LIKE ? ORDER BY issued_date DESC LIMIT 20`)
	rows, err := db.Query(ctx, q, like)
	if err != nil {
		return nil, eris.Wrap(err, "profile: query permits")
	}
	defer rows.Close()

	var out []Permit
	for rows.Next() {
		var p Permit
		var number, ptype, status, issued, desc *string
		if err := rows.Scan(&number, &ptype, &status, &p.Valuation, &issued, &desc); err != nil {
			return nil, eris.Wrap(err, "profile: scan permit")
		}
		p.PermitNumber = deref(number)
		p.Type = deref(ptype)
		p.Status = deref(status)
		p.IssuedDate = deref(issued)
		p.Description = deref(desc)
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectRisks(ctx context.Context, db store.DB, like string, pcl *parcel) ([]Risk, error) {
	risks := []Risk{}
	seen := map[string]bool{}

	q := store.Rebind(db.Driver(), `
		SELECT constraint_type, name, severity, description
		FROM environmental_constraints WHERE address_norm LIKE ? OR name LIKE ?`)
	if err := appendRisks(ctx, db, q, &risks, seen, like, like); err != nil {
		return nil, err
	}

	// Nearby constraints by coordinate box when the parcel is geocoded.
	if pcl != nil && pcl.Latitude != nil && pcl.Longitude != nil {
		q := store.Rebind(db.Driver(), `
			SELECT constraint_type, name, severity, description
			FROM environmental_constraints
			WHERE latitude IS NOT NULL AND ABS(latitude - ?) < ? AND ABS(longitude - ?) < ?`)
		if err := appendRisks(ctx, db, q, &risks, seen,
			*pcl.Latitude, proximityDegrees, *pcl.Longitude, proximityDegrees); err != nil {
			return nil, err
		}
	}

	return risks, nil
}

func appendRisks(ctx context.Context, db store.DB, q string, risks *[]Risk, seen map[string]bool, args ...any) error {
	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return eris.Wrap(err, "profile: query constraints")
	}
	defer rows.Close()

	for rows.Next() {
		var ctype, name, severity, desc *string
		if err := rows.Scan(&ctype, &name, &severity, &desc); err != nil {
			return eris.Wrap(err, "profile: scan constraint")
		}

		r := Risk{
			Type:     fallback(deref(ctype), "environmental"),
			Severity: fallback(deref(severity), "medium"),
			Label:    fallback(deref(name), fallback(deref(ctype), "Environmental constraint")),
			Detail:   deref(desc),
		}
		if seen[r.Label] {
			continue
		}
		seen[r.Label] = true
		*risks = append(*risks, r)
	}
	return rows.Err()
}

func supportingFacts(ctx context.Context, db store.DB, like string) (map[string]int, error) {
	// The recency cutoff is computed here rather than in SQL so the
	// predicate works on both drivers.
	cutoff := time.Now().AddDate(-5, 0, 0).Format("2006-01-02")

	queries := []struct {
		key  string
		sql  string
		args []any
	}{
		{"active_permits_5yr",
			"SELECT COUNT(*) FROM permits WHERE address_norm LIKE ? AND issued_date >= ?",
			[]any{like, cutoff}},
		{"open_zoning_cases",
			"SELECT COUNT(*) FROM zoning_cases WHERE address_norm LIKE ? AND status NOT IN " + closedStatuses,
			[]any{like}},
		{"total_boa_cases",
			"SELECT COUNT(*) FROM boa_cases WHERE address_norm LIKE ?",
			[]any{like}},
		{"environmental_flags",
			"SELECT COUNT(*) FROM environmental_constraints WHERE address_norm LIKE ?",
			[]any{like}},
	}

	facts := make(map[string]int, len(queries))
	for _, q := range queries {
		var n int
		if err := db.QueryRow(ctx, store.Rebind(db.Driver(), q.sql), q.args...).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "profile: count %s", q.key)
		}
		facts[q.key] = n
	}
	return facts, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
