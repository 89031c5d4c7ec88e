// Package address normalizes street addresses for matching.
//
// This is a purely lexical v1: uppercase, strip punctuation, abbreviate
// directionals, USPS street suffixes, and unit designators. It does no
// geocoding or postal validation; a validated service replaces it later.
package address

import "strings"

// suffixMap abbreviates street suffixes per USPS Publication 28.
var suffixMap = map[string]string{
	"STREET":     "ST",
	"AVENUE":     "AVE",
	"BOULEVARD":  "BLVD",
	"DRIVE":      "DR",
	"LANE":       "LN",
	"ROAD":       "RD",
	"COURT":      "CT",
	"CIRCLE":     "CIR",
	"PLACE":      "PL",
	"TRAIL":      "TRL",
	"PARKWAY":    "PKWY",
	"HIGHWAY":    "HWY",
	"EXPRESSWAY": "EXPY",
	"TERRACE":    "TER",
	"WAY":        "WAY",
	"COVE":       "CV",
	"LOOP":       "LOOP",
	"PASS":       "PASS",
	"PATH":       "PATH",
	"RUN":        "RUN",
	"CROSSING":   "XING",
}

var directionalMap = map[string]string{
	"NORTH":     "N",
	"SOUTH":     "S",
	"EAST":      "E",
	"WEST":      "W",
	"NORTHEAST": "NE",
	"NORTHWEST": "NW",
	"SOUTHEAST": "SE",
	"SOUTHWEST": "SW",
}

var unitMap = map[string]string{
	"APARTMENT": "APT",
	"SUITE":     "STE",
	"UNIT":      "UNIT",
	"BUILDING":  "BLDG",
	"FLOOR":     "FL",
	"ROOM":      "RM",
	"NUMBER":    "#",
	"NO":        "#",
	"NO.":       "#",
	"#":         "#",
}

// stripped punctuation; # is kept because it marks unit numbers.
const punctuation = `.,;:!?'"()[]`

// Normalize maps a raw address string to its canonical comparable form.
// Empty input yields the empty string. Idempotent: Normalize(Normalize(x))
// always equals Normalize(x).
func Normalize(addr string) string {
	if addr == "" {
		return ""
	}

	upper := strings.ToUpper(strings.TrimSpace(addr))

	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if strings.ContainsRune(punctuation, r) {
			continue
		}
		b.WriteRune(r)
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		if rep, ok := directionalMap[w]; ok {
			words[i] = rep
		} else if rep, ok := suffixMap[w]; ok {
			words[i] = rep
		} else if rep, ok := unitMap[w]; ok {
			words[i] = rep
		}
	}

	return strings.Join(words, " ")
}
