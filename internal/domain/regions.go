package domain

import "strings"

// DefaultContinentOverrides forces the continent of entities whose region
// source classifies them differently from the dashboard's grouping. Keys are
// display names.
var DefaultContinentOverrides = map[string]string{
	"Kosovo":  "Europe",
	"Taiwan":  "Asia",
	"Bonaire": "South America",
}

// EnrichRegions left-joins region data onto rows by long code, applies the
// continent overrides by display name, and replaces underscores in display
// names with spaces. Unmatched entities keep empty region fields. The input
// slice is not modified.
func EnrichRegions(rows []PanelRow, regions []RegionRecord, overrides map[string]string) []PanelRow {
	byCode := make(map[string]RegionRecord, len(regions))
	for _, r := range regions {
		if _, dup := byCode[r.LongCode]; !dup {
			byCode[r.LongCode] = r
		}
	}

	forced := make(map[string]string, len(overrides))
	for name, continent := range overrides {
		forced[displayName(name)] = continent
	}

	out := make([]PanelRow, len(rows))
	for i, row := range rows {
		if r, ok := byCode[row.LongCode]; ok {
			row.Continent = r.Continent
			row.Region1 = r.Region1
			row.Region2 = r.Region2
		}
		row.Entity = displayName(row.Entity)
		if continent, ok := forced[row.Entity]; ok {
			row.Continent = continent
		}
		out[i] = row
	}
	return out
}

func displayName(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
