package domain

import (
	"sort"
	"strings"
	"time"
)

// County FIPS codes assigned to feed rows that aggregate several counties
// and carry no code of their own.
const (
	FIPSNewYorkCity = "36061" // New York County (Manhattan)
	FIPSKansasCity  = "20085"
)

// CountyRecord is one row of the US county feed. Counts are cumulative.
type CountyRecord struct {
	Date      time.Time
	County    string
	State     string
	FIPS      string // five-digit, zero padded
	CumCases  int64
	CumDeaths int64
}

// CountyRow is one (county, date) record of the dense US county panel.
type CountyRow struct {
	Date      time.Time `json:"date"`
	County    string    `json:"county"`
	State     string    `json:"state"`
	FIPS      string    `json:"fips"`
	Cases     int64     `json:"cases"`
	Deaths    int64     `json:"deaths"`
	CumCases  int64     `json:"cum_cases"`
	CumDeaths int64     `json:"cum_deaths"`
}

// ResolveCountyFIPS returns the code a county feed row is keyed by. New York
// City and Kansas City are mapped to fixed counties. ok is false for rows
// that cannot be placed: the "Unknown" county and rows without a code.
func ResolveCountyFIPS(county, fips string) (code string, ok bool) {
	switch strings.TrimSpace(county) {
	case "Unknown":
		return "", false
	case "New York City":
		return FIPSNewYorkCity, true
	case "Kansas City":
		return FIPSKansasCity, true
	}
	fips = strings.TrimSpace(fips)
	if fips == "" {
		return "", false
	}
	return fips, true
}

// DensifyCounties builds a dense county panel from a cumulative feed keyed
// by FIPS, filling dates the way DensifyCumulative does. Each county takes
// its name and state from its first record. Rows are ordered by county,
// state, FIPS, then date.
func DensifyCounties(records []CountyRecord) []CountyRow {
	if len(records) == 0 {
		return nil
	}
	groups := make(map[string][]CountyRecord)
	reportedOn := make([]time.Time, len(records))
	for i, r := range records {
		groups[r.FIPS] = append(groups[r.FIPS], r)
		reportedOn[i] = r.Date
	}
	dates := cumulativeSpan(reportedOn)

	rows := make([]CountyRow, 0, len(groups)*len(dates))
	for fips, recs := range groups {
		reported := make(map[time.Time][2]int64, len(recs))
		for _, r := range recs {
			reported[r.Date] = [2]int64{r.CumCases, r.CumDeaths}
		}
		for i, t := range fillCumulative(dates, reported) {
			rows = append(rows, CountyRow{
				Date:      dates[i],
				County:    recs[0].County,
				State:     recs[0].State,
				FIPS:      fips,
				Cases:     t.cases,
				Deaths:    t.deaths,
				CumCases:  t.cumCases,
				CumDeaths: t.cumDeaths,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := &rows[i], &rows[j]
		if a.County != b.County {
			return a.County < b.County
		}
		if a.State != b.State {
			return a.State < b.State
		}
		if a.FIPS != b.FIPS {
			return a.FIPS < b.FIPS
		}
		return a.Date.Before(b.Date)
	})
	return rows
}
