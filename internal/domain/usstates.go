package domain

import (
	"sort"
	"time"
)

// StateRecord is one row of the US state feed. Unlike the country feed its
// counts are cumulative.
type StateRecord struct {
	Date      time.Time
	State     string
	FIPS      string // two-digit, zero padded
	CumCases  int64
	CumDeaths int64
}

// StateCode maps a state FIPS code to its name and postal code.
type StateCode struct {
	Name       string
	PostalCode string
	FIPS       string
}

// StateRow is one (state, date) record of the dense US state panel.
type StateRow struct {
	Date       time.Time `json:"date"`
	State      string    `json:"state"`
	FIPS       string    `json:"fips"`
	PostalCode string    `json:"alpha_code,omitempty"`
	Cases      int64     `json:"cases"`
	Deaths     int64     `json:"deaths"`
	CumCases   int64     `json:"cum_cases"`
	CumDeaths  int64     `json:"cum_deaths"`
}

// DensifyCumulative builds a dense state panel from a cumulative feed.
// Missing dates carry the last cumulative value forward (zero before the
// first report); daily counts are the day-over-day difference, zero on each
// state's first date. States listed in codes but absent from the feed get
// zero rows. Postal codes are joined by FIPS.
func DensifyCumulative(records []StateRecord, codes []StateCode) []StateRow {
	if len(records) == 0 {
		return nil
	}
	groups := make(map[string][]StateRecord)
	reportedOn := make([]time.Time, len(records))
	for i, r := range records {
		groups[r.FIPS] = append(groups[r.FIPS], r)
		reportedOn[i] = r.Date
	}
	dates := cumulativeSpan(reportedOn)

	postal := make(map[string]string, len(codes))
	for _, c := range codes {
		postal[c.FIPS] = c.PostalCode
	}

	var rows []StateRow
	for fips, recs := range groups {
		reported := make(map[time.Time][2]int64, len(recs))
		for _, r := range recs {
			reported[r.Date] = [2]int64{r.CumCases, r.CumDeaths}
		}
		for i, t := range fillCumulative(dates, reported) {
			rows = append(rows, StateRow{
				Date:       dates[i],
				State:      recs[0].State,
				FIPS:       fips,
				PostalCode: postal[fips],
				Cases:      t.cases,
				Deaths:     t.deaths,
				CumCases:   t.cumCases,
				CumDeaths:  t.cumDeaths,
			})
		}
	}

	for _, c := range codes {
		if _, ok := groups[c.FIPS]; ok {
			continue
		}
		for _, d := range dates {
			rows = append(rows, StateRow{Date: d, State: c.Name, FIPS: c.FIPS, PostalCode: c.PostalCode})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].State != rows[j].State {
			return rows[i].State < rows[j].State
		}
		return rows[i].Date.Before(rows[j].Date)
	})
	return rows
}

// tally is one date of a cumulative series after filling.
type tally struct {
	cases, deaths       int64
	cumCases, cumDeaths int64
}

// fillCumulative lays reported cumulative (cases, deaths) over dates.
// Missing dates carry the last value forward, zero before the first report.
// Daily counts are the day-over-day difference, zero on the first date.
func fillCumulative(dates []time.Time, reported map[time.Time][2]int64) []tally {
	out := make([]tally, len(dates))
	var prev [2]int64
	for i, d := range dates {
		cur, ok := reported[d]
		if !ok {
			cur = prev
		}
		out[i] = tally{cumCases: cur[0], cumDeaths: cur[1]}
		if i > 0 {
			out[i].cases = cur[0] - prev[0]
			out[i].deaths = cur[1] - prev[1]
		}
		prev = cur
	}
	return out
}

// cumulativeSpan returns every date between the earliest and latest of dates.
func cumulativeSpan(dates []time.Time) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	from, to := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}
	return DateRange(from, to)
}
