package domain

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// DenseResult is the output of Densify: the dense rows plus everything that
// was skipped or flagged along the way.
type DenseResult struct {
	Rows []PanelRow
	From time.Time
	To   time.Time

	// Errors lists entities skipped because their rows could not be synthesized.
	Errors []EntitySynthesisError
	// Unlisted holds feed long codes that are absent from the entity-code
	// table. Their rows are excluded from the panel.
	Unlisted []string
	// Decreasing holds entities with at least one negative daily count, which
	// makes their cumulative series decrease.
	Decreasing []string
	// DuplicateCodes holds long codes listed more than once in the
	// entity-code table. The first listing is used.
	DuplicateCodes []string
}

// Densify expands the sparse feed into a dense panel: every listed entity
// gets one row per date of the feed's global date range, with zero-valued
// rows for unreported dates and running cumulative totals.
//
// Entities present in codes but absent from the feed get a full run of zero
// rows with unknown population. When codes is empty every feed entity is
// kept. Records must carry a long code.
func Densify(records []RawEventRecord, codes []EntityCode) DenseResult {
	var res DenseResult
	if len(records) == 0 {
		return res
	}

	res.From, res.To = records[0].Date, records[0].Date
	for i := range records {
		d := records[i].Date
		if d.Before(res.From) {
			res.From = d
		}
		if d.After(res.To) {
			res.To = d
		}
	}
	dates := DateRange(res.From, res.To)

	listed := make(map[string]EntityCode, len(codes))
	unique := make([]EntityCode, 0, len(codes))
	for _, c := range codes {
		if _, dup := listed[c.LongCode]; dup {
			if !slices.Contains(res.DuplicateCodes, c.LongCode) {
				res.DuplicateCodes = append(res.DuplicateCodes, c.LongCode)
			}
			continue
		}
		listed[c.LongCode] = c
		unique = append(unique, c)
	}

	groups := make(map[string][]RawEventRecord)
	for i := range records {
		code := records[i].LongCode
		groups[code] = append(groups[code], records[i])
	}
	feedCodes := make([]string, 0, len(groups))
	for code := range groups {
		feedCodes = append(feedCodes, code)
	}
	sort.Strings(feedCodes)

	for _, code := range feedCodes {
		if len(listed) > 0 {
			if _, ok := listed[code]; !ok {
				res.Unlisted = append(res.Unlisted, code)
				continue
			}
		}
		rows, decreasing, err := fillEntity(groups[code], dates)
		if err != nil {
			res.Errors = append(res.Errors, *err)
			continue
		}
		if decreasing {
			res.Decreasing = append(res.Decreasing, code)
		}
		res.Rows = append(res.Rows, rows...)
	}

	for _, c := range unique {
		if _, reported := groups[c.LongCode]; reported {
			continue
		}
		rows, err := zeroEntity(c, dates)
		if err != nil {
			res.Errors = append(res.Errors, *err)
			continue
		}
		res.Rows = append(res.Rows, rows...)
	}

	SortRows(res.Rows)
	return res
}

// fillEntity synthesizes the missing dates of one reported entity and
// accumulates its counts over the sorted sequence.
func fillEntity(recs []RawEventRecord, dates []time.Time) ([]PanelRow, bool, *EntitySynthesisError) {
	static := recs[0]
	if static.Entity == "" {
		return nil, false, &EntitySynthesisError{LongCode: static.LongCode, Reason: "missing display name"}
	}

	byDate := make(map[time.Time]RawEventRecord, len(recs))
	var population *float64
	for _, r := range recs {
		if _, dup := byDate[r.Date]; dup {
			return nil, false, &EntitySynthesisError{
				LongCode: static.LongCode,
				Entity:   static.Entity,
				Reason:   fmt.Sprintf("duplicate report for %s", r.Date.Format(DateLayout)),
			}
		}
		byDate[r.Date] = r
		if population == nil && r.Population != nil {
			population = r.Population
		}
	}

	rows := make([]PanelRow, 0, len(dates))
	var cumCases, cumDeaths int64
	decreasing := false
	for _, d := range dates {
		row := PanelRow{
			Date:       d,
			Entity:     static.Entity,
			ShortCode:  static.ShortCode,
			LongCode:   static.LongCode,
			Population: population,
		}
		if r, ok := byDate[d]; ok {
			row.Cases = r.Cases
			row.Deaths = r.Deaths
		}
		if row.Cases < 0 || row.Deaths < 0 {
			decreasing = true
		}
		cumCases += row.Cases
		cumDeaths += row.Deaths
		row.CumCases = cumCases
		row.CumDeaths = cumDeaths
		rows = append(rows, row)
	}
	return rows, decreasing, nil
}

// zeroEntity builds a full zero run for an entity that never reported.
func zeroEntity(c EntityCode, dates []time.Time) ([]PanelRow, *EntitySynthesisError) {
	if c.Name == "" {
		return nil, &EntitySynthesisError{LongCode: c.LongCode, Reason: "missing display name"}
	}
	rows := make([]PanelRow, len(dates))
	for i, d := range dates {
		rows[i] = PanelRow{
			Date:      d,
			Entity:    c.Name,
			ShortCode: c.ShortCode,
			LongCode:  c.LongCode,
		}
	}
	return rows, nil
}

// SortRows orders rows by display name, then long code, then date.
func SortRows(rows []PanelRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rowLess(&rows[i], &rows[j]) })
}
