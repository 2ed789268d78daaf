package domain

import (
	"math"
	"time"
)

// AddIndicators derives rates and growth metrics for every row. Rows must be
// sorted by entity then date ascending; the input slice is not modified.
//
// Growth rates are the percentage change of the cumulative column from the
// previous row of the same entity. They are null on the first date of the
// range, on each entity's first row, and wherever the previous cumulative
// value was zero.
func AddIndicators(rows []PanelRow) []PanelRow {
	out := make([]PanelRow, len(rows))
	copy(out, rows)
	if len(out) == 0 {
		return out
	}

	minDate := out[0].Date
	for i := range out {
		if out[i].Date.Before(minDate) {
			minDate = out[i].Date
		}
	}

	for i := range out {
		r := &out[i]
		r.MortalityRate = mortalityRate(r.CumDeaths, r.CumCases)
		r.FractionInfected = fractionOf(r.CumCases, r.Population)
		r.FractionDeaths = fractionOf(r.CumDeaths, r.Population)

		if entityStart(out, i, minDate) {
			r.CaseGrowthRate = nil
			r.DeathGrowthRate = nil
			continue
		}
		prev := &out[i-1]
		r.CaseGrowthRate = growthRate(prev.CumCases, r.CumCases)
		r.DeathGrowthRate = growthRate(prev.CumDeaths, r.CumDeaths)
	}
	return out
}

// entityStart reports whether row i has no predecessor of the same entity.
func entityStart(rows []PanelRow, i int, minDate time.Time) bool {
	if i == 0 || rows[i].Date.Equal(minDate) {
		return true
	}
	return rows[i-1].LongCode != rows[i].LongCode
}

// mortalityRate is never null. A non-finite ratio (no cases yet) is 0.
func mortalityRate(deaths, cases int64) float64 {
	v := float64(deaths) / float64(cases)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// fractionOf stays null when the population is unknown or not positive.
func fractionOf(n int64, population *float64) *float64 {
	if population == nil || *population <= 0 {
		return nil
	}
	return float64Ptr(float64(n) / *population)
}

// growthRate maps ±Inf and 0/0 to null.
func growthRate(prev, cur int64) *float64 {
	if prev == 0 {
		return nil
	}
	v := float64(cur-prev) / float64(prev)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return float64Ptr(v)
}
