package domain

import (
	"fmt"
	"math"
	"time"
)

// Violation is one broken panel invariant.
type Violation struct {
	Rule     string
	LongCode string
	Date     time.Time
	Detail   string
}

func (v Violation) String() string {
	if v.Date.IsZero() {
		return fmt.Sprintf("[%s] %s: %s", v.Rule, v.LongCode, v.Detail)
	}
	return fmt.Sprintf("[%s] %s %s: %s", v.Rule, v.LongCode, v.Date.Format(DateLayout), v.Detail)
}

// Invariant rule names reported by CheckPanel.
const (
	RuleDuplicate    = "duplicate"
	RuleCompleteness = "completeness"
	RuleMonotonic    = "monotonic"
	RuleMortality    = "mortality"
	RuleGrowth       = "growth"
	RuleRunningSum   = "running_sum"
	RuleOrder        = "order"
)

// CheckPanel verifies the panel invariants over rows sorted by entity then
// date: one row per (entity, date), every expected entity present for every
// date of the range, non-decreasing cumulative counts, finite mortality
// rates, null growth rates on the first date and after a zero, cumulative
// counts equal to the running sum of daily counts, and rows ordered by
// display name, long code, then date.
// Pass nil expected to only check the entities present.
func CheckPanel(rows []PanelRow, expected []string) []Violation {
	var out []Violation
	if len(rows) == 0 {
		for _, code := range expected {
			out = append(out, Violation{Rule: RuleCompleteness, LongCode: code, Detail: "entity absent"})
		}
		return out
	}

	p := Panel{Rows: rows}
	from, to, _ := p.DateBounds()
	want := len(DateRange(from, to))

	seen := make(map[string]map[time.Time]bool)
	for i := range rows {
		r := &rows[i]
		dates := seen[r.LongCode]
		if dates == nil {
			dates = make(map[time.Time]bool)
			seen[r.LongCode] = dates
		}
		if dates[r.Date] {
			out = append(out, Violation{Rule: RuleDuplicate, LongCode: r.LongCode, Date: r.Date, Detail: "row appears more than once"})
		}
		dates[r.Date] = true

		if math.IsNaN(r.MortalityRate) || math.IsInf(r.MortalityRate, 0) {
			out = append(out, Violation{Rule: RuleMortality, LongCode: r.LongCode, Date: r.Date, Detail: "not finite"})
		}
		if r.CumCases == 0 && r.MortalityRate != 0 {
			out = append(out, Violation{Rule: RuleMortality, LongCode: r.LongCode, Date: r.Date, Detail: "non-zero without cases"})
		}

		if i > 0 && rowLess(r, &rows[i-1]) {
			out = append(out, Violation{Rule: RuleOrder, LongCode: r.LongCode, Date: r.Date, Detail: "row sorts before its predecessor"})
		}

		newEntity := i == 0 || rows[i-1].LongCode != r.LongCode
		var prevCases, prevDeaths int64
		if !newEntity {
			prevCases, prevDeaths = rows[i-1].CumCases, rows[i-1].CumDeaths
		}
		if r.CumCases != prevCases+r.Cases || r.CumDeaths != prevDeaths+r.Deaths {
			out = append(out, Violation{
				Rule: RuleRunningSum, LongCode: r.LongCode, Date: r.Date,
				Detail: fmt.Sprintf("cumulative %d/%d, running sum %d/%d",
					r.CumCases, r.CumDeaths, prevCases+r.Cases, prevDeaths+r.Deaths),
			})
		}

		first := newEntity || r.Date.Equal(from)
		if first {
			if r.CaseGrowthRate != nil || r.DeathGrowthRate != nil {
				out = append(out, Violation{Rule: RuleGrowth, LongCode: r.LongCode, Date: r.Date, Detail: "set on first date"})
			}
			continue
		}
		prev := &rows[i-1]
		if r.CumCases < prev.CumCases || r.CumDeaths < prev.CumDeaths {
			out = append(out, Violation{Rule: RuleMonotonic, LongCode: r.LongCode, Date: r.Date, Detail: "cumulative count decreased"})
		}
		if prev.CumCases == 0 && r.CaseGrowthRate != nil {
			out = append(out, Violation{Rule: RuleGrowth, LongCode: r.LongCode, Date: r.Date, Detail: "case growth set after zero"})
		}
		if prev.CumDeaths == 0 && r.DeathGrowthRate != nil {
			out = append(out, Violation{Rule: RuleGrowth, LongCode: r.LongCode, Date: r.Date, Detail: "death growth set after zero"})
		}
	}

	for code, dates := range seen {
		if len(dates) != want {
			out = append(out, Violation{
				Rule:     RuleCompleteness,
				LongCode: code,
				Detail:   fmt.Sprintf("%d of %d dates", len(dates), want),
			})
		}
	}
	for _, code := range expected {
		if _, ok := seen[code]; !ok {
			out = append(out, Violation{Rule: RuleCompleteness, LongCode: code, Detail: "entity absent"})
		}
	}
	return out
}

// rowLess is the ordering applied by SortRows.
func rowLess(a, b *PanelRow) bool {
	if a.Entity != b.Entity {
		return a.Entity < b.Entity
	}
	if a.LongCode != b.LongCode {
		return a.LongCode < b.LongCode
	}
	return a.Date.Before(b.Date)
}
