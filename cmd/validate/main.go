// Command validate checks an assembled panel CSV for integrity: one row per
// entity and date with no gaps, cumulative counts matching the running sum
// of daily counts, and rows in (entity, date) order.
//
// Usage:
//
//	go run ./cmd/validate -panel panel.csv
//	go run ./cmd/validate -panel panel.csv -expect ITA,KOR,XKX
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	panelPath := flag.String("panel", "", "path to an assembled panel CSV")
	expect := flag.String("expect", "", "comma-separated long codes that must all be present")
	flag.Parse()

	if *panelPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	var expected []string
	if *expect != "" {
		expected = strings.Split(*expect, ",")
	}
	os.Exit(run(*panelPath, expected))
}

func run(path string, expected []string) int {
	fmt.Println("=== Panel Integrity Validation ===")
	fmt.Println()

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open panel: %v\n", err)
		return 1
	}
	rows, err := domain.ReadPanelCSV(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read panel: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateStructure(rows, expected),
		validateIndicators(rows),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	panel := domain.Panel{Rows: rows}
	fmt.Println()
	fmt.Printf("Rows: %d, entities: %d", len(rows), len(panel.Entities()))
	if first, last, ok := panel.DateBounds(); ok {
		fmt.Printf(", dates: %s to %s", first.Format(domain.DateLayout), last.Format(domain.DateLayout))
	}
	fmt.Println()

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateStructure(rows []domain.PanelRow, expected []string) *phase {
	p := &phase{name: "Structure (dense, unique, running sum, sorted)"}
	for _, v := range domain.CheckPanel(rows, expected) {
		p.errorf("%s", v)
	}
	return p
}

// validateIndicators recomputes the derived columns from the counts.
func validateIndicators(rows []domain.PanelRow) *phase {
	p := &phase{name: "Indicators match counts"}
	recomputed := domain.AddIndicators(rows)
	for i := range rows {
		got, want := &rows[i], &recomputed[i]
		label := got.LongCode + " " + got.Date.Format(domain.DateLayout)
		if !approxEqual(got.MortalityRate, want.MortalityRate) {
			p.errorf("%s: mortality_rate %v, want %v", label, got.MortalityRate, want.MortalityRate)
		}
		checkNullable(p, label, "fraction_infected", got.FractionInfected, want.FractionInfected)
		checkNullable(p, label, "fraction_deaths", got.FractionDeaths, want.FractionDeaths)
		checkNullable(p, label, "infections_growth_rate", got.CaseGrowthRate, want.CaseGrowthRate)
		checkNullable(p, label, "deaths_growth_rate", got.DeathGrowthRate, want.DeathGrowthRate)
	}
	return p
}

func checkNullable(p *phase, label, col string, got, want *float64) {
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		p.errorf("%s: %s null mismatch (got %v, want %v)", label, col, deref(got), deref(want))
	case !approxEqual(*got, *want):
		p.errorf("%s: %s %v, want %v", label, col, *got, *want)
	}
}

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 1e-9
}

func deref(v *float64) any {
	if v == nil {
		return "null"
	}
	return *v
}
