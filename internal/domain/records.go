package domain

import "time"

// SearchDirection controls which way the primary feed fetch steps the
// reference date after a failed attempt.
type SearchDirection int

const (
	// WalkBack decrements the reference date, searching for the most recent report.
	WalkBack SearchDirection = iota
	// WalkForward increments the reference date.
	WalkForward
)

func (d SearchDirection) String() string {
	if d == WalkForward {
		return "forward"
	}
	return "back"
}

// Step returns t moved one day in the search direction.
func (d SearchDirection) Step(t time.Time) time.Time {
	if d == WalkForward {
		return t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, -1)
}

// RawEventRecord is one row of the daily case/death workbook. Only
// entity/date pairs with reported activity appear in the feed.
type RawEventRecord struct {
	Date       time.Time
	Day        int
	Month      int
	Year       int
	Cases      int64
	Deaths     int64
	Entity     string // display name, underscore-joined in the source
	ShortCode  string // ISO alpha-2
	LongCode   string // ISO alpha-3; empty when the source left it blank
	Population *float64
	// SourceContinent is the optional eleventh column. Retained but never
	// used for the panel's continent; the region join takes precedence.
	SourceContinent string
}

// RawFeed is the parsed primary feed together with the report date that
// was actually retrieved.
type RawFeed struct {
	Records    []RawEventRecord
	ReportDate time.Time
	Attempts   int
}

// EntityCode maps a long entity code to its display name.
type EntityCode struct {
	LongCode  string `json:"alpha_3_code"`
	ShortCode string `json:"alpha_2_code"`
	Name      string `json:"country_name"`
}

// EntityCodeTable is the authoritative list of entities. Rejected holds
// rows whose long code width is not three characters.
type EntityCodeTable struct {
	Codes    []EntityCode
	Rejected []EntityCode
}

// RegionRecord classifies an entity by continent and up to two sub-regions.
type RegionRecord struct {
	LongCode  string
	Continent string
	Region1   string
	Region2   string
}

// PanelRow is one (entity, date) record of the dense panel with all
// derived indicators. Nil pointers are null values.
type PanelRow struct {
	Date      time.Time `json:"date"`
	Entity    string    `json:"country"`
	ShortCode string    `json:"alpha_2_code,omitempty"`
	LongCode  string    `json:"alpha_3_code"`

	Cases     int64 `json:"cases"`
	Deaths    int64 `json:"deaths"`
	CumCases  int64 `json:"cum_cases"`
	CumDeaths int64 `json:"cum_deaths"`

	Population       *float64 `json:"population"`
	MortalityRate    float64  `json:"mortality_rate"`
	FractionInfected *float64 `json:"fraction_infected"`
	FractionDeaths   *float64 `json:"fraction_deaths"`
	CaseGrowthRate   *float64 `json:"infections_growth_rate"`
	DeathGrowthRate  *float64 `json:"deaths_growth_rate"`

	Continent string `json:"continent,omitempty"`
	Region1   string `json:"region_1,omitempty"`
	Region2   string `json:"region_2,omitempty"`
}

// Panel is an assembled, read-only entity × date table.
type Panel struct {
	ReferenceDate time.Time  `json:"reference_date"`
	ReportDate    time.Time  `json:"report_date"`
	Rows          []PanelRow `json:"rows"`
}

// Entities returns the distinct long codes in row order.
func (p *Panel) Entities() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range p.Rows {
		code := p.Rows[i].LongCode
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// DateBounds returns the first and last date present in the panel.
// ok is false for an empty panel.
func (p *Panel) DateBounds() (first, last time.Time, ok bool) {
	for i := range p.Rows {
		d := p.Rows[i].Date
		if !ok || d.Before(first) {
			first = d
		}
		if !ok || d.After(last) {
			last = d
		}
		ok = true
	}
	return first, last, ok
}

func float64Ptr(v float64) *float64 { return &v }
