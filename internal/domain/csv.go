package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// PanelCSVHeader is the column order of the panel's CSV form.
var PanelCSVHeader = []string{
	"date", "country", "alpha_2_code", "alpha_3_code",
	"cases", "deaths", "cum_cases", "cum_deaths",
	"population", "mortality_rate", "fraction_infected", "fraction_deaths",
	"infections_growth_rate", "deaths_growth_rate",
	"region_1", "region_2", "continent",
}

// WritePanelCSV writes rows with a header line. Null values are empty cells.
func WritePanelCSV(w io.Writer, rows []PanelRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PanelCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		rec := []string{
			r.Date.Format(DateLayout),
			r.Entity,
			r.ShortCode,
			r.LongCode,
			strconv.FormatInt(r.Cases, 10),
			strconv.FormatInt(r.Deaths, 10),
			strconv.FormatInt(r.CumCases, 10),
			strconv.FormatInt(r.CumDeaths, 10),
			formatNullable(r.Population),
			formatFloat(r.MortalityRate),
			formatNullable(r.FractionInfected),
			formatNullable(r.FractionDeaths),
			formatNullable(r.CaseGrowthRate),
			formatNullable(r.DeathGrowthRate),
			r.Region1,
			r.Region2,
			r.Continent,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPanelCSV parses the output of WritePanelCSV.
func ReadPanelCSV(r io.Reader) ([]PanelRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	for _, h := range PanelCSVHeader {
		if _, ok := cols[h]; !ok {
			return nil, fmt.Errorf("panel csv: missing column %q", h)
		}
	}

	var rows []PanelRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		p := panelRecord{rec: rec, cols: cols}
		row := PanelRow{
			Entity:           p.str("country"),
			ShortCode:        p.str("alpha_2_code"),
			LongCode:         p.str("alpha_3_code"),
			Cases:            p.integer("cases"),
			Deaths:           p.integer("deaths"),
			CumCases:         p.integer("cum_cases"),
			CumDeaths:        p.integer("cum_deaths"),
			Population:       p.nullable("population"),
			MortalityRate:    p.number("mortality_rate"),
			FractionInfected: p.nullable("fraction_infected"),
			FractionDeaths:   p.nullable("fraction_deaths"),
			CaseGrowthRate:   p.nullable("infections_growth_rate"),
			DeathGrowthRate:  p.nullable("deaths_growth_rate"),
			Region1:          p.str("region_1"),
			Region2:          p.str("region_2"),
			Continent:        p.str("continent"),
		}
		row.Date, p.err = parseDate(p.str("date"), p.err)
		if p.err != nil {
			return nil, fmt.Errorf("panel csv line %d: %w", line, p.err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// panelRecord reads typed cells from one CSV record, keeping the first error.
type panelRecord struct {
	rec  []string
	cols map[string]int
	err  error
}

func (p *panelRecord) str(col string) string {
	i := p.cols[col]
	if i >= len(p.rec) {
		return ""
	}
	return p.rec[i]
}

func (p *panelRecord) integer(col string) int64 {
	v, err := strconv.ParseInt(p.str(col), 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (p *panelRecord) number(col string) float64 {
	v, err := strconv.ParseFloat(p.str(col), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (p *panelRecord) nullable(col string) *float64 {
	if p.str(col) == "" {
		return nil
	}
	v := p.number(col)
	return &v
}

func parseDate(s string, prior error) (time.Time, error) {
	if prior != nil {
		return time.Time{}, prior
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("column date: %w", err)
	}
	return t, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// StateCSVHeader is the column order of the US state panel's CSV form.
var StateCSVHeader = []string{
	"date", "state", "fips", "alpha_code", "cases", "deaths", "cum_cases", "cum_deaths",
}

// WriteStateCSV writes US state rows with a header line.
func WriteStateCSV(w io.Writer, rows []StateRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(StateCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		rec := []string{
			r.Date.Format(DateLayout),
			r.State,
			r.FIPS,
			r.PostalCode,
			strconv.FormatInt(r.Cases, 10),
			strconv.FormatInt(r.Deaths, 10),
			strconv.FormatInt(r.CumCases, 10),
			strconv.FormatInt(r.CumDeaths, 10),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CountyCSVHeader is the column order of the US county panel's CSV form.
var CountyCSVHeader = []string{
	"date", "county", "state", "fips", "cases", "deaths", "cum_cases", "cum_deaths",
}

// WriteCountyCSV writes US county rows with a header line.
func WriteCountyCSV(w io.Writer, rows []CountyRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CountyCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		rec := []string{
			r.Date.Format(DateLayout),
			r.County,
			r.State,
			r.FIPS,
			strconv.FormatInt(r.Cases, 10),
			strconv.FormatInt(r.Deaths, 10),
			strconv.FormatInt(r.CumCases, 10),
			strconv.FormatInt(r.CumDeaths, 10),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
