// Package mockdata renders raw source documents (feed workbook, entity-code
// and region HTML tables, US state feeds) from domain values. Tests and the
// genmock command serve them in place of the live sources.
package mockdata

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// FeedHeader is the ten-column header of the primary feed workbook.
var FeedHeader = []string{
	"dateRep", "day", "month", "year", "cases", "deaths",
	"countriesAndTerritories", "geoId", "countryterritoryCode", "popData2018",
}

// FeedWorkbook renders records as a feed workbook. When withContinent is set
// the optional eleventh column is included.
func FeedWorkbook(records []domain.RawEventRecord, withContinent bool) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]any, 0, len(FeedHeader)+1)
	for _, h := range FeedHeader {
		header = append(header, h)
	}
	if withContinent {
		header = append(header, "continentExp")
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, r := range records {
		row := []any{
			r.Date.Format("02/01/2006"),
			r.Date.Day(), int(r.Date.Month()), r.Date.Year(),
			r.Cases, r.Deaths,
			r.Entity, r.ShortCode, r.LongCode,
		}
		if r.Population != nil {
			row = append(row, *r.Population)
		} else {
			row = append(row, "")
		}
		if withContinent {
			row = append(row, r.SourceContinent)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// EntityCodesHTML renders codes the way the public code list lays them out:
// a two-level header above name, alpha-2 and alpha-3 columns.
func EntityCodesHTML(codes []domain.EntityCode) string {
	var sb strings.Builder
	sb.WriteString("<html><body>\n<table class=\"wikitable sortable\">\n<tbody>\n")
	sb.WriteString(`<tr><th rowspan="2">Country name<sup class="reference">[5]</sup></th>` +
		`<th colspan="2">ISO 3166-1</th></tr>` + "\n")
	sb.WriteString("<tr><th>Alpha-2 code</th><th>Alpha-3 code</th></tr>\n")
	for _, c := range codes {
		fmt.Fprintf(&sb, "<tr><td><a href=\"#\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(c.Name), html.EscapeString(c.ShortCode), html.EscapeString(c.LongCode))
	}
	sb.WriteString("</tbody>\n</table>\n</body></html>\n")
	return sb.String()
}

// RegionsHTML renders the region mapping as the third table of the page,
// preceded by a leading ordinal column.
func RegionsHTML(regions []domain.RegionRecord) string {
	var sb strings.Builder
	sb.WriteString("<html><body>\n")
	sb.WriteString("<table><tr><th>Continent</th><th>Countries</th></tr><tr><td>Asia</td><td>48</td></tr></table>\n")
	sb.WriteString("<table><tr><th>Region</th></tr><tr><td>Eastern Africa</td></tr></table>\n")
	sb.WriteString("<table id=\"table_id\">\n<thead><tr><th>No.</th><th>Country or Area</th>" +
		"<th>ISO-alpha3 Code</th><th>M49 code</th><th>Region 1</th><th>Region 2</th><th>Continent</th></tr></thead>\n<tbody>\n")
	for i, r := range regions {
		fmt.Fprintf(&sb, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%03d</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			i+1, html.EscapeString(r.LongCode), html.EscapeString(r.LongCode), i+1,
			html.EscapeString(r.Region1), html.EscapeString(r.Region2), html.EscapeString(r.Continent))
	}
	sb.WriteString("</tbody>\n</table>\n</body></html>\n")
	return sb.String()
}

// StatesCSV renders the cumulative US state feed.
func StatesCSV(records []domain.StateRecord) string {
	var sb strings.Builder
	sb.WriteString("date,state,fips,cases,deaths\n")
	for _, r := range records {
		sb.WriteString(strings.Join([]string{
			r.Date.Format(domain.DateLayout),
			r.State,
			r.FIPS,
			strconv.FormatInt(r.CumCases, 10),
			strconv.FormatInt(r.CumDeaths, 10),
		}, ","))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// CountiesCSV renders the cumulative US county feed. FIPS is written as
// given, so callers can reproduce the blank codes of aggregated rows.
func CountiesCSV(records []domain.CountyRecord) string {
	var sb strings.Builder
	sb.WriteString("date,county,state,fips,cases,deaths\n")
	for _, r := range records {
		sb.WriteString(strings.Join([]string{
			r.Date.Format(domain.DateLayout),
			r.County,
			r.State,
			r.FIPS,
			strconv.FormatInt(r.CumCases, 10),
			strconv.FormatInt(r.CumDeaths, 10),
		}, ","))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// StateCodesHTML renders the state name, postal code and FIPS table.
func StateCodesHTML(codes []domain.StateCode) string {
	var sb strings.Builder
	sb.WriteString("<html><body><table>\n<tr><th>Name</th><th>Postal Code</th><th>FIPS</th></tr>\n")
	for _, c := range codes {
		fmt.Fprintf(&sb, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(c.Name), html.EscapeString(c.PostalCode), html.EscapeString(c.FIPS))
	}
	sb.WriteString("</table></body></html>\n")
	return sb.String()
}
