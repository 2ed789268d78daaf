package source

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// FetchEntityCodes retrieves the entity-code table. Codes that are not
// exactly three characters wide are returned in Rejected.
func (c *Client) FetchEntityCodes(ctx context.Context) (domain.EntityCodeTable, error) {
	body, err := c.fetchOnce(ctx, domain.InputEntityCodes, c.entityCodesURL)
	if err != nil {
		return domain.EntityCodeTable{}, err
	}
	table, err := selectTable(domain.InputEntityCodes, body, c.entityCodesTable)
	if err != nil {
		return domain.EntityCodeTable{}, malformed(domain.InputEntityCodes, c.entityCodesURL, err)
	}
	codes, err := parseEntityCodes(table)
	if err != nil {
		return domain.EntityCodeTable{}, malformed(domain.InputEntityCodes, c.entityCodesURL, err)
	}
	if len(codes.Rejected) > 0 {
		c.logger.Warn("entity codes rejected", "count", len(codes.Rejected))
		c.metrics.RejectedCodes.Set(float64(len(codes.Rejected)))
	}
	return codes, nil
}

// FetchRegionMapping retrieves the long-code to continent and region table.
func (c *Client) FetchRegionMapping(ctx context.Context) ([]domain.RegionRecord, error) {
	body, err := c.fetchOnce(ctx, domain.InputRegionMapping, c.regionsURL)
	if err != nil {
		return nil, err
	}
	table, err := selectTable(domain.InputRegionMapping, body, c.regionsTable)
	if err != nil {
		return nil, malformed(domain.InputRegionMapping, c.regionsURL, err)
	}
	regions, err := parseRegions(table)
	if err != nil {
		return nil, malformed(domain.InputRegionMapping, c.regionsURL, err)
	}
	return regions, nil
}

func selectTable(source string, body []byte, index int) (htmlTable, error) {
	tables, err := parseHTMLTables(body)
	if err != nil {
		return htmlTable{}, domain.MalformedError(source, "parse html: %v", err)
	}
	if index < 0 || index >= len(tables) {
		return htmlTable{}, domain.MalformedError(source, "table %d not found, document has %d tables", index, len(tables))
	}
	return tables[index], nil
}

func parseEntityCodes(t htmlTable) (domain.EntityCodeTable, error) {
	headers := domain.NormalizeHeaders(t.columns())
	longCol := domain.ColumnIndex(headers, "alpha_3_code", "alpha_3")
	if longCol < 0 {
		return domain.EntityCodeTable{}, domain.MalformedError(domain.InputEntityCodes,
			"missing alpha_3_code column in %v", headers)
	}
	shortCol := domain.ColumnIndex(headers, "alpha_2_code", "alpha_2")
	nameCol := domain.ColumnIndex(headers, "country_name", "english_short_name", "country")
	if nameCol < 0 {
		nameCol = 0
	}

	var out domain.EntityCodeTable
	for _, row := range t.rows {
		code := entityCodeFrom(row, longCol, shortCol, nameCol)
		if code.LongCode == "" && code.Name == "" {
			continue
		}
		if utf8.RuneCountInString(code.LongCode) == 3 {
			out.Codes = append(out.Codes, code)
		} else {
			out.Rejected = append(out.Rejected, code)
		}
	}
	return out, nil
}

// entityCodeFrom builds a code row from positional cells. A negative column
// leaves the field empty.
func entityCodeFrom(row []string, longCol, shortCol, nameCol int) domain.EntityCode {
	return domain.EntityCode{
		LongCode:  at(row, longCol),
		ShortCode: at(row, shortCol),
		Name:      at(row, nameCol),
	}
}

// ordinalHeaders name the leading row-number column of the region table.
var ordinalHeaders = map[string]bool{"": true, "no": true, "no.": true, "#": true, "s.no.": true, "sr.": true}

func parseRegions(t htmlTable) ([]domain.RegionRecord, error) {
	headers := domain.NormalizeHeaders(t.columns())
	offset := 0
	if len(headers) > 0 && ordinalHeaders[headers[0]] {
		offset = 1
		headers = headers[1:]
	}

	codeCol := domain.ColumnIndex(headers, "iso_alpha3_code", "iso_alpha_3_code", "alpha_3_code")
	continentCol := domain.ColumnIndex(headers, "continent")
	if codeCol < 0 || continentCol < 0 {
		return nil, domain.MalformedError(domain.InputRegionMapping,
			"missing iso_alpha3_code or continent column in %v", headers)
	}
	region1Col := domain.ColumnIndex(headers, "region_1")
	region2Col := domain.ColumnIndex(headers, "region_2")

	out := make([]domain.RegionRecord, 0, len(t.rows))
	for _, row := range t.rows {
		if len(row) < offset {
			continue
		}
		cells := row[offset:]
		code := at(cells, codeCol)
		if code == "" {
			continue
		}
		out = append(out, domain.RegionRecord{
			LongCode:  code,
			Continent: at(cells, continentCol),
			Region1:   at(cells, region1Col),
			Region2:   at(cells, region2Col),
		})
	}
	if len(out) == 0 {
		return nil, domain.MalformedError(domain.InputRegionMapping, "table has no rows")
	}
	return out, nil
}

func at(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
