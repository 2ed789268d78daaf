package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// FetchUSStates retrieves the cumulative state-level CSV feed.
func (c *Client) FetchUSStates(ctx context.Context) ([]domain.StateRecord, error) {
	body, err := c.fetchOnce(ctx, domain.InputUSStates, c.usStatesURL)
	if err != nil {
		return nil, err
	}
	records, err := parseUSStates(body)
	if err != nil {
		return nil, malformed(domain.InputUSStates, c.usStatesURL, err)
	}
	return records, nil
}

// FetchUSStateCodes retrieves the state name, postal code and FIPS table.
func (c *Client) FetchUSStateCodes(ctx context.Context) ([]domain.StateCode, error) {
	body, err := c.fetchOnce(ctx, domain.InputUSStateCodes, c.usStateCodesURL)
	if err != nil {
		return nil, err
	}
	tables, err := parseHTMLTables(body)
	if err != nil {
		return nil, malformed(domain.InputUSStateCodes, c.usStateCodesURL, domain.MalformedError(domain.InputUSStateCodes, "parse html: %v", err))
	}
	for _, t := range tables {
		if codes, ok := parseStateCodes(t); ok {
			return codes, nil
		}
	}
	return nil, malformed(domain.InputUSStateCodes, c.usStateCodesURL,
		domain.MalformedError(domain.InputUSStateCodes, "no table with name, postal_code and fips columns"))
}

func parseUSStates(body []byte) ([]domain.StateRecord, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, domain.MalformedError(domain.InputUSStates, "read header: %v", err)
	}
	headers := domain.NormalizeHeaders(header)
	dateCol := domain.ColumnIndex(headers, "date")
	stateCol := domain.ColumnIndex(headers, "state")
	fipsCol := domain.ColumnIndex(headers, "fips")
	casesCol := domain.ColumnIndex(headers, "cases")
	deathsCol := domain.ColumnIndex(headers, "deaths")
	if dateCol < 0 || stateCol < 0 || fipsCol < 0 || casesCol < 0 || deathsCol < 0 {
		return nil, domain.MalformedError(domain.InputUSStates, "expected date,state,fips,cases,deaths columns, got %v", headers)
	}

	var out []domain.StateRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.MalformedError(domain.InputUSStates, "line %d: %v", line, err)
		}
		date, err := time.Parse(domain.DateLayout, at(row, dateCol))
		if err != nil {
			return nil, domain.MalformedError(domain.InputUSStates, "line %d: bad date %q", line, at(row, dateCol))
		}
		cases, err := parseCount(at(row, casesCol))
		if err != nil {
			return nil, domain.MalformedError(domain.InputUSStates, "line %d: cases: %v", line, err)
		}
		deaths, err := parseCount(at(row, deathsCol))
		if err != nil {
			return nil, domain.MalformedError(domain.InputUSStates, "line %d: deaths: %v", line, err)
		}
		out = append(out, domain.StateRecord{
			Date:      date,
			State:     at(row, stateCol),
			FIPS:      padFIPS(at(row, fipsCol), stateFIPSWidth),
			CumCases:  cases,
			CumDeaths: deaths,
		})
	}
	return out, nil
}

func parseStateCodes(t htmlTable) ([]domain.StateCode, bool) {
	headers := domain.NormalizeHeaders(t.columns())
	nameCol := domain.ColumnIndex(headers, "name", "state")
	postalCol := domain.ColumnIndex(headers, "postal_code", "postal")
	fipsCol := domain.ColumnIndex(headers, "fips", "fips_code")
	if nameCol < 0 || postalCol < 0 || fipsCol < 0 {
		return nil, false
	}
	var out []domain.StateCode
	for _, row := range t.rows {
		fips := padFIPS(at(row, fipsCol), stateFIPSWidth)
		if fips == "" {
			continue
		}
		out = append(out, domain.StateCode{
			Name:       at(row, nameCol),
			PostalCode: at(row, postalCol),
			FIPS:       fips,
		})
	}
	return out, len(out) > 0
}

// FIPS code widths: two digits for a state, five for a county.
const (
	stateFIPSWidth  = 2
	countyFIPSWidth = 5
)

// padFIPS zero-pads a FIPS code to width digits. Blank stays blank.
func padFIPS(s string, width int) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
