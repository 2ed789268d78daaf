package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"time"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// FetchUSCounties retrieves the cumulative county-level CSV feed. Rows
// that cannot be keyed by a county FIPS code are dropped.
func (c *Client) FetchUSCounties(ctx context.Context) ([]domain.CountyRecord, error) {
	body, err := c.fetchOnce(ctx, domain.InputUSCounties, c.usCountiesURL)
	if err != nil {
		return nil, err
	}
	records, dropped, err := parseUSCounties(body)
	if err != nil {
		return nil, malformed(domain.InputUSCounties, c.usCountiesURL, err)
	}
	if dropped > 0 {
		c.logger.Info("dropped county rows without a county code", "rows", dropped)
	}
	return records, nil
}

func parseUSCounties(body []byte) ([]domain.CountyRecord, int, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, 0, domain.MalformedError(domain.InputUSCounties, "read header: %v", err)
	}
	headers := domain.NormalizeHeaders(header)
	dateCol := domain.ColumnIndex(headers, "date")
	countyCol := domain.ColumnIndex(headers, "county")
	stateCol := domain.ColumnIndex(headers, "state")
	fipsCol := domain.ColumnIndex(headers, "fips")
	casesCol := domain.ColumnIndex(headers, "cases")
	deathsCol := domain.ColumnIndex(headers, "deaths")
	if dateCol < 0 || countyCol < 0 || stateCol < 0 || fipsCol < 0 || casesCol < 0 || deathsCol < 0 {
		return nil, 0, domain.MalformedError(domain.InputUSCounties,
			"expected date,county,state,fips,cases,deaths columns, got %v", headers)
	}

	var (
		out     []domain.CountyRecord
		dropped int
	)
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, domain.MalformedError(domain.InputUSCounties, "line %d: %v", line, err)
		}
		county := at(row, countyCol)
		fips, ok := domain.ResolveCountyFIPS(county, at(row, fipsCol))
		if !ok {
			dropped++
			continue
		}
		date, err := time.Parse(domain.DateLayout, at(row, dateCol))
		if err != nil {
			return nil, 0, domain.MalformedError(domain.InputUSCounties, "line %d: bad date %q", line, at(row, dateCol))
		}
		cases, err := parseCount(at(row, casesCol))
		if err != nil {
			return nil, 0, domain.MalformedError(domain.InputUSCounties, "line %d: cases: %v", line, err)
		}
		deaths, err := parseCount(at(row, deathsCol))
		if err != nil {
			return nil, 0, domain.MalformedError(domain.InputUSCounties, "line %d: deaths: %v", line, err)
		}
		out = append(out, domain.CountyRecord{
			Date:      date,
			County:    county,
			State:     at(row, stateCol),
			FIPS:      padFIPS(fips, countyFIPSWidth),
			CumCases:  cases,
			CumDeaths: deaths,
		})
	}
	return out, dropped, nil
}
