package source

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// Positions of the primary feed's columns.
const (
	colDateRep = iota
	colDay
	colMonth
	colYear
	colCases
	colDeaths
	colEntity
	colShortCode
	colLongCode
	colPopulation
	colContinent

	feedColumns         = colContinent
	feedColumnsOptional = colContinent + 1
)

// feedHeaderNames lists the accepted normalized header names per column
// position. The population column is named after its census year.
var feedHeaderNames = [feedColumnsOptional][]string{
	colDateRep:    {"daterep", "date_rep"},
	colDay:        {"day"},
	colMonth:      {"month"},
	colYear:       {"year"},
	colCases:      {"cases"},
	colDeaths:     {"deaths"},
	colEntity:     {"countriesandterritories", "countries_and_territories"},
	colShortCode:  {"geoid", "geo_id"},
	colLongCode:   {"countryterritorycode", "country_territory_code"},
	colPopulation: {"popdata2018", "popdata2019", "popdata2020", "popdata"},
	colContinent:  {"continentexp", "continent"},
}

// FetchPrimaryFeed retrieves the feed published for referenceDate. On a
// failed retrieval it steps the date one day in direction and retries, for at
// most maxAttempts attempts in total. A retrieved workbook that does not
// match the column contract fails immediately with ErrMalformedSource.
func (c *Client) FetchPrimaryFeed(ctx context.Context, referenceDate time.Time, maxAttempts int, direction domain.SearchDirection) (domain.RawFeed, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	date := domain.Day(referenceDate)
	var (
		lastURL string
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			date = direction.Step(date)
		}
		url := FeedURL(c.feedURLTemplate, date)
		lastURL = url

		body, err := c.get(ctx, domain.InputPrimaryFeed, url)
		if err != nil {
			if ctx.Err() != nil {
				return domain.RawFeed{}, &domain.SourceError{
					Source: domain.InputPrimaryFeed, URL: url, Attempts: attempt, LastDate: date, Err: ctx.Err(),
				}
			}
			c.logger.Warn("feed retrieval failed",
				"date", date.Format(domain.DateLayout),
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", err,
			)
			lastErr = err
			continue
		}

		records, err := parseFeedWorkbook(body)
		if err != nil {
			return domain.RawFeed{}, &domain.SourceError{
				Source: domain.InputPrimaryFeed, URL: url, Attempts: attempt, LastDate: date, Err: err,
			}
		}
		c.logger.Info("feed retrieved",
			"report_date", date.Format(domain.DateLayout),
			"attempts", attempt,
			"records", len(records),
		)
		return domain.RawFeed{Records: records, ReportDate: date, Attempts: attempt}, nil
	}

	c.logger.Warn("maximum number of consecutive dates reached",
		"reference_date", domain.Day(referenceDate).Format(domain.DateLayout),
		"last_date", date.Format(domain.DateLayout),
		"direction", direction.String(),
	)
	return domain.RawFeed{}, &domain.SourceError{
		Source:   domain.InputPrimaryFeed,
		URL:      lastURL,
		Attempts: maxAttempts,
		LastDate: date,
		Err:      fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, lastErr),
	}
}

// parseFeedWorkbook reads the first sheet of the feed workbook.
func parseFeedWorkbook(body []byte) ([]domain.RawEventRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.MalformedError(domain.InputPrimaryFeed, "open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.MalformedError(domain.InputPrimaryFeed, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, domain.MalformedError(domain.InputPrimaryFeed, "read sheet %q: %v", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, domain.MalformedError(domain.InputPrimaryFeed, "sheet %q is empty", sheets[0])
	}

	width := len(trimTrailingEmpty(rows[0]))
	if width != feedColumns && width != feedColumnsOptional {
		return nil, domain.MalformedError(domain.InputPrimaryFeed,
			"expected %d or %d header columns, got %d", feedColumns, feedColumnsOptional, width)
	}
	if err := checkFeedHeader(rows[0][:width]); err != nil {
		return nil, domain.MalformedError(domain.InputPrimaryFeed, "%v", err)
	}

	records := make([]domain.RawEventRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(trimTrailingEmpty(row)) == 0 {
			continue
		}
		rec, err := parseFeedRow(row)
		if err != nil {
			return nil, domain.MalformedError(domain.InputPrimaryFeed, "row %d: %v", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// checkFeedHeader verifies every column sits at its contracted position.
func checkFeedHeader(header []string) error {
	for i, h := range domain.NormalizeHeaders(header) {
		if !slices.Contains(feedHeaderNames[i], h) {
			return fmt.Errorf("header column %d is %q, expected %q", i+1, header[i], feedHeaderNames[i][0])
		}
	}
	return nil
}

func parseFeedRow(row []string) (domain.RawEventRecord, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	rec := domain.RawEventRecord{
		Entity:          cell(colEntity),
		ShortCode:       cell(colShortCode),
		LongCode:        cell(colLongCode),
		SourceContinent: cell(colContinent),
	}

	var err error
	if rec.Day, rec.Month, rec.Year, rec.Date, err = parseFeedDate(cell(colDateRep), cell(colDay), cell(colMonth), cell(colYear)); err != nil {
		return rec, err
	}
	if rec.Cases, err = parseCount(cell(colCases)); err != nil {
		return rec, fmt.Errorf("cases: %w", err)
	}
	if rec.Deaths, err = parseCount(cell(colDeaths)); err != nil {
		return rec, fmt.Errorf("deaths: %w", err)
	}
	if s := cell(colPopulation); s != "" {
		pop, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, fmt.Errorf("population: %w", err)
		}
		rec.Population = &pop
	}
	return rec, nil
}

// parseFeedDate prefers the numeric day/month/year columns because the
// rendering of the dateRep cell depends on the workbook's number format.
// dateRep is only consulted when those columns are blank or non-numeric; an
// impossible numeric date is an error.
func parseFeedDate(dateRep, day, month, year string) (int, int, int, time.Time, error) {
	d, errD := strconv.Atoi(day)
	m, errM := strconv.Atoi(month)
	y, errY := strconv.Atoi(year)
	if errD == nil && errM == nil && errY == nil {
		t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
		if t.Year() != y || int(t.Month()) != m || t.Day() != d {
			return 0, 0, 0, time.Time{}, fmt.Errorf("invalid date day=%d month=%d year=%d", d, m, y)
		}
		return d, m, y, t, nil
	}
	t, ok := domain.ParseDayFirst(dateRep)
	if !ok {
		return 0, 0, 0, time.Time{}, fmt.Errorf("unparseable date %q", dateRep)
	}
	return t.Day(), int(t.Month()), t.Year(), t, nil
}

// parseCount reads a daily count. Blank cells are zero; fractional
// renderings such as "12.0" are rounded.
func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f)), nil
}

func trimTrailingEmpty(row []string) []string {
	n := len(row)
	for n > 0 && strings.TrimSpace(row[n-1]) == "" {
		n--
	}
	return row[:n]
}
