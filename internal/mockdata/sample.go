package mockdata

import (
	"net/http"
	"time"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// Sample is a small, reproducible set of source inputs.
type Sample struct {
	ReportDate  time.Time
	Records     []domain.RawEventRecord
	Codes       []domain.EntityCode
	Regions     []domain.RegionRecord
	StateFeed   []domain.StateRecord
	StateCodes  []domain.StateCode
	CountyFeed  []domain.CountyRecord
	FeedColumns bool // include the optional continent column
}

// NewSample builds a week of reports ending on reportDate for three
// reporting entities, one code-only entity, two US states and their
// counties.
func NewSample(reportDate time.Time) Sample {
	reportDate = domain.Day(reportDate)
	day := func(offset int) time.Time { return reportDate.AddDate(0, 0, offset-6) }
	pop := func(v float64) *float64 { return &v }

	rec := func(long, short, name, continent string, d time.Time, cases, deaths int64, p *float64) domain.RawEventRecord {
		return domain.RawEventRecord{
			Date: d, Day: d.Day(), Month: int(d.Month()), Year: d.Year(),
			Cases: cases, Deaths: deaths,
			Entity: name, ShortCode: short, LongCode: long,
			Population: p, SourceContinent: continent,
		}
	}

	s := Sample{ReportDate: reportDate, FeedColumns: true}
	for i, cases := range []int64{2, 0, 5, 9, 14, 20, 31} {
		s.Records = append(s.Records, rec("ITA", "IT", "Italy", "Europe", day(i), cases, int64(i/2), pop(60431283)))
	}
	for i, cases := range []int64{1, 3, 4} {
		s.Records = append(s.Records, rec("KOR", "KR", "South_Korea", "Asia", day(2*i), cases, 0, pop(51635256)))
	}
	s.Records = append(s.Records,
		rec("XKX", "XK", "Kosovo", "Europe", day(5), 2, 0, pop(1845300)),
		rec("", "JPG11668", "Cases_on_an_international_conveyance_Japan", "Other", day(1), 10, 0, nil),
	)

	s.Codes = []domain.EntityCode{
		{LongCode: "ITA", ShortCode: "IT", Name: "Italy"},
		{LongCode: "KOR", ShortCode: "KR", Name: "Korea, Republic of"},
		{LongCode: "XKX", ShortCode: "XK", Name: "Kosovo"},
		{LongCode: "ISL", ShortCode: "IS", Name: "Iceland"},
		{LongCode: "EU", ShortCode: "EU", Name: "European Union"},
	}
	s.Regions = []domain.RegionRecord{
		{LongCode: "ITA", Continent: "Europe", Region1: "Southern Europe"},
		{LongCode: "KOR", Continent: "Asia", Region1: "Eastern Asia"},
		{LongCode: "ISL", Continent: "Europe", Region1: "Northern Europe"},
	}

	for i, cum := range []int64{1, 1, 2, 4} {
		s.StateFeed = append(s.StateFeed, domain.StateRecord{
			Date: day(i + 3), State: "Washington", FIPS: "53", CumCases: cum,
		})
	}
	s.StateFeed = append(s.StateFeed, domain.StateRecord{
		Date: day(5), State: "Illinois", FIPS: "17", CumCases: 2,
	})
	s.StateCodes = []domain.StateCode{
		{Name: "Illinois", PostalCode: "IL", FIPS: "17"},
		{Name: "Washington", PostalCode: "WA", FIPS: "53"},
	}

	county := func(offset int, name, state, fips string, cum int64) domain.CountyRecord {
		return domain.CountyRecord{Date: day(offset), County: name, State: state, FIPS: fips, CumCases: cum}
	}
	s.CountyFeed = []domain.CountyRecord{
		county(3, "Snohomish", "Washington", "53061", 1),
		county(5, "Snohomish", "Washington", "53061", 2),
		county(6, "King", "Washington", "53033", 2),
		county(5, "Cook", "Illinois", "17031", 2),
		county(6, "New York City", "New York", "", 3),
		county(6, "Unknown", "Washington", "", 1),
	}
	return s
}

// Handler serves the sample under the paths named by the Path constants.
// The feed is only published for ReportDate.
func (s Sample) Handler() (http.Handler, error) {
	workbook, err := FeedWorkbook(s.Records, s.FeedColumns)
	if err != nil {
		return nil, err
	}
	feedFile := s.ReportDate.Format(domain.DateLayout) + ".xlsx"

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathFeed+"{file}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("file") != feedFile {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write(workbook)
	})
	serveText(mux, PathCodes, "text/html", EntityCodesHTML(s.Codes))
	serveText(mux, PathRegions, "text/html", RegionsHTML(s.Regions))
	serveText(mux, PathStates, "text/csv", StatesCSV(s.StateFeed))
	serveText(mux, PathStateCodes, "text/html", StateCodesHTML(s.StateCodes))
	serveText(mux, PathCounties, "text/csv", CountiesCSV(s.CountyFeed))
	return mux, nil
}

// Paths served by Sample.Handler. The feed template is PathFeed+"{date}.xlsx".
const (
	PathFeed       = "/feed/"
	PathCodes      = "/codes"
	PathRegions    = "/regions"
	PathStates     = "/us-states.csv"
	PathStateCodes = "/state-codes"
	PathCounties   = "/us-counties.csv"
)

func serveText(mux *http.ServeMux, path, contentType, body string) {
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType+"; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}
