package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/mockdata"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
)

const (
	codesURL   = "http://codes.test/list"
	regionsURL = "http://regions.test/countries"
)

var refDate = time.Date(2020, time.April, 26, 0, 0, 0, 0, time.UTC)

func testClient(feedTemplate string) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:         observability.NewMetricsForTesting(),
		feedURLTemplate: feedTemplate,
		entityCodesURL:  codesURL,
		regionsURL:      regionsURL,
		regionsTable:    2,
	}
}

func mockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c := testClient("http://feed.test/{date}.xlsx")
	c.httpClient.Transport = transport
	return c, transport
}

func pop(v float64) *float64 { return &v }

func feedRecords() []domain.RawEventRecord {
	return []domain.RawEventRecord{
		{Date: refDate, Cases: 3, Deaths: 1, Entity: "Alpha", ShortCode: "AA", LongCode: "AAA", Population: pop(100)},
		{Date: refDate.AddDate(0, 0, -1), Cases: 0, Deaths: 0, Entity: "Alpha", ShortCode: "AA", LongCode: "AAA", Population: pop(100)},
		{Date: refDate, Cases: 7, Entity: "Beta_Land", ShortCode: "BB", LongCode: "BBB"},
	}
}

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "http://x/feed-2020-04-26.xlsx", FeedURL("http://x/feed-{date}.xlsx", refDate))
}

func TestFetchPrimaryFeed_FirstAttempt(t *testing.T) {
	workbook, err := mockdata.FeedWorkbook(feedRecords(), false)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed-2020-04-26.xlsx", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "epi-panel-etl")
		_, _ = w.Write(workbook)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/feed-{date}.xlsx")
	feed, err := c.FetchPrimaryFeed(context.Background(), refDate, 5, domain.WalkBack)
	require.NoError(t, err)

	assert.Equal(t, 1, feed.Attempts)
	assert.Equal(t, refDate, feed.ReportDate)
	require.Len(t, feed.Records, 3)

	first := feed.Records[0]
	assert.Equal(t, refDate, first.Date)
	assert.Equal(t, 26, first.Day)
	assert.Equal(t, 4, first.Month)
	assert.Equal(t, 2020, first.Year)
	assert.Equal(t, int64(3), first.Cases)
	assert.Equal(t, int64(1), first.Deaths)
	assert.Equal(t, "Alpha", first.Entity)
	assert.Equal(t, "AA", first.ShortCode)
	assert.Equal(t, "AAA", first.LongCode)
	require.NotNil(t, first.Population)
	assert.InDelta(t, 100, *first.Population, 0)

	assert.Nil(t, feed.Records[2].Population)
	assert.Equal(t, "Beta_Land", feed.Records[2].Entity)
}

func TestFetchPrimaryFeed_WalksBack(t *testing.T) {
	workbook, err := mockdata.FeedWorkbook(feedRecords(), true)
	require.NoError(t, err)

	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path != "/feed-2020-04-24.xlsx" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(workbook)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/feed-{date}.xlsx")
	feed, err := c.FetchPrimaryFeed(context.Background(), refDate, 5, domain.WalkBack)
	require.NoError(t, err)

	assert.Equal(t, 3, feed.Attempts)
	assert.Equal(t, time.Date(2020, time.April, 24, 0, 0, 0, 0, time.UTC), feed.ReportDate)
	assert.Equal(t, []string{"/feed-2020-04-26.xlsx", "/feed-2020-04-25.xlsx", "/feed-2020-04-24.xlsx"}, paths)
}

func TestFetchPrimaryFeed_WalksForward(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/feed-{date}.xlsx")
	_, err := c.FetchPrimaryFeed(context.Background(), refDate, 2, domain.WalkForward)
	require.Error(t, err)
	assert.Equal(t, []string{"/feed-2020-04-26.xlsx", "/feed-2020-04-27.xlsx"}, paths)
}

func TestFetchPrimaryFeed_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/feed-{date}.xlsx")
	_, err := c.FetchPrimaryFeed(context.Background(), refDate, 3, domain.WalkBack)
	require.Error(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))

	var srcErr *domain.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, domain.InputPrimaryFeed, srcErr.Source)
	assert.Equal(t, 3, srcErr.Attempts)
	assert.Equal(t, time.Date(2020, time.April, 24, 0, 0, 0, 0, time.UTC), srcErr.LastDate)
	assert.Contains(t, srcErr.URL, "2020-04-24")
}

func TestFetchPrimaryFeed_ZeroAttemptsMeansOne(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/{date}")
	_, err := c.FetchPrimaryFeed(context.Background(), refDate, 0, domain.WalkBack)
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPrimaryFeed_MalformedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<html>not a workbook</html>"))
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/{date}")
	_, err := c.FetchPrimaryFeed(context.Background(), refDate, 5, domain.WalkBack)
	require.ErrorIs(t, err, domain.ErrMalformedSource)
	assert.False(t, errors.Is(err, domain.ErrSourceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPrimaryFeed_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(srv.URL + "/{date}")
	_, err := c.FetchPrimaryFeed(ctx, refDate, 5, domain.WalkBack)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchEntityCodes(t *testing.T) {
	c, transport := mockedClient(t)
	page := mockdata.EntityCodesHTML([]domain.EntityCode{
		{Name: "Alpha", ShortCode: "AA", LongCode: "AAA"},
		{Name: "Beta", ShortCode: "BB", LongCode: "BBB"},
		{Name: "Broken", ShortCode: "BR", LongCode: "BRKN"},
		{Name: "Short", ShortCode: "S", LongCode: "SH"},
	})
	transport.RegisterResponder(http.MethodGet, codesURL, httpmock.NewStringResponder(http.StatusOK, page))

	codes, err := c.FetchEntityCodes(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.EntityCode{
		{LongCode: "AAA", ShortCode: "AA", Name: "Alpha"},
		{LongCode: "BBB", ShortCode: "BB", Name: "Beta"},
	}, codes.Codes)
	require.Len(t, codes.Rejected, 2)
	assert.Equal(t, "BRKN", codes.Rejected[0].LongCode)
	assert.Equal(t, "SH", codes.Rejected[1].LongCode)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestFetchEntityCodes_Unavailable(t *testing.T) {
	c, transport := mockedClient(t)
	transport.RegisterResponder(http.MethodGet, codesURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	_, err := c.FetchEntityCodes(context.Background())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestFetchEntityCodes_MissingColumn(t *testing.T) {
	c, transport := mockedClient(t)
	page := "<table><tr><th>Name</th><th>Code</th></tr><tr><td>Alpha</td><td>AAA</td></tr></table>"
	transport.RegisterResponder(http.MethodGet, codesURL, httpmock.NewStringResponder(http.StatusOK, page))

	_, err := c.FetchEntityCodes(context.Background())
	require.ErrorIs(t, err, domain.ErrMalformedSource)
}

func TestFetchRegionMapping(t *testing.T) {
	c, transport := mockedClient(t)
	page := mockdata.RegionsHTML([]domain.RegionRecord{
		{LongCode: "AAA", Continent: "Asia", Region1: "Eastern Asia", Region2: "Asia"},
		{LongCode: "BBB", Continent: "Europe", Region1: "Northern Europe"},
	})
	transport.RegisterResponder(http.MethodGet, regionsURL, httpmock.NewStringResponder(http.StatusOK, page))

	regions, err := c.FetchRegionMapping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RegionRecord{
		{LongCode: "AAA", Continent: "Asia", Region1: "Eastern Asia", Region2: "Asia"},
		{LongCode: "BBB", Continent: "Europe", Region1: "Northern Europe"},
	}, regions)
}

func TestFetchRegionMapping_TableMissing(t *testing.T) {
	c, transport := mockedClient(t)
	transport.RegisterResponder(http.MethodGet, regionsURL,
		httpmock.NewStringResponder(http.StatusOK, "<table><tr><th>x</th></tr></table>"))

	_, err := c.FetchRegionMapping(context.Background())
	require.ErrorIs(t, err, domain.ErrMalformedSource)
	assert.True(t, strings.Contains(err.Error(), "table 2 not found"))
}

func TestFetchUSStates(t *testing.T) {
	c, transport := mockedClient(t)
	c.usStatesURL = "http://states.test/us-states.csv"
	c.usStateCodesURL = "http://states.test/codes"

	d1 := time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)
	transport.RegisterResponder(http.MethodGet, c.usStatesURL, httpmock.NewStringResponder(http.StatusOK,
		mockdata.StatesCSV([]domain.StateRecord{
			{Date: d1, State: "Washington", FIPS: "53", CumCases: 5, CumDeaths: 1},
		})+"2020-03-02,Alabama,1,2,0\n"))
	transport.RegisterResponder(http.MethodGet, c.usStateCodesURL, httpmock.NewStringResponder(http.StatusOK,
		"<p>intro</p><table><tr><td>unrelated</td></tr></table>"+
			mockdata.StateCodesHTML([]domain.StateCode{{Name: "Alabama", PostalCode: "AL", FIPS: "01"}})))

	states, err := c.FetchUSStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, domain.StateRecord{Date: d1, State: "Washington", FIPS: "53", CumCases: 5, CumDeaths: 1}, states[0])
	assert.Equal(t, "01", states[1].FIPS)

	codes, err := c.FetchUSStateCodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.StateCode{{Name: "Alabama", PostalCode: "AL", FIPS: "01"}}, codes)
}

func TestFetchUSStates_BadHeader(t *testing.T) {
	c, transport := mockedClient(t)
	c.usStatesURL = "http://states.test/us-states.csv"
	transport.RegisterResponder(http.MethodGet, c.usStatesURL,
		httpmock.NewStringResponder(http.StatusOK, "day,region\n2020-03-01,x\n"))

	_, err := c.FetchUSStates(context.Background())
	require.ErrorIs(t, err, domain.ErrMalformedSource)
}

func TestFetchUSCounties(t *testing.T) {
	c, transport := mockedClient(t)
	c.usCountiesURL = "http://states.test/us-counties.csv"

	d1 := time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)
	transport.RegisterResponder(http.MethodGet, c.usCountiesURL, httpmock.NewStringResponder(http.StatusOK,
		mockdata.CountiesCSV([]domain.CountyRecord{
			{Date: d1, County: "Snohomish", State: "Washington", FIPS: "53061", CumCases: 5, CumDeaths: 1},
			{Date: d1, County: "New York City", State: "New York", CumCases: 7},
			{Date: d1, County: "Kansas City", State: "Missouri", CumCases: 2},
			{Date: d1, County: "Unknown", State: "Washington", CumCases: 9},
			{Date: d1, County: "Joplin", State: "Missouri", CumCases: 1},
		})+"2020-03-02,Autauga,Alabama,1001,1,0\n"))

	counties, err := c.FetchUSCounties(context.Background())
	require.NoError(t, err)
	require.Len(t, counties, 4)
	assert.Equal(t, domain.CountyRecord{
		Date: d1, County: "Snohomish", State: "Washington", FIPS: "53061", CumCases: 5, CumDeaths: 1,
	}, counties[0])
	assert.Equal(t, "36061", counties[1].FIPS)
	assert.Equal(t, "20085", counties[2].FIPS)
	assert.Equal(t, "01001", counties[3].FIPS)
	for _, r := range counties {
		assert.NotEqual(t, "Unknown", r.County)
	}
}

func TestFetchUSCounties_BadRow(t *testing.T) {
	c, transport := mockedClient(t)
	c.usCountiesURL = "http://states.test/us-counties.csv"
	transport.RegisterResponder(http.MethodGet, c.usCountiesURL, httpmock.NewStringResponder(http.StatusOK,
		"date,county,state,fips,cases,deaths\n2020-03-01,King,Washington,53033,many,0\n"))

	_, err := c.FetchUSCounties(context.Background())
	require.ErrorIs(t, err, domain.ErrMalformedSource)
	assert.Contains(t, err.Error(), "line 2: cases")
}

func TestPadFIPS(t *testing.T) {
	assert.Equal(t, "01", padFIPS("1", stateFIPSWidth))
	assert.Equal(t, "53", padFIPS(" 53 ", stateFIPSWidth))
	assert.Equal(t, "01001", padFIPS("1001", countyFIPSWidth))
	assert.Equal(t, "00001", padFIPS("1", countyFIPSWidth))
	assert.Empty(t, padFIPS("", countyFIPSWidth))
}
