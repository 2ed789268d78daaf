package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
	"github.com/couchcryptid/epi-panel-etl/internal/pipeline"
)

// --- mocks ---

type mockFetcher struct {
	mu sync.Mutex

	feed       domain.RawFeed
	feedErr    error
	codes      domain.EntityCodeTable
	codesErr   error
	regions    []domain.RegionRecord
	regionsErr error

	feedCalls   int
	lastRef     time.Time
	lastPolicy  pipeline.RetryPolicy
	lookupCalls int
}

func (m *mockFetcher) FetchPrimaryFeed(_ context.Context, ref time.Time, maxAttempts int, dir domain.SearchDirection) (domain.RawFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedCalls++
	m.lastRef = ref
	m.lastPolicy = pipeline.RetryPolicy{MaxAttempts: maxAttempts, Direction: dir}
	return m.feed, m.feedErr
}

func (m *mockFetcher) FetchEntityCodes(context.Context) (domain.EntityCodeTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls++
	return m.codes, m.codesErr
}

func (m *mockFetcher) FetchRegionMapping(context.Context) ([]domain.RegionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls++
	return m.regions, m.regionsErr
}

func (m *mockFetcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feedCalls
}

type mockCache struct {
	panels map[time.Time]*domain.Panel
	putErr error
	puts   int
}

func newMockCache() *mockCache {
	return &mockCache{panels: make(map[time.Time]*domain.Panel)}
}

func (m *mockCache) Get(_ context.Context, ref time.Time) (*domain.Panel, bool, error) {
	p, ok := m.panels[domain.Day(ref)]
	return p, ok, nil
}

func (m *mockCache) Put(_ context.Context, p *domain.Panel) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.panels[p.ReferenceDate] = p
	return nil
}

type mockPublisher struct {
	err    error
	runIDs []string
	rows   int
}

func (m *mockPublisher) Publish(_ context.Context, runID string, p *domain.Panel) error {
	if m.err != nil {
		return m.err
	}
	m.runIDs = append(m.runIDs, runID)
	m.rows += len(p.Rows)
	return nil
}

// --- fixtures ---

var (
	day1 = time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pop(v float64) *float64 { return &v }

func record(code, name string, d time.Time, cases, deaths int64, population *float64) domain.RawEventRecord {
	return domain.RawEventRecord{
		Date: d, Day: d.Day(), Month: int(d.Month()), Year: d.Year(),
		Cases: cases, Deaths: deaths,
		Entity: name, ShortCode: code[:2], LongCode: code,
		Population: population,
	}
}

// abcFetcher serves the three-entity scenario: A reports on days 1 and 3,
// B on day 2, C only appears in the entity-code table.
func abcFetcher() *mockFetcher {
	return &mockFetcher{
		feed: domain.RawFeed{
			Records: []domain.RawEventRecord{
				record("AAA", "Alpha", day1, 1, 0, pop(100)),
				record("AAA", "Alpha", day3, 2, 1, pop(100)),
				record("BBB", "Beta_Land", day2, 5, 0, pop(1000)),
			},
			ReportDate: day3,
			Attempts:   1,
		},
		codes: domain.EntityCodeTable{Codes: []domain.EntityCode{
			{LongCode: "AAA", ShortCode: "AA", Name: "Alpha"},
			{LongCode: "BBB", ShortCode: "BB", Name: "Beta Land"},
			{LongCode: "CCC", ShortCode: "CC", Name: "Gamma"},
		}},
		regions: []domain.RegionRecord{
			{LongCode: "AAA", Continent: "Africa", Region1: "Eastern Africa"},
			{LongCode: "BBB", Continent: "Europe", Region1: "Northern Europe", Region2: "EU"},
		},
	}
}

func newAssembler(f pipeline.Fetcher, cache pipeline.PanelCache, pub pipeline.Publisher) (*pipeline.Assembler, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(time.Date(2020, time.March, 3, 18, 30, 0, 0, time.UTC))
	return pipeline.NewAssembler(f, cache, pub, clock, discardLogger(), metrics), metrics
}

func rowFor(t *testing.T, p *domain.Panel, code string, d time.Time) domain.PanelRow {
	t.Helper()
	for _, r := range p.Rows {
		if r.LongCode == code && r.Date.Equal(d) {
			return r
		}
	}
	t.Fatalf("no row for %s on %s", code, d.Format(domain.DateLayout))
	return domain.PanelRow{}
}

// --- tests ---

func TestAssemble_ThreeEntities(t *testing.T) {
	a, metrics := newAssembler(abcFetcher(), nil, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	require.NotNil(t, run.Panel)
	assert.False(t, run.Partial())
	assert.NotEmpty(t, run.RunID)

	p := run.Panel
	require.Len(t, p.Rows, 9)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, p.Entities())
	assert.Equal(t, day3, p.ReportDate)

	alpha3 := rowFor(t, p, "AAA", day3)
	assert.Equal(t, int64(3), alpha3.CumCases)
	assert.Equal(t, int64(1), alpha3.CumDeaths)
	require.NotNil(t, alpha3.FractionInfected)
	assert.InDelta(t, 0.03, *alpha3.FractionInfected, 1e-12)
	assert.InDelta(t, 1.0/3.0, alpha3.MortalityRate, 1e-12)
	require.NotNil(t, alpha3.CaseGrowthRate)
	assert.InDelta(t, 2.0, *alpha3.CaseGrowthRate, 1e-12)
	assert.Equal(t, "Africa", alpha3.Continent)

	alpha2 := rowFor(t, p, "AAA", day2)
	assert.Equal(t, int64(0), alpha2.Cases)
	assert.Equal(t, int64(1), alpha2.CumCases)

	beta1 := rowFor(t, p, "BBB", day1)
	assert.Equal(t, "Beta Land", beta1.Entity)
	assert.Nil(t, beta1.CaseGrowthRate)
	assert.Equal(t, "EU", beta1.Region2)

	gamma := rowFor(t, p, "CCC", day2)
	assert.Nil(t, gamma.Population)
	assert.Nil(t, gamma.FractionInfected)
	assert.Zero(t, gamma.MortalityRate)
	assert.Empty(t, gamma.Continent)

	assert.Empty(t, domain.CheckPanel(p.Rows, []string{"AAA", "BBB", "CCC"}))
	assert.InDelta(t, 9, testutil.ToFloat64(metrics.PanelRows), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AssemblyRuns.WithLabelValues("success")), 0)
}

func TestAssemble_ZeroReferenceDateUsesClock(t *testing.T) {
	f := abcFetcher()
	a, _ := newAssembler(f, nil, nil)

	run, err := a.Assemble(context.Background(), time.Time{}, pipeline.RetryPolicy{MaxAttempts: 3, Direction: domain.WalkForward})
	require.NoError(t, err)
	assert.Equal(t, day3, run.ReferenceDate)
	assert.Equal(t, day3, f.lastRef)
	assert.Equal(t, pipeline.RetryPolicy{MaxAttempts: 3, Direction: domain.WalkForward}, f.lastPolicy)
}

func TestAssemble_FeedUnavailable(t *testing.T) {
	f := abcFetcher()
	f.feedErr = &domain.SourceError{
		Source:   domain.InputPrimaryFeed,
		Attempts: 3,
		LastDate: day1,
		Err:      domain.ErrSourceUnavailable,
	}
	a, metrics := newAssembler(f, nil, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.RetryPolicy{MaxAttempts: 3, Direction: domain.WalkBack})
	require.Error(t, err)
	assert.Nil(t, run.Panel)
	assert.ErrorIs(t, err, domain.ErrIntegrityViolation)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	var integrity *domain.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, []string{domain.InputPrimaryFeed}, integrity.Missing)

	var srcErr *domain.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, 3, srcErr.Attempts)

	assert.Equal(t, 2, f.lookupCalls, "lookups are still attempted")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AssemblyRuns.WithLabelValues("failed")), 0)
}

func TestAssemble_NamesEveryMissingInput(t *testing.T) {
	f := abcFetcher()
	f.codesErr = domain.MalformedError(domain.InputEntityCodes, "missing alpha_3_code column")
	f.regionsErr = errors.New("connection refused")
	a, _ := newAssembler(f, nil, nil)

	_, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedSource)

	var integrity *domain.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, []string{domain.InputEntityCodes, domain.InputRegionMapping}, integrity.Missing)
	assert.Contains(t, err.Error(), "entity_codes, region_mapping")
}

func TestAssemble_ContinentOverride(t *testing.T) {
	f := &mockFetcher{
		feed: domain.RawFeed{
			Records: []domain.RawEventRecord{
				record("XKX", "Kosovo", day1, 4, 0, pop(1800000)),
				record("TWN", "Taiwan", day1, 1, 0, pop(23000000)),
			},
			ReportDate: day1,
			Attempts:   1,
		},
		codes: domain.EntityCodeTable{Codes: []domain.EntityCode{
			{LongCode: "XKX", ShortCode: "XK", Name: "Kosovo"},
			{LongCode: "TWN", ShortCode: "TW", Name: "Taiwan"},
		}},
		regions: []domain.RegionRecord{
			{LongCode: "XKX", Continent: "Asia"},
		},
	}
	a, _ := newAssembler(f, nil, nil)

	run, err := a.Assemble(context.Background(), day1, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, "Europe", rowFor(t, run.Panel, "XKX", day1).Continent)
	assert.Equal(t, "Asia", rowFor(t, run.Panel, "TWN", day1).Continent)
}

func TestAssemble_PartialResult(t *testing.T) {
	f := abcFetcher()
	f.feed.Records = append(f.feed.Records, record("BBB", "Beta_Land", day2, 1, 0, pop(1000)))
	a, metrics := newAssembler(f, nil, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.True(t, run.Partial())
	assert.Equal(t, []string{"BBB"}, run.Skipped())
	assert.Equal(t, []string{"AAA", "CCC"}, run.Panel.Entities())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SynthesisErrors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AssemblyRuns.WithLabelValues("partial")), 0)
}

func TestAssemble_DropsRecordsWithoutLongCode(t *testing.T) {
	f := abcFetcher()
	f.feed.Records = append(f.feed.Records, domain.RawEventRecord{Date: day1, Cases: 9, Entity: "Cruise ship"})
	a, metrics := newAssembler(f, nil, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, run.DroppedRecords)
	assert.Len(t, run.Panel.Rows, 9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DroppedFeedRecords), 0)
}

func TestAssemble_UnlistedEntitiesExcluded(t *testing.T) {
	f := abcFetcher()
	f.feed.Records = append(f.feed.Records, record("ZZZ", "Zeta", day1, 1, 0, nil))
	a, metrics := newAssembler(f, nil, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZ"}, run.Dense.Unlisted)
	assert.NotContains(t, run.Panel.Entities(), "ZZZ")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UnlistedEntities), 0)
}

func TestAssemble_CacheHitSkipsFetch(t *testing.T) {
	f := abcFetcher()
	cache := newMockCache()
	a, metrics := newAssembler(f, cache, nil)

	first, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, cache.puts)

	second, err := a.Assemble(context.Background(), day3.Add(6*time.Hour), pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Same(t, first.Panel, second.Panel)
	assert.Equal(t, 1, f.calls())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")), 0)
}

func TestAssemble_CacheStoreFailureIsNotFatal(t *testing.T) {
	cache := newMockCache()
	cache.putErr = errors.New("disk full")
	a, _ := newAssembler(abcFetcher(), cache, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.NotNil(t, run.Panel)
	assert.EqualError(t, run.StoreErr, "disk full")
}

func TestAssemble_Publishes(t *testing.T) {
	pub := &mockPublisher{}
	a, metrics := newAssembler(abcFetcher(), nil, pub)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, []string{run.RunID}, pub.runIDs)
	assert.Equal(t, 9, pub.rows)
	assert.InDelta(t, 9, testutil.ToFloat64(metrics.RowsPublished), 0)
}

func TestAssemble_PublishFailureIsNotFatal(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	a, metrics := newAssembler(abcFetcher(), nil, pub)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Len(t, run.Panel.Rows, 9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PublishErrors), 0)
	assert.EqualError(t, run.PublishErr, "broker down")
}

func TestAssemblyContext_KeepsStages(t *testing.T) {
	a, _ := newAssembler(abcFetcher(), nil, nil)

	run, err := a.Assemble(context.Background(), day3, pipeline.DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Len(t, run.Feed.Records, 3)
	assert.Len(t, run.Codes.Codes, 3)
	assert.Len(t, run.Regions, 2)
	assert.Len(t, run.Dense.Rows, 9)
	assert.Len(t, run.WithIndicators, 9)
	assert.Equal(t, "Beta_Land", rowFor(t, &domain.Panel{Rows: run.WithIndicators}, "BBB", day2).Entity)
}
