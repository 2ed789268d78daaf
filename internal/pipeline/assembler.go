package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
)

// Fetcher retrieves the three raw inputs of an assembly run.
type Fetcher interface {
	FetchPrimaryFeed(ctx context.Context, referenceDate time.Time, maxAttempts int, direction domain.SearchDirection) (domain.RawFeed, error)
	FetchEntityCodes(ctx context.Context) (domain.EntityCodeTable, error)
	FetchRegionMapping(ctx context.Context) ([]domain.RegionRecord, error)
}

// PanelCache stores assembled panels keyed by reference date.
type PanelCache interface {
	Get(ctx context.Context, referenceDate time.Time) (*domain.Panel, bool, error)
	Put(ctx context.Context, panel *domain.Panel) error
}

// Publisher delivers an assembled panel to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, runID string, panel *domain.Panel) error
}

// RetryPolicy bounds the search for an available primary feed.
type RetryPolicy struct {
	MaxAttempts int
	Direction   domain.SearchDirection
}

// DefaultRetryPolicy tries today and the four preceding days.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Direction: domain.WalkBack}
}

// AssemblyContext records one assembly run, keeping every intermediate stage
// for inspection.
type AssemblyContext struct {
	RunID         string
	ReferenceDate time.Time
	Started       time.Time
	Duration      time.Duration

	// Cached is set when the panel was served from the cache and no input
	// was fetched.
	Cached bool

	Feed    domain.RawFeed
	Codes   domain.EntityCodeTable
	Regions []domain.RegionRecord

	// DroppedRecords counts feed records without a long code.
	DroppedRecords int
	Dense          domain.DenseResult
	WithIndicators []domain.PanelRow
	Panel          *domain.Panel

	// Cache and sink failures do not fail the run.
	StoreErr   error
	PublishErr error
}

// Partial reports whether some entities were skipped during densification.
func (a *AssemblyContext) Partial() bool {
	return len(a.Dense.Errors) > 0
}

// Skipped returns the long codes of entities skipped during densification.
func (a *AssemblyContext) Skipped() []string {
	out := make([]string, 0, len(a.Dense.Errors))
	for _, e := range a.Dense.Errors {
		out = append(out, e.LongCode)
	}
	return out
}

// Assembler runs fetch, densify, indicators and enrichment as one
// synchronous pass.
type Assembler struct {
	fetcher   Fetcher
	cache     PanelCache
	publisher Publisher
	overrides map[string]string
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewAssembler creates an Assembler. cache and publisher may be nil.
func NewAssembler(f Fetcher, cache PanelCache, publisher Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Assembler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Assembler{
		fetcher:   f,
		cache:     cache,
		publisher: publisher,
		overrides: domain.DefaultContinentOverrides,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Assemble builds the panel for referenceDate; a zero date means today.
// A cached panel for the same reference date is returned without fetching.
// If any input cannot be retrieved the error matches
// domain.ErrIntegrityViolation and no panel is produced.
func (a *Assembler) Assemble(ctx context.Context, referenceDate time.Time, policy RetryPolicy) (*AssemblyContext, error) {
	start := a.clock.Now()
	if referenceDate.IsZero() {
		referenceDate = start
	}
	run := &AssemblyContext{
		RunID:         uuid.NewString(),
		ReferenceDate: domain.Day(referenceDate),
		Started:       start,
	}
	logger := a.logger.With("run_id", run.RunID, "reference_date", run.ReferenceDate.Format(domain.DateLayout))

	if panel, ok := a.lookupCache(ctx, run.ReferenceDate, logger); ok {
		run.Cached = true
		run.Panel = panel
		run.Duration = a.clock.Since(start)
		a.metrics.AssemblyRuns.WithLabelValues("cached").Inc()
		logger.Info("panel served from cache", "rows", len(panel.Rows))
		return run, nil
	}

	if err := a.fetchInputs(ctx, run, policy, logger); err != nil {
		a.metrics.AssemblyRuns.WithLabelValues("failed").Inc()
		logger.Error("assembly failed", "error", err)
		return run, err
	}

	a.transform(run, logger)
	a.metrics.PanelRows.Set(float64(len(run.Panel.Rows)))
	a.metrics.PanelEntities.Set(float64(len(run.Panel.Entities())))

	a.store(ctx, run, logger)
	a.publish(ctx, run, logger)

	outcome := "success"
	if run.Partial() {
		outcome = "partial"
	}
	run.Duration = a.clock.Since(start)
	a.metrics.AssemblyRuns.WithLabelValues(outcome).Inc()
	a.metrics.AssemblyDuration.Observe(run.Duration.Seconds())
	a.metrics.LastSuccessful.Set(float64(a.clock.Now().Unix()))

	logger.Info("panel assembled",
		"outcome", outcome,
		"report_date", run.Feed.ReportDate.Format(domain.DateLayout),
		"attempts", run.Feed.Attempts,
		"rows", len(run.Panel.Rows),
		"entities", len(run.Panel.Entities()),
		"skipped", len(run.Dense.Errors),
		"duration", run.Duration,
	)
	return run, nil
}

func (a *Assembler) lookupCache(ctx context.Context, ref time.Time, logger *slog.Logger) (*domain.Panel, bool) {
	if a.cache == nil {
		return nil, false
	}
	panel, found, err := a.cache.Get(ctx, ref)
	switch {
	case err != nil:
		a.metrics.CacheLookups.WithLabelValues("error").Inc()
		logger.Warn("cache lookup failed", "error", err)
		return nil, false
	case !found || panel == nil:
		a.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	default:
		a.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return panel, true
	}
}

// fetchInputs attempts all three inputs so that every missing one is
// reported, not only the first.
func (a *Assembler) fetchInputs(ctx context.Context, run *AssemblyContext, policy RetryPolicy, logger *slog.Logger) error {
	var integrity domain.IntegrityError
	fail := func(input string, err error) {
		logger.Warn("input unavailable", "input", input, "error", err)
		integrity.Missing = append(integrity.Missing, input)
		integrity.Causes = append(integrity.Causes, err)
	}

	feed, err := a.fetcher.FetchPrimaryFeed(ctx, run.ReferenceDate, policy.MaxAttempts, policy.Direction)
	if err != nil {
		fail(domain.InputPrimaryFeed, err)
	} else {
		run.Feed = feed
	}

	codes, err := a.fetcher.FetchEntityCodes(ctx)
	if err != nil {
		fail(domain.InputEntityCodes, err)
	} else {
		run.Codes = codes
	}

	regions, err := a.fetcher.FetchRegionMapping(ctx)
	if err != nil {
		fail(domain.InputRegionMapping, err)
	} else {
		run.Regions = regions
	}

	if len(integrity.Missing) > 0 {
		return &integrity
	}
	return nil
}

func (a *Assembler) store(ctx context.Context, run *AssemblyContext, logger *slog.Logger) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Put(ctx, run.Panel); err != nil {
		run.StoreErr = err
		logger.Warn("cache store failed", "error", err)
	}
}

func (a *Assembler) publish(ctx context.Context, run *AssemblyContext, logger *slog.Logger) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, run.RunID, run.Panel); err != nil {
		run.PublishErr = err
		a.metrics.PublishErrors.Inc()
		logger.Warn("publish failed", "error", err)
		return
	}
	a.metrics.RowsPublished.Add(float64(len(run.Panel.Rows)))
}
