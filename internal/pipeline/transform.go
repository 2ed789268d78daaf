package pipeline

import (
	"log/slog"
	"strings"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// transform turns the fetched inputs of a run into its panel: records
// without a long code are dropped, then the rest is densified, indicators
// are derived and regions joined.
func (a *Assembler) transform(run *AssemblyContext, logger *slog.Logger) {
	records := make([]domain.RawEventRecord, 0, len(run.Feed.Records))
	for _, r := range run.Feed.Records {
		if strings.TrimSpace(r.LongCode) == "" {
			run.DroppedRecords++
			continue
		}
		records = append(records, r)
	}
	if run.DroppedRecords > 0 {
		a.metrics.DroppedFeedRecords.Add(float64(run.DroppedRecords))
		logger.Warn("feed records without long code dropped", "count", run.DroppedRecords)
	}

	run.Dense = domain.Densify(records, run.Codes.Codes)
	for _, e := range run.Dense.Errors {
		a.metrics.SynthesisErrors.Inc()
		logger.Warn("entity skipped", "long_code", e.LongCode, "entity", e.Entity, "reason", e.Reason)
	}
	a.metrics.UnlistedEntities.Set(float64(len(run.Dense.Unlisted)))
	if len(run.Dense.Unlisted) > 0 {
		logger.Warn("feed entities missing from entity-code table excluded",
			"count", len(run.Dense.Unlisted), "long_codes", run.Dense.Unlisted)
	}
	if len(run.Dense.DuplicateCodes) > 0 {
		logger.Warn("entity-code table lists long codes more than once, first listing used",
			"long_codes", run.Dense.DuplicateCodes)
	}
	if len(run.Dense.Decreasing) > 0 {
		logger.Warn("negative daily counts reported", "long_codes", run.Dense.Decreasing)
	}

	run.WithIndicators = domain.AddIndicators(run.Dense.Rows)
	rows := domain.EnrichRegions(run.WithIndicators, run.Regions, a.overrides)
	domain.SortRows(rows)

	run.Panel = &domain.Panel{
		ReferenceDate: run.ReferenceDate,
		ReportDate:    run.Feed.ReportDate,
		Rows:          rows,
	}
}
