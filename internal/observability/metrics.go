package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the panel pipeline.
type Metrics struct {
	AssemblyRuns     *prometheus.CounterVec // labels: outcome={success,partial,failed,cached}
	AssemblyDuration prometheus.Histogram
	PipelineRunning  prometheus.Gauge

	// Source fetch metrics.
	FetchAttempts *prometheus.CounterVec   // labels: source, outcome={success,error}
	FetchDuration *prometheus.HistogramVec // labels: source

	// Panel shape.
	PanelRows          prometheus.Gauge
	PanelEntities      prometheus.Gauge
	SynthesisErrors    prometheus.Counter
	UnlistedEntities   prometheus.Gauge
	RejectedCodes      prometheus.Gauge
	DroppedFeedRecords prometheus.Counter

	// Cache and sink.
	CacheLookups   *prometheus.CounterVec // labels: result={hit,miss,error}
	RowsPublished  prometheus.Counter
	PublishErrors  prometheus.Counter
	LastSuccessful prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.AssemblyRuns,
		m.AssemblyDuration,
		m.PipelineRunning,
		m.FetchAttempts,
		m.FetchDuration,
		m.PanelRows,
		m.PanelEntities,
		m.SynthesisErrors,
		m.UnlistedEntities,
		m.RejectedCodes,
		m.DroppedFeedRecords,
		m.CacheLookups,
		m.RowsPublished,
		m.PublishErrors,
		m.LastSuccessful,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		AssemblyRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "assembly_runs_total",
			Help:      "Assembly runs by outcome.",
		}, []string{"outcome"}),
		AssemblyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epi_panel",
			Name:      "assembly_duration_seconds",
			Help:      "Duration of a complete fetch-densify-enrich run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epi_panel",
			Name:      "pipeline_running",
			Help:      "1 while the refresh loop is active, 0 when shut down.",
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "fetch_attempts_total",
			Help:      "Source retrieval attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "epi_panel",
			Name:      "fetch_duration_seconds",
			Help:      "Source retrieval duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		PanelRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epi_panel",
			Name:      "panel_rows",
			Help:      "Rows in the most recently assembled panel.",
		}),
		PanelEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epi_panel",
			Name:      "panel_entities",
			Help:      "Entities in the most recently assembled panel.",
		}),
		SynthesisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "entity_synthesis_errors_total",
			Help:      "Entities skipped because their rows could not be synthesized.",
		}),
		UnlistedEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epi_panel",
			Name:      "unlisted_entities",
			Help:      "Feed entities absent from the entity-code table in the last run.",
		}),
		RejectedCodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epi_panel",
			Name:      "rejected_entity_codes",
			Help:      "Entity-code rows rejected for an invalid long code width in the last run.",
		}),
		DroppedFeedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "dropped_feed_records_total",
			Help:      "Feed records dropped for lacking a long entity code.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "cache_lookups_total",
			Help:      "Panel cache lookups by result.",
		}, []string{"result"}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "rows_published_total",
			Help:      "Panel rows written to the sink topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "epi_panel",
			Name:      "publish_errors_total",
			Help:      "Failed panel publications.",
		}),
		LastSuccessful: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "epi_panel",
			Name:      "last_successful_assembly_timestamp_seconds",
			Help:      "Unix time of the last successful assembly.",
		}),
	}
}
