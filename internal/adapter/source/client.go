// Package source retrieves and parses the raw inputs of an assembly run: the
// dated primary feed workbook, the entity-code HTML table, the region HTML
// table, and the US state and county feeds.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/couchcryptid/epi-panel-etl/internal/config"
	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
)

// userAgent identifies the fetcher. Wikipedia rejects requests without a
// descriptive agent.
var userAgent = fmt.Sprintf("epi-panel-etl/1.0 (https://github.com/couchcryptid/epi-panel-etl) Go-HTTP-Client/%s", runtime.Version())

// Client fetches the three raw inputs over plain HTTP GET.
// It implements pipeline.Fetcher.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics

	feedURLTemplate  string
	entityCodesURL   string
	entityCodesTable int
	regionsURL       string
	regionsTable     int
	usStatesURL      string
	usStateCodesURL  string
	usCountiesURL    string
}

// NewClient creates a source client with a per-request timeout.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient:       &http.Client{Timeout: cfg.FetchTimeout},
		logger:           logger,
		metrics:          metrics,
		feedURLTemplate:  cfg.FeedURLTemplate,
		entityCodesURL:   cfg.EntityCodesURL,
		entityCodesTable: cfg.EntityCodesTableIndex,
		regionsURL:       cfg.RegionsURL,
		regionsTable:     cfg.RegionsTableIndex,
		usStatesURL:      cfg.USStatesURL,
		usStateCodesURL:  cfg.USStateCodesURL,
		usCountiesURL:    cfg.USCountiesURL,
	}
}

// FeedURL renders the dated feed URL. The template's {date} placeholder
// becomes the date as YYYY-MM-DD.
func FeedURL(template string, date time.Time) string {
	return strings.ReplaceAll(template, "{date}", date.Format(domain.DateLayout))
}

// get performs one GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, source, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchAttempts.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.FetchAttempts.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("%s request: unexpected status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.FetchAttempts.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("%s read body: %w", source, err)
	}
	c.metrics.FetchAttempts.WithLabelValues(source, "success").Inc()
	return body, nil
}

// fetchOnce retrieves a static resource without retrying. Transport and
// status failures are reported as ErrSourceUnavailable.
func (c *Client) fetchOnce(ctx context.Context, source, url string) ([]byte, error) {
	body, err := c.get(ctx, source, url)
	if err != nil {
		c.logger.Warn("source retrieval failed", "source", source, "url", url, "error", err)
		return nil, &domain.SourceError{
			Source:   source,
			URL:      url,
			Attempts: 1,
			Err:      fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err),
		}
	}
	return body, nil
}

// malformed wraps a parse failure of a fetched resource.
func malformed(source, url string, err error) error {
	return &domain.SourceError{Source: source, URL: url, Attempts: 1, Err: err}
}
