// Command panel assembles the epidemiological panel. "serve" keeps it fresh
// behind an HTTP API; "assemble", "us-states" and "us-counties" write one
// panel as CSV.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/epi-panel-etl/internal/adapter/cache"
	httpadapter "github.com/couchcryptid/epi-panel-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/epi-panel-etl/internal/adapter/kafka"
	"github.com/couchcryptid/epi-panel-etl/internal/adapter/source"
	"github.com/couchcryptid/epi-panel-etl/internal/config"
	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/observability"
	"github.com/couchcryptid/epi-panel-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "panel",
		Short:         "Assemble a date-complete epidemiological panel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or text")

	root.AddCommand(serveCommand(cfg), assembleCommand(cfg), usStatesCommand(cfg), usCountiesCommand(cfg))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runFlags are the assembly options shared by every subcommand.
type runFlags struct {
	date        string
	maxDates    int
	walkForward bool
	noCache     bool
}

func (f *runFlags) register(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&f.date, "date", "", "reference date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&f.maxDates, "max-dates", cfg.MaxConsecutiveDates, "maximum number of feed dates to try")
	cmd.Flags().BoolVar(&f.walkForward, "walk-forward", !cfg.WalkBack, "search later dates instead of earlier ones")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", !cfg.CacheEnabled, "bypass the panel cache")
}

// apply folds the flags into cfg.
func (f *runFlags) apply(cfg *config.Config) error {
	if f.date != "" {
		d, err := time.Parse(domain.DateLayout, f.date)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", f.date, err)
		}
		cfg.ReferenceDate = d
	}
	cfg.MaxConsecutiveDates = f.maxDates
	cfg.WalkBack = !f.walkForward
	cfg.CacheEnabled = !f.noCache
	return nil
}

func retryPolicy(cfg *config.Config) pipeline.RetryPolicy {
	direction := domain.WalkBack
	if !cfg.WalkBack {
		direction = domain.WalkForward
	}
	return pipeline.RetryPolicy{MaxAttempts: cfg.MaxConsecutiveDates, Direction: direction}
}

// components are the wired adapters of one process.
type components struct {
	client    *source.Client
	assembler *pipeline.Assembler
	writer    *kafkaadapter.Writer
}

func (c *components) close(logger *slog.Logger) {
	if c.writer == nil {
		return
	}
	if err := c.writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
}

func wire(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*components, error) {
	c := &components{client: source.NewClient(cfg, logger, metrics)}

	var panelCache pipeline.PanelCache
	switch {
	case !cfg.CacheEnabled:
		logger.Info("panel cache disabled")
	case cfg.CacheDir != "":
		fc, err := cache.NewFileCache(cfg.CacheDir, cfg.CacheTTL, nil, logger)
		if err != nil {
			return nil, err
		}
		panelCache = fc
		logger.Info("file panel cache enabled", "dir", cfg.CacheDir, "ttl", cfg.CacheTTL)
	default:
		panelCache = cache.NewMemoryCache(cfg.CacheTTL)
		logger.Info("memory panel cache enabled", "ttl", cfg.CacheTTL)
	}

	var publisher pipeline.Publisher
	if cfg.KafkaEnabled {
		c.writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = c.writer
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	c.assembler = pipeline.NewAssembler(c.client, panelCache, publisher, nil, logger, metrics)
	return c, nil
}

func serveCommand(cfg *config.Config) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Assemble on an interval and serve the panel over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.apply(cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	flags.register(cmd, cfg)
	cmd.Flags().StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	cmd.Flags().DurationVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "time between refreshes, 0 to disable")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	c, err := wire(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer c.close(logger)

	svc := pipeline.NewService(c.assembler, retryPolicy(cfg), cfg.ReferenceDate, cfg.RefreshInterval, nil, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger)
	if cfg.USEnabled {
		srv.EnableUSStates(func(ctx context.Context) ([]domain.StateRow, error) {
			return c.assembler.AssembleUSStates(ctx, c.client)
		})
		srv.EnableUSCounties(func(ctx context.Context) ([]domain.CountyRow, error) {
			return c.assembler.AssembleUSCounties(ctx, c.client)
		})
		logger.Info("us state and county panels enabled", "states_url", cfg.USStatesURL, "counties_url", cfg.USCountiesURL)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	go func() {
		if err := svc.Run(ctx); err != nil {
			logger.Error("refresh loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func assembleCommand(cfg *config.Config) *cobra.Command {
	var (
		flags  runFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble the panel once and write it as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.apply(cfg); err != nil {
				return err
			}
			logger := observability.NewCLILogger(cfg)
			c, err := wire(cfg, logger, observability.NewMetricsForTesting())
			if err != nil {
				return err
			}
			defer c.close(logger)

			run, err := c.assembler.Assemble(cmd.Context(), cfg.ReferenceDate, retryPolicy(cfg))
			if err != nil {
				return err
			}
			if run.Partial() {
				logger.Warn("panel is partial", "skipped", run.Skipped())
			}
			return writeOutput(output, cmd.OutOrStdout(), func(w io.Writer) error {
				return domain.WritePanelCSV(w, run.Panel.Rows)
			})
		},
	}
	flags.register(cmd, cfg)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func usStatesCommand(cfg *config.Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "us-states",
		Short: "Assemble the US state-level panel and write it as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.NewCLILogger(cfg)
			c, err := wire(cfg, logger, observability.NewMetricsForTesting())
			if err != nil {
				return err
			}
			defer c.close(logger)

			rows, err := c.assembler.AssembleUSStates(cmd.Context(), c.client)
			if err != nil {
				return err
			}
			return writeOutput(output, cmd.OutOrStdout(), func(w io.Writer) error {
				return domain.WriteStateCSV(w, rows)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.USStatesURL, "states-url", cfg.USStatesURL, "cumulative US state CSV feed")
	cmd.Flags().StringVar(&cfg.USStateCodesURL, "codes-url", cfg.USStateCodesURL, "US state code table page")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func usCountiesCommand(cfg *config.Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "us-counties",
		Short: "Assemble the US county-level panel and write it as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.NewCLILogger(cfg)
			c, err := wire(cfg, logger, observability.NewMetricsForTesting())
			if err != nil {
				return err
			}
			defer c.close(logger)

			rows, err := c.assembler.AssembleUSCounties(cmd.Context(), c.client)
			if err != nil {
				return err
			}
			return writeOutput(output, cmd.OutOrStdout(), func(w io.Writer) error {
				return domain.WriteCountyCSV(w, rows)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.USCountiesURL, "counties-url", cfg.USCountiesURL, "cumulative US county CSV feed")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
