package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bionicspirit/market-crawler/internal/api"
	"github.com/bionicspirit/market-crawler/internal/config"
	"github.com/bionicspirit/market-crawler/internal/crawler"
	"github.com/bionicspirit/market-crawler/internal/dispatcher"
	"github.com/bionicspirit/market-crawler/internal/extractor/market"
	collyfetcher "github.com/bionicspirit/market-crawler/internal/fetcher/colly"
	"github.com/bionicspirit/market-crawler/internal/logging"
	"github.com/bionicspirit/market-crawler/internal/metrics"
	"github.com/bionicspirit/market-crawler/internal/pagination"
	"github.com/bionicspirit/market-crawler/internal/sink/jsonl"
)

// newCrawlCmd creates the 'crawl' subcommand. The destination file path is
// the sole required argument; everything else comes from config, environment
// or flags.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <destination>",
		Short: "Crawl the catalog and stream records to a JSON Lines file",
		Long: `Walks the paginated catalog starting at the configured page index,
fetching pages concurrently and appending one JSON record per line to the
destination file. The crawl ends when the configured number of consecutive
empty pages is observed, or on an interrupt signal.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}

	cmd.Flags().Int("concurrency", 0, "worker pool size")
	cmd.Flags().Int("start-page", -1, "first page index to fetch")
	cmd.Flags().Int("max-attempts", 0, "fetch attempts per page before skipping it")
	cmd.Flags().Int("empty-threshold", 0, "consecutive empty pages that end the crawl")
	cmd.Flags().String("url-template", "", "listing page URL template with a %d page placeholder")
	cmd.Flags().String("metrics-addr", "", "address for the metrics endpoint (disabled if empty)")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	metrics.Init()

	destination := args[0]
	sink, err := jsonl.New(destination)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("close destination failed", zap.Error(cerr))
		}
	}()

	disp, err := buildDispatcher(cfg, sink, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownServer := startMetricsServer(cfg, logger)
	defer shutdownServer()

	logger.Info("crawl starting",
		zap.String("destination", destination),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.Int("start_page", cfg.Crawler.StartPage),
	)

	runErr := disp.Run(ctx)
	logSummary(logger, disp.Summary())

	if runErr != nil {
		return fmt.Errorf("crawl aborted: %w", runErr)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Crawler.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("start-page") {
		cfg.Crawler.StartPage, _ = flags.GetInt("start-page")
	}
	if flags.Changed("max-attempts") {
		cfg.Crawler.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("empty-threshold") {
		cfg.Crawler.EmptyPageThreshold, _ = flags.GetInt("empty-threshold")
	}
	if flags.Changed("url-template") {
		cfg.Crawler.URLTemplate, _ = flags.GetString("url-template")
	}
	if flags.Changed("metrics-addr") {
		cfg.Server.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func buildDispatcher(cfg config.Config, sink crawler.Sink, logger *zap.Logger) (*dispatcher.Dispatcher, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		URLTemplate: cfg.Crawler.URLTemplate,
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.FetchTimeout(),
	})

	base, err := templateBase(cfg.Crawler.URLTemplate)
	if err != nil {
		return nil, err
	}
	extractor, err := market.New(market.Config{BaseURL: base})
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	driver := pagination.NewDriver(pagination.Config{
		StartPage:          cfg.Crawler.StartPage,
		EmptyPageThreshold: cfg.Crawler.EmptyPageThreshold,
	}, logger)

	retry := crawler.NewExponentialRetryPolicy(
		cfg.Crawler.MaxAttempts,
		cfg.BackoffInitial(),
		cfg.BackoffMax(),
	)

	return dispatcher.New(
		driver,
		fetcher,
		extractor,
		sink,
		retry,
		dispatcher.Config{
			Concurrency:   cfg.Crawler.Concurrency,
			Cooldown:      cfg.Cooldown(),
			PolitenessRPS: cfg.Crawler.PolitenessRPS,
		},
		logger,
	), nil
}

// templateBase derives the scheme://host base from the URL template, used to
// resolve relative links in listing markup.
func templateBase(template string) (string, error) {
	u, err := url.Parse(fmt.Sprintf(template, 0))
	if err != nil {
		return "", fmt.Errorf("parse url template: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

func startMetricsServer(cfg config.Config, logger *zap.Logger) func() {
	if cfg.Server.MetricsAddr == "" {
		return func() {}
	}
	server := api.NewServer(cfg.Server.MetricsAddr, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
}

func logSummary(logger *zap.Logger, summary crawler.Summary) {
	for _, page := range summary.PagesSkipped {
		logger.Warn("page permanently skipped", zap.Int("page", page))
	}
	logger.Info("crawl finished",
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("pages_skipped", len(summary.PagesSkipped)),
		zap.Ints("skipped_pages", summary.PagesSkipped),
		zap.Int("records_written", summary.RecordsWritten),
		zap.Int("retries", summary.Retries),
		zap.Duration("elapsed", summary.Elapsed),
	)
}
