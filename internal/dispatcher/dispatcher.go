// Package dispatcher runs the bounded worker pool that walks the pagination
// sequence, fetches pages and forwards extracted records to the sink.
package dispatcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bionicspirit/market-crawler/internal/crawler"
	"github.com/bionicspirit/market-crawler/internal/metrics"
)

// Driver is the pagination driver surface the dispatcher needs. Implemented
// by *pagination.Driver.
type Driver interface {
	Next() (int, bool)
	ReportRecords(page, n int)
	ReportEmpty(page int)
	ReportSkipped(page int)
	Stop()
}

// Config controls pool behavior.
type Config struct {
	// Concurrency is the worker pool size W.
	Concurrency int
	// Cooldown is the pool-wide pause after a rate limit signal.
	Cooldown time.Duration
	// PolitenessRPS caps the pool-wide request rate; <= 0 means unlimited.
	PolitenessRPS float64
}

// Dispatcher owns the worker pool for one crawl run.
type Dispatcher struct {
	driver    Driver
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	sink      crawler.Sink
	retry     crawler.RetryPolicy
	limiter   *rate.Limiter
	cfg       Config
	logger    *zap.Logger

	cooldownMu    sync.Mutex
	cooldownUntil time.Time

	statsMu sync.Mutex
	stats   crawler.Summary

	fatalOnce sync.Once
	fatalErr  error
	abort     context.CancelFunc
}

// New constructs a Dispatcher.
func New(
	driver Driver,
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	sink crawler.Sink,
	retry crawler.RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	limit := rate.Limit(cfg.PolitenessRPS)
	if cfg.PolitenessRPS <= 0 {
		limit = rate.Inf
	}
	return &Dispatcher{
		driver:    driver,
		fetcher:   fetcher,
		extractor: extractor,
		sink:      sink,
		retry:     retry,
		limiter:   rate.NewLimiter(limit, 1),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes the crawl and blocks until the pagination driver terminates.
// Cancellation of ctx is the external stop signal: no new pages are issued,
// in-flight fetches finish, and the pool drains without data loss. A sink
// write failure aborts the whole run and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	start := time.Now()

	// Severed from the stop signal so in-flight fetches are not hard-killed
	// mid-request; only a fatal sink failure cancels it.
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	d.abort = abort

	go func() {
		select {
		case <-ctx.Done():
			d.driver.Stop()
		case <-runCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(runCtx, ctx)
		}()
	}
	wg.Wait()

	d.statsMu.Lock()
	d.stats.Elapsed = time.Since(start)
	d.statsMu.Unlock()

	return d.fatal()
}

// Summary reports the run's outcome counters.
func (d *Dispatcher) Summary() crawler.Summary {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	s := d.stats
	s.PagesSkipped = append([]int(nil), d.stats.PagesSkipped...)
	sort.Ints(s.PagesSkipped)
	return s
}

// workerLoop pulls page indices until the driver stops issuing them. stopCtx
// carries the external stop signal; runCtx only dies on fatal abort.
func (d *Dispatcher) workerLoop(runCtx, stopCtx context.Context) {
	for {
		page, ok := d.driver.Next()
		if !ok {
			return
		}
		d.processPage(runCtx, stopCtx, page)
		if runCtx.Err() != nil {
			return
		}
	}
}

func (d *Dispatcher) processPage(runCtx, stopCtx context.Context, page int) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for attempt := 1; ; attempt++ {
		if err := d.waitCooldown(runCtx); err != nil {
			d.skipPage(page, attempt, err)
			return
		}
		if err := d.limiter.Wait(runCtx); err != nil {
			d.skipPage(page, attempt, err)
			return
		}

		records, err := d.fetchAndExtract(runCtx, page, attempt)
		if err == nil {
			d.deliver(runCtx, page, records)
			return
		}

		var fetchErr *crawler.FetchError
		if errors.As(err, &fetchErr) {
			if fetchErr.Cause == crawler.CausePermanent {
				d.skipPage(page, attempt, err)
				return
			}
			if fetchErr.Cause == crawler.CauseRateLimited {
				d.startCooldown(page)
			}
		}

		// A stop signal abandons further retries; the page is reported so
		// the driver's accounting stays intact.
		if stopCtx.Err() != nil || !d.retry.ShouldRetry(err, attempt) {
			d.skipPage(page, attempt, err)
			return
		}

		metrics.ObserveRetry()
		d.statsMu.Lock()
		d.stats.Retries++
		d.statsMu.Unlock()
		d.logger.Debug("retrying page",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !sleepCtx(runCtx, d.retry.Backoff(attempt)) {
			d.skipPage(page, attempt, runCtx.Err())
			return
		}
	}
}

// fetchAndExtract performs one fetch attempt and extraction. A degraded parse
// is folded into a retryable FetchError so a garbled response never counts as
// an empty page.
func (d *Dispatcher) fetchAndExtract(ctx context.Context, page, attempt int) ([]crawler.AppRecord, error) {
	res, err := d.fetcher.Fetch(ctx, page)
	if err != nil {
		var fetchErr *crawler.FetchError
		if errors.As(err, &fetchErr) {
			fetchErr.Attempt = attempt
		}
		return nil, err
	}
	metrics.ObserveFetchDuration(res.Duration)

	records, degraded, exErr := d.extractor.Extract(res.Body)
	if exErr != nil || degraded {
		return nil, &crawler.FetchError{
			PageIndex: page,
			Cause:     crawler.CauseDegraded,
			Attempt:   attempt,
			Err:       exErr,
		}
	}
	return records, nil
}

// deliver writes the page's records in page order. A sink failure is fatal:
// the run has no useful partial success once records stop becoming durable.
func (d *Dispatcher) deliver(ctx context.Context, page int, records []crawler.AppRecord) {
	for _, rec := range records {
		if err := d.sink.Write(ctx, rec); err != nil {
			d.logger.Error("destination write failed, aborting crawl",
				zap.Int("page", page),
				zap.String("uid", rec.UID),
				zap.Error(err),
			)
			d.fatalOnce.Do(func() {
				d.statsMu.Lock()
				d.fatalErr = err
				d.statsMu.Unlock()
				d.driver.Stop()
				if d.abort != nil {
					d.abort()
				}
			})
			d.driver.ReportSkipped(page)
			return
		}
		metrics.ObserveRecordWritten()
		d.statsMu.Lock()
		d.stats.RecordsWritten++
		d.statsMu.Unlock()
	}

	d.statsMu.Lock()
	d.stats.PagesFetched++
	d.statsMu.Unlock()

	if len(records) == 0 {
		metrics.ObservePage(metrics.OutcomeEmpty)
		d.driver.ReportEmpty(page)
		return
	}
	metrics.ObservePage(metrics.OutcomeFetched)
	d.driver.ReportRecords(page, len(records))
}

func (d *Dispatcher) skipPage(page, attempt int, err error) {
	d.logger.Warn("page skipped",
		zap.Int("page", page),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	metrics.ObservePage(metrics.OutcomeSkipped)
	d.statsMu.Lock()
	d.stats.PagesSkipped = append(d.stats.PagesSkipped, page)
	d.statsMu.Unlock()
	d.driver.ReportSkipped(page)
}

// startCooldown pauses new fetch dispatch across the whole pool.
func (d *Dispatcher) startCooldown(page int) {
	until := time.Now().Add(d.cfg.Cooldown)
	d.cooldownMu.Lock()
	extended := until.After(d.cooldownUntil)
	if extended {
		d.cooldownUntil = until
	}
	d.cooldownMu.Unlock()
	if extended {
		metrics.ObserveCooldown()
		d.logger.Warn("rate limited, pool-wide cooldown",
			zap.Int("page", page),
			zap.Duration("cooldown", d.cfg.Cooldown),
		)
	}
}

// waitCooldown blocks while a cooldown window is active.
func (d *Dispatcher) waitCooldown(ctx context.Context) error {
	for {
		d.cooldownMu.Lock()
		remaining := time.Until(d.cooldownUntil)
		d.cooldownMu.Unlock()
		if remaining <= 0 {
			return nil
		}
		if !sleepCtx(ctx, remaining) {
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) fatal() error {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.fatalErr
}

// sleepCtx waits for dur unless the context finishes first.
func sleepCtx(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
