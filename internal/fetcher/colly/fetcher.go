// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/bionicspirit/market-crawler/internal/crawler"
)

// Config controls collector behavior. URLTemplate must contain one %d verb
// that receives the page index.
type Config struct {
	URLTemplate string
	UserAgent   string
	Timeout     time.Duration
}

// Fetcher fetches one listing page per call using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; set the field directly to keep the collector synchronous.
	c := colly.NewCollector()
	c.Async = false
	// Retries of a failed page revisit the same URL.
	c.AllowURLRevisit = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// URL returns the request URL for a page index.
func (f *Fetcher) URL(pageIndex int) string {
	return fmt.Sprintf(f.cfg.URLTemplate, pageIndex)
}

// Fetch executes a single HTTP GET for the page index. Failures come back as
// *crawler.FetchError with a classified cause; no retrying happens here.
func (f *Fetcher) Fetch(ctx context.Context, pageIndex int) (crawler.PageResult, error) {
	var (
		result   crawler.PageResult
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if f.transport != nil {
		collector.WithTransport(f.transport)
	}

	collector.OnResponse(func(r *colly.Response) {
		result = crawler.PageResult{
			PageIndex:  pageIndex,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &crawler.FetchError{
			PageIndex: pageIndex,
			Cause:     classify(status, err),
			Err:       err,
		}
	})

	if err := f.runCollector(ctx, collector, f.URL(pageIndex), pageIndex, &fetchErr); err != nil {
		return crawler.PageResult{}, err
	}
	return result, nil
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	pageIndex int,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch page %d canceled: %w", pageIndex, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &crawler.FetchError{
				PageIndex: pageIndex,
				Cause:     classify(0, err),
				Err:       err,
			}
		}
		return nil
	}
}

// classify maps a status code and transport error to a failure cause.
func classify(status int, err error) crawler.FailureCause {
	switch {
	case status == http.StatusTooManyRequests:
		return crawler.CauseRateLimited
	case status >= 500:
		return crawler.CauseTransient
	case status >= 400:
		return crawler.CausePermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.CauseTransient
	}
	// DNS failures, connection resets and other transport errors.
	return crawler.CauseTransient
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
