package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves one listing page by its index. Implementations perform a
// single attempt; retry scheduling belongs to the dispatcher.
type Fetcher interface {
	Fetch(ctx context.Context, pageIndex int) (PageResult, error)
}

// Extractor turns raw page bytes into catalog records. It must be a pure
// function of its input: calling it twice on the same bytes yields the same
// records. The degraded flag distinguishes "the markup did not look like a
// listing page at all" from a genuinely empty page.
type Extractor interface {
	Extract(body []byte) (records []AppRecord, degraded bool, err error)
}

// Sink persists records. Write must be safe for concurrent use and must make
// the record durable before returning.
type Sink interface {
	Write(ctx context.Context, rec AppRecord) error
	Close() error
}

// RetryPolicy decides retry eligibility and backoff for failed pages.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
