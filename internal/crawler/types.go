// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// FailureCause classifies why a page fetch (or extraction) did not produce
// usable records.
type FailureCause string

// Failure cause values attached to FetchError.
const (
	// CauseTransient covers 5xx responses, timeouts and transport resets.
	// Pages failing this way are retried with backoff.
	CauseTransient FailureCause = "transient"
	// CausePermanent covers 4xx responses other than 429. Retrying will not
	// help, the page is skipped immediately.
	CausePermanent FailureCause = "permanent"
	// CauseRateLimited covers 429 responses. The whole pool backs off before
	// the page is retried.
	CauseRateLimited FailureCause = "rate_limited"
	// CauseDegraded marks a page whose markup parsed to nothing recognizable.
	// Treated like a transient failure so a garbled response is never
	// mistaken for the end of the catalog.
	CauseDegraded FailureCause = "degraded"
)

// PageResult is a successfully fetched listing page.
type PageResult struct {
	PageIndex  int
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// FetchError is a classified page fetch failure.
type FetchError struct {
	PageIndex int
	Cause     FailureCause
	Attempt   int
	Err       error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("page %d: %s failure (attempt %d)", e.PageIndex, e.Cause, e.Attempt)
	}
	return fmt.Sprintf("page %d: %s failure (attempt %d): %v", e.PageIndex, e.Cause, e.Attempt, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// AppRecord is one catalog entry extracted from a listing page. Field order
// here is the serialization order in the destination file.
type AppRecord struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	AppLink     string `json:"app_link"`
	DevName     string `json:"dev_name"`
	DevLink     string `json:"dev_link,omitempty"`
	RatingValue string `json:"rating_value,omitempty"`
	RatingCount int    `json:"rating_count,omitempty"`
	Category    string `json:"category,omitempty"`
	IsFree      bool   `json:"is_free"`
	Price       string `json:"price"`
	InstallsMin int    `json:"installs_min,omitempty"`
	InstallsMax int    `json:"installs_max,omitempty"`
}

// Summary reports the outcome of a finished crawl run.
type Summary struct {
	PagesFetched   int
	PagesSkipped   []int
	RecordsWritten int
	Retries        int
	Elapsed        time.Duration
}
