// Package pagination decides which page index to fetch next and when the
// crawl is complete.
package pagination

import (
	"sync"

	"go.uber.org/zap"
)

// Phase is the driver's lifecycle state.
type Phase string

// Driver phases. Running issues page indices; Draining lets in-flight pages
// finish without issuing new ones; Terminated means all work is accounted for.
const (
	PhaseRunning    Phase = "running"
	PhaseDraining   Phase = "draining"
	PhaseTerminated Phase = "terminated"
)

// Config controls pagination behavior.
type Config struct {
	// StartPage is the first index handed out.
	StartPage int
	// EmptyPageThreshold is how many consecutive genuinely-empty pages imply
	// the catalog is exhausted. A single empty response can be a server-side
	// glitch, so the default is 2.
	EmptyPageThreshold int
}

// Driver walks the page index sequence and infers termination from
// consecutive empty pages. All mutable state sits behind one mutex; a page
// index is only ever handed out once per run.
type Driver struct {
	mu               sync.Mutex
	nextPage         int
	consecutiveEmpty int
	active           int
	phase            Phase

	threshold int
	logger    *zap.Logger
	done      chan struct{}
}

// NewDriver builds a Driver in the Running phase.
func NewDriver(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.EmptyPageThreshold
	if threshold <= 0 {
		threshold = 2
	}
	return &Driver{
		nextPage:  cfg.StartPage,
		phase:     PhaseRunning,
		threshold: threshold,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Next hands out the next page index, or reports that no more pages will be
// issued. Indices are strictly increasing and contiguous. Every successful
// Next must be matched by exactly one Report* call.
func (d *Driver) Next() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != PhaseRunning {
		return 0, false
	}
	page := d.nextPage
	d.nextPage++
	d.active++
	return page, true
}

// ReportRecords marks a page as having yielded n records.
func (d *Driver) ReportRecords(page, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveEmpty = 0
	d.logger.Debug("page yielded records", zap.Int("page", page), zap.Int("records", n))
	d.finishOne()
}

// ReportEmpty marks a page as genuinely empty (parsed fine, zero records).
// Reaching the threshold moves the driver to Draining.
func (d *Driver) ReportEmpty(page int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveEmpty++
	if d.phase == PhaseRunning && d.consecutiveEmpty >= d.threshold {
		d.phase = PhaseDraining
		d.logger.Info("catalog appears exhausted, draining",
			zap.Int("last_empty_page", page),
			zap.Int("consecutive_empty", d.consecutiveEmpty),
		)
	}
	d.finishOne()
}

// ReportSkipped marks a page that exhausted its retry budget or was rejected
// permanently. Skips never count toward the empty-page threshold: a failing
// page says nothing about the catalog's end.
func (d *Driver) ReportSkipped(page int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Debug("page skipped", zap.Int("page", page))
	d.finishOne()
}

// Stop halts issuance of new pages, e.g. on an external stop signal. In-flight
// pages still complete and must still be reported.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == PhaseRunning {
		d.phase = PhaseDraining
		d.logger.Info("pagination stopped, draining in-flight pages")
	}
	d.maybeTerminate()
}

// Phase returns the current lifecycle phase.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Done is closed once the driver reaches Terminated.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// finishOne releases one in-flight page. Caller holds the mutex.
func (d *Driver) finishOne() {
	d.active--
	d.maybeTerminate()
}

// maybeTerminate moves Draining to Terminated once nothing is in flight.
// Caller holds the mutex.
func (d *Driver) maybeTerminate() {
	if d.phase == PhaseDraining && d.active == 0 {
		d.phase = PhaseTerminated
		close(d.done)
		d.logger.Info("pagination terminated", zap.Int("pages_issued", d.nextPage))
	}
}
