// Package coordinator schedules all (date, task) units of a batch run
// and assembles their outcomes into a deterministic report.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/GuiPezoti/b3-scraper/internal/catalog"
	"github.com/GuiPezoti/b3-scraper/internal/fetcher"
	"github.com/GuiPezoti/b3-scraper/internal/metrics"
)

// Fetcher retrieves one unit. Implementations must return exactly one
// terminal outcome and never panic the batch; the coordinator still
// recovers a panicking fetcher into an error outcome.
type Fetcher interface {
	Fetch(ctx context.Context, unit fetcher.Unit) fetcher.Outcome
}

// Sink receives each successful payload for persistence side effects.
// Sink failures are a separate failure domain from fetching: they are
// recorded on the outcome but never change its fetch status.
type Sink interface {
	Store(ctx context.Context, unit fetcher.Unit, data []byte) error
}

// Coordinator fans out fetch units and aggregates results.
type Coordinator struct {
	tasks   []catalog.FetchTask
	fetch   Fetcher
	sink    Sink
	metrics *metrics.Metrics
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithSink attaches a persistence sink for successful outcomes.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a coordinator running the given tasks, in order, for
// every date handed to Run.
func New(tasks []catalog.FetchTask, f Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{tasks: tasks, fetch: f}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes all |dates| x |tasks| units and blocks until every unit
// has a terminal outcome. Units run concurrently; admission against the
// remote host is bounded by the fetcher's gates, not here. No unit is
// cancelled because a sibling failed or stalled.
//
// Report order is deterministic: dates in the order supplied (duplicate
// dates yield independent reports) and outcomes in task registration
// order, regardless of completion order. Empty dates or tasks yield a
// zero-value summary, not an error.
func (c *Coordinator) Run(ctx context.Context, dates []time.Time) *Summary {
	if len(dates) == 0 || len(c.tasks) == 0 {
		return &Summary{}
	}

	reports := make([]DateReport, len(dates))
	for di, date := range dates {
		reports[di] = DateReport{
			Date:     date,
			Outcomes: make([]fetcher.Outcome, len(c.tasks)),
		}
	}

	var wg conc.WaitGroup
	for di := range dates {
		for ti := range c.tasks {
			unit := fetcher.Unit{Date: dates[di], Task: c.tasks[ti]}
			slot := &reports[di].Outcomes[ti]
			wg.Go(func() {
				*slot = c.runUnit(ctx, unit)
			})
		}
	}
	wg.Wait()

	summary := summarize(reports)
	slog.Info("batch completed",
		"dates", summary.DatesProcessed,
		"success", summary.TotalSuccess,
		"errors", summary.TotalErrors,
		"persist_failures", summary.PersistFailures)
	return summary
}

// runUnit drives one unit to its terminal outcome. A panic anywhere in
// the unit becomes an error outcome so the batch invariant (one outcome
// per unit) holds even for crash-worthy failures.
func (c *Coordinator) runUnit(ctx context.Context, unit fetcher.Unit) (out fetcher.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unit panicked",
				"task", unit.Task.Name,
				"date", unit.Date.Format(fetcher.DateLayout),
				"panic", r)
			out = fetcher.Outcome{
				Unit:   unit,
				Status: fetcher.StatusError,
				Err: &fetcher.ErrInfo{
					Kind:    fetcher.KindInternal,
					Message: fmt.Sprintf("panic: %v", r),
				},
				Attempts: 1,
			}
		}
		c.metrics.IncFetch(unit.Task.Name, out.Status.String())
	}()

	out = c.fetch.Fetch(ctx, unit)

	if out.Status == fetcher.StatusSuccess {
		slog.Info("fetched",
			"task", unit.Task.Name,
			"date", unit.Date.Format(fetcher.DateLayout),
			"bytes", len(out.Bytes),
			"attempts", out.Attempts)
		if c.sink != nil {
			if err := c.sink.Store(ctx, unit, out.Bytes); err != nil {
				out.PersistErr = err
				c.metrics.IncPersistFailure()
				slog.Error("persist failed",
					"task", unit.Task.Name,
					"date", unit.Date.Format(fetcher.DateLayout),
					"error", err)
			}
		}
	} else {
		slog.Error("fetch failed",
			"task", unit.Task.Name,
			"date", unit.Date.Format(fetcher.DateLayout),
			"attempts", out.Attempts,
			"error", out.Err)
	}
	return out
}
