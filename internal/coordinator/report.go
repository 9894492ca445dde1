package coordinator

import (
	"time"

	"github.com/GuiPezoti/b3-scraper/internal/fetcher"
)

// DateReport holds all outcomes for one processed date, ordered by task
// registration order for reproducibility across runs.
type DateReport struct {
	Date     time.Time
	Outcomes []fetcher.Outcome
}

// Summary is the final batch report. A batch with failed units is still
// a completed batch: partial success (a holiday, a file not published
// yet) is the expected common case, not an exceptional one.
type Summary struct {
	DatesProcessed  int
	Reports         []DateReport
	TotalSuccess    int
	TotalErrors     int
	PersistFailures int
}

// summarize rolls the per-date reports up into batch totals. Pure
// aggregation, no I/O.
func summarize(reports []DateReport) *Summary {
	s := &Summary{
		DatesProcessed: len(reports),
		Reports:        reports,
	}
	for _, r := range reports {
		for _, out := range r.Outcomes {
			if out.Status == fetcher.StatusSuccess {
				s.TotalSuccess++
			} else {
				s.TotalErrors++
			}
			if out.PersistErr != nil {
				s.PersistFailures++
			}
		}
	}
	return s
}
