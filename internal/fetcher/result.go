package fetcher

import (
	"time"

	"github.com/GuiPezoti/b3-scraper/internal/catalog"
)

// DateLayout is the ISO date layout used in endpoint templates, file
// names and report output.
const DateLayout = "2006-01-02"

// Unit is one (date, task) fetch obligation. No two units in a batch
// share the same (date, task name) pair unless the caller supplied a
// duplicate date on purpose.
type Unit struct {
	Date time.Time
	Task catalog.FetchTask
}

// Status is the terminal state of a unit.
type Status int

const (
	// StatusSuccess means the payload was retrieved.
	StatusSuccess Status = iota
	// StatusError means all attempts were exhausted or a terminal
	// failure was observed.
	StatusError
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "error"
}

// Outcome is the single terminal result of a unit. It is created once
// by the fetcher and owned by the coordinator afterwards.
type Outcome struct {
	Unit     Unit
	Status   Status
	Bytes    []byte
	Err      *ErrInfo
	Attempts int

	// PersistErr records a failure in the persistence sink after a
	// successful fetch. It is a separate failure domain: it never
	// changes Status and never triggers fetch retries.
	PersistErr error
}
