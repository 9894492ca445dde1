package catalog

import (
	"fmt"
	"net/http"
)

// SizeClass is a coarse bucket for the expected payload size of a task.
// It drives the timeout policy applied to each fetch attempt.
type SizeClass int

const (
	// Small covers payloads up to a few MB (instrument lists, schedules).
	Small SizeClass = iota
	// Medium covers payloads up to tens of MB.
	Medium
	// Large covers payloads up to hundreds of MB (the full trade tape).
	Large
)

func (c SizeClass) String() string {
	switch c {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return fmt.Sprintf("sizeclass(%d)", int(c))
	}
}

// Format identifies the transform applied to a payload before it is stored.
type Format int

const (
	// FormatRaw stores the payload as received.
	FormatRaw Format = iota
	// FormatEarnings unescapes and trims the BDI table export framing.
	FormatEarnings
	// FormatTSV rewrites a tab-separated payload as comma-separated.
	FormatTSV
	// FormatZipFirst extracts the first entry of a zip archive.
	FormatZipFirst
)

// FetchTask describes one scrape source. Tasks are immutable and
// identified by Name; adding a new source means registering a new task,
// not touching the coordinator.
type FetchTask struct {
	// Name uniquely identifies the task within a catalog.
	Name string

	// EndpointTemplate is the request path relative to the configured
	// base URL. The literal "{date}" is replaced with the ISO date.
	EndpointTemplate string

	// Method is the HTTP method. Defaults to GET when empty.
	Method string

	// BodyTemplate is an optional JSON request body. "{date}" is
	// replaced with the ISO date.
	BodyTemplate string

	// TokenExchange marks endpoints that return a download token which
	// must be redeemed against the download endpoint in a second step.
	TokenExchange bool

	// SizeClass selects the timeout policy for this task.
	SizeClass SizeClass

	// FilenameStem is the file name prefix used by the local store.
	FilenameStem string

	// Bucket is the object-store prefix used by the upload mirror.
	Bucket string

	// Format is the transform applied before persistence.
	Format Format
}

// Catalog is a static registry of fetch tasks in registration order.
type Catalog struct {
	tasks  []FetchTask
	byName map[string]int
}

// ErrUnknownTask is returned when a task name is not registered.
// It indicates a caller bug and is surfaced before any fetching begins.
var ErrUnknownTask = fmt.Errorf("catalog: unknown task")

// New builds a catalog from the given tasks, preserving their order.
func New(tasks ...FetchTask) (*Catalog, error) {
	c := &Catalog{
		tasks:  make([]FetchTask, 0, len(tasks)),
		byName: make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("catalog: task with empty name")
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate task %q", t.Name)
		}
		if t.Method == "" {
			t.Method = http.MethodGet
		}
		c.byName[t.Name] = len(c.tasks)
		c.tasks = append(c.tasks, t)
	}
	return c, nil
}

// Default returns the catalog of B3 publication endpoints.
func Default() *Catalog {
	c, err := New(
		FetchTask{
			Name:             "series",
			EndpointTemplate: "/api/download/requestname?fileName=InstrumentsConsolidatedFile&date={date}&recaptchaToken=",
			TokenExchange:    true,
			SizeClass:        Small,
			FilenameStem:     "series",
			Bucket:           "series-csvs",
			Format:           FormatRaw,
		},
		FetchTask{
			Name:             "earnings",
			EndpointTemplate: "/bdi/table/export/csv?sort=TckrSymb&lang=pt-BR",
			Method:           http.MethodPost,
			BodyTemplate:     `{"Name":"ProventionCreditVariable","Date":"{date}","FinalDate":"{date}","ClientId":"","Filters":{}}`,
			SizeClass:        Small,
			FilenameStem:     "earnings",
			Bucket:           "earnings-csvs",
			Format:           FormatEarnings,
		},
		FetchTask{
			Name:             "open_interest",
			EndpointTemplate: "/api/download/requestname?fileName=DerivativesOpenPositionFile&date={date}&recaptchaToken=",
			TokenExchange:    true,
			SizeClass:        Medium,
			FilenameStem:     "open_interest",
			Bucket:           "openinterests-csvs",
			Format:           FormatTSV,
		},
		FetchTask{
			Name:             "consolidated_trades_info",
			EndpointTemplate: "/api/download/requestname?fileName=TradeInformationConsolidatedFile&date={date}&recaptchaToken=",
			TokenExchange:    true,
			SizeClass:        Medium,
			FilenameStem:     "consolidated_trades_info",
			Bucket:           "consolidated-csvs",
			Format:           FormatTSV,
		},
		FetchTask{
			Name:             "daily_trades",
			EndpointTemplate: "/rapinegocios/tickercsv/{date}",
			SizeClass:        Large,
			FilenameStem:     "daily_trades",
			Bucket:           "trades-csvs",
			Format:           FormatZipFirst,
		},
	)
	if err != nil {
		// The default registrations are compile-time constants.
		panic(err)
	}
	return c
}

// Resolve returns the task registered under name.
func (c *Catalog) Resolve(name string) (FetchTask, error) {
	i, ok := c.byName[name]
	if !ok {
		return FetchTask{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return c.tasks[i], nil
}

// All returns every registered task in registration order.
func (c *Catalog) All() []FetchTask {
	out := make([]FetchTask, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Subset returns the named tasks in the order given. An empty selection
// returns all tasks. Unknown names fail the whole selection.
func (c *Catalog) Subset(names []string) ([]FetchTask, error) {
	if len(names) == 0 {
		return c.All(), nil
	}
	out := make([]FetchTask, 0, len(names))
	for _, name := range names {
		t, err := c.Resolve(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
