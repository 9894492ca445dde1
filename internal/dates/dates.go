// Package dates enumerates the trading dates a batch run should cover.
package dates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"resty.dev/v3"
)

const dateLayout = "2006-01-02"

// DefaultHolidays lists B3 market holidays used by the offline
// fallback. Extend per year via configuration.
var DefaultHolidays = []string{
	"2024-01-01", "2024-02-12", "2024-02-13", "2024-03-29",
	"2024-05-01", "2024-05-30", "2024-11-15", "2024-11-20",
	"2024-12-24", "2024-12-25", "2024-12-31",
}

// Provider queries the exchange's workday calendar.
type Provider struct {
	client *resty.Client
}

// NewProvider creates a provider issuing requests through client.
func NewProvider(client *resty.Client) *Provider {
	return &Provider{client: client}
}

// Available returns up to max recent workdays, newest first, as
// published by the calendar endpoint. The endpoint pads the list with a
// sentinel entry at each end, which is dropped.
func (p *Provider) Available(ctx context.Context, max int) ([]time.Time, error) {
	today := time.Now().Format(dateLayout)
	resp, err := p.client.R().
		SetContext(ctx).
		Get("/bdi/table/workdays?date=" + today)
	if err != nil {
		return nil, fmt.Errorf("fetch workdays: %w", err)
	}
	defer resp.Body.Close()

	if code := resp.StatusCode(); code >= 400 {
		return nil, fmt.Errorf("fetch workdays: unexpected status %d", code)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read workdays: %w", err)
	}

	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse workdays: %w", err)
	}
	if len(entries) < 3 {
		return nil, fmt.Errorf("parse workdays: short response (%d entries)", len(entries))
	}
	entries = entries[1 : len(entries)-1]

	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		if len(e) < len(dateLayout) {
			return nil, fmt.Errorf("parse workdays: malformed entry %q", e)
		}
		d, err := time.Parse(dateLayout, e[:len(dateLayout)])
		if err != nil {
			return nil, fmt.Errorf("parse workdays: %w", err)
		}
		out = append(out, d)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// LastBusinessDays returns the n weekdays before now, newest first,
// skipping the given holidays. It is the offline fallback when the
// calendar endpoint is unreachable.
func LastBusinessDays(now time.Time, n int, holidays []string) []time.Time {
	skip := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		skip[h] = true
	}

	out := make([]time.Time, 0, n)
	// Midnight in now's own location; Truncate would round against the
	// UTC epoch and shift the day for non-UTC locations.
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for len(out) < n {
		d = d.AddDate(0, 0, -1)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if skip[d.Format(dateLayout)] {
			continue
		}
		out = append(out, d)
	}
	return out
}
