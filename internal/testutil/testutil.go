package testutil

import (
	"context"

	"github.com/GuiPezoti/b3-scraper/internal/fetcher"
)

// StubFetcher is a Fetcher implementation for testing.
type StubFetcher struct {
	FetchFunc func(ctx context.Context, unit fetcher.Unit) fetcher.Outcome
}

// Fetch implements the coordinator's Fetcher interface.
func (s *StubFetcher) Fetch(ctx context.Context, unit fetcher.Unit) fetcher.Outcome {
	if s.FetchFunc != nil {
		return s.FetchFunc(ctx, unit)
	}
	return SuccessOutcome(unit, nil)
}

// SuccessOutcome builds a successful outcome for unit.
func SuccessOutcome(unit fetcher.Unit, data []byte) fetcher.Outcome {
	return fetcher.Outcome{
		Unit:     unit,
		Status:   fetcher.StatusSuccess,
		Bytes:    data,
		Attempts: 1,
	}
}

// ErrorOutcome builds a failed outcome for unit.
func ErrorOutcome(unit fetcher.Unit, kind fetcher.ErrKind, attempts int) fetcher.Outcome {
	return fetcher.Outcome{
		Unit:     unit,
		Status:   fetcher.StatusError,
		Err:      &fetcher.ErrInfo{Kind: kind, Message: "stub failure"},
		Attempts: attempts,
	}
}

// StubSink records stored units for testing.
type StubSink struct {
	StoreFunc func(ctx context.Context, unit fetcher.Unit, data []byte) error
	Stored    []fetcher.Unit
}

// Store implements the coordinator's Sink interface.
func (s *StubSink) Store(ctx context.Context, unit fetcher.Unit, data []byte) error {
	s.Stored = append(s.Stored, unit)
	if s.StoreFunc != nil {
		return s.StoreFunc(ctx, unit, data)
	}
	return nil
}
