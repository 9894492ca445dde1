package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/GuiPezoti/b3-scraper/internal/fetcher"
	"github.com/GuiPezoti/b3-scraper/internal/format"
)

// Sink persists one successful fetch: format the payload, write it to
// the local store, and optionally mirror it to the object store. The
// mirror upload is fire-and-forget and never affects the returned
// error; only the format and local-write steps gate persistence.
type Sink struct {
	store    *Store
	uploader *Uploader

	uploads sync.WaitGroup
}

// NewSink creates a sink writing to store. uploader may be nil to
// disable mirroring.
func NewSink(store *Store, uploader *Uploader) *Sink {
	return &Sink{store: store, uploader: uploader}
}

// Store implements the coordinator's sink contract.
func (s *Sink) Store(ctx context.Context, unit fetcher.Unit, data []byte) error {
	formatted, err := format.Apply(unit.Task.Format, data)
	if err != nil {
		return fmt.Errorf("format %s: %w", unit.Task.Name, err)
	}

	p, err := s.store.Save(unit.Date, unit.Task.FilenameStem, formatted)
	if err != nil {
		return err
	}
	slog.Info("saved",
		"task", unit.Task.Name,
		"path", p,
		"bytes", len(formatted))

	if s.uploader != nil {
		key := path.Join(unit.Task.Bucket, Filename(unit.Date, unit.Task.FilenameStem))
		// Detach from the unit's lifetime: a slow mirror must not block
		// the batch, and cancelling the run should not lose uploads
		// already in flight.
		uctx := context.WithoutCancel(ctx)
		s.uploads.Add(1)
		go func() {
			defer s.uploads.Done()
			if err := s.uploader.Upload(uctx, key, formatted); err != nil {
				slog.Error("upload failed", "key", key, "error", err)
			}
		}()
	}
	return nil
}

// Flush waits for in-flight mirror uploads to finish.
func (s *Sink) Flush() {
	s.uploads.Wait()
}
