// Package storage is the persistence sink: the date-partitioned local
// store and the optional object-store mirror.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// Store writes one file per (date, task) under a date-partitioned
// directory tree: <base>/<YYYY-MM-DD>/<stem>-<YYYY-MM-DD>.csv. Output
// paths are unique per unit, so writes need no cross-unit locking.
type Store struct {
	base string
}

// NewStore creates a store rooted at base.
func NewStore(base string) *Store {
	return &Store{base: base}
}

// Filename returns the artifact name for a (date, stem) pair.
func Filename(date time.Time, stem string) string {
	return fmt.Sprintf("%s-%s.csv", stem, date.Format(dateLayout))
}

// Save writes data for one unit, creating the date directory as needed,
// and returns the written path.
func (s *Store) Save(date time.Time, stem string, data []byte) (string, error) {
	dir := filepath.Join(s.base, date.Format(dateLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create date dir: %w", err)
	}

	path := filepath.Join(dir, Filename(date, stem))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// DateInfo summarizes the stored files for one date.
type DateInfo struct {
	Date       string
	Files      []string
	TotalBytes int64
}

// List returns the stored dates, newest first, with their files.
func (s *Store) List() ([]DateInfo, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var out []DateInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(dateLayout, e.Name()); err != nil {
			continue
		}
		info := DateInfo{Date: e.Name()}
		files, err := os.ReadDir(filepath.Join(s.base, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read date dir %s: %w", e.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			info.Files = append(info.Files, f.Name())
			if fi, err := f.Info(); err == nil {
				info.TotalBytes += fi.Size()
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// Cleanup removes date directories older than keepDays before now and
// returns how many were removed. Directories whose names are not dates
// are left alone.
func (s *Store) Cleanup(now time.Time, keepDays int) (int, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read base dir: %w", err)
	}

	cutoff := now.AddDate(0, 0, -keepDays)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirDate, err := time.Parse(dateLayout, e.Name())
		if err != nil {
			continue
		}
		if dirDate.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.base, e.Name())); err != nil {
				return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
