// Package cache stores assembled panels keyed by reference date, either as
// CSV files on disk or in memory with a TTL.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

const filePrefix = "panel_"

// FileCache keeps one CSV file per reference date. The report date is part of
// the file name: panel_<reference>_<report>.csv.
type FileCache struct {
	dir    string
	ttl    time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewFileCache creates dir if needed. A zero ttl keeps entries forever.
func NewFileCache(dir string, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileCache{dir: dir, ttl: ttl, clock: clock, logger: logger}, nil
}

// Get returns the cached panel for referenceDate. Expired files count as a
// miss.
func (c *FileCache) Get(_ context.Context, referenceDate time.Time) (*domain.Panel, bool, error) {
	ref := domain.Day(referenceDate)
	matches, err := filepath.Glob(filepath.Join(c.dir, filePrefix+ref.Format(domain.DateLayout)+"_*.csv"))
	if err != nil {
		return nil, false, fmt.Errorf("glob cache: %w", err)
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	sort.Strings(matches)
	path := matches[len(matches)-1]

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat cache file: %w", err)
	}
	if c.expired(info.ModTime()) {
		return nil, false, nil
	}

	_, report, ok := parseFileName(filepath.Base(path))
	if !ok {
		return nil, false, fmt.Errorf("unexpected cache file name %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	rows, err := domain.ReadPanelCSV(f)
	if err != nil {
		return nil, false, fmt.Errorf("read cache file %s: %w", filepath.Base(path), err)
	}
	return &domain.Panel{ReferenceDate: ref, ReportDate: report, Rows: rows}, true, nil
}

// Put writes the panel to a temporary file and renames it into place, then
// removes older files for the same reference date and expired files.
func (c *FileCache) Put(_ context.Context, panel *domain.Panel) error {
	ref := domain.Day(panel.ReferenceDate)
	name := fileName(ref, domain.Day(panel.ReportDate))

	tmp, err := os.CreateTemp(c.dir, ".panel-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := domain.WritePanelCSV(tmp, panel.Rows); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(c.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename cache file: %w", err)
	}

	c.cleanup(ref, name)
	return nil
}

func (c *FileCache) cleanup(ref time.Time, keep string) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("cache cleanup failed", "error", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep {
			continue
		}
		fileRef, _, ok := parseFileName(name)
		if !ok {
			continue
		}
		stale := fileRef.Equal(ref)
		if !stale {
			info, err := e.Info()
			stale = err == nil && c.expired(info.ModTime())
		}
		if !stale {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("remove cache file", "file", name, "error", err)
		}
	}
}

func (c *FileCache) expired(modTime time.Time) bool {
	return c.ttl > 0 && c.clock.Since(modTime) > c.ttl
}

func fileName(ref, report time.Time) string {
	return filePrefix + ref.Format(domain.DateLayout) + "_" + report.Format(domain.DateLayout) + ".csv"
}

func parseFileName(name string) (ref, report time.Time, ok bool) {
	stem, found := strings.CutSuffix(name, ".csv")
	if !found {
		return ref, report, false
	}
	stem, found = strings.CutPrefix(stem, filePrefix)
	if !found {
		return ref, report, false
	}
	refStr, reportStr, found := strings.Cut(stem, "_")
	if !found {
		return ref, report, false
	}
	var err error
	if ref, err = time.Parse(domain.DateLayout, refStr); err != nil {
		return ref, report, false
	}
	if report, err = time.Parse(domain.DateLayout, reportStr); err != nil {
		return ref, report, false
	}
	return ref, report, true
}
