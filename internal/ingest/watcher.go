package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// LockFile is created in a watched directory while a watcher holds it.
const LockFile = ".aurapacs-ingest.lock"

// ErrLocked is returned by Lock when another process watches the directory.
var ErrLocked = errors.New("directory is already watched by another ingest process")

// Lock takes the single-watcher lock of dir. The caller unlocks it when done.
func Lock(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock, nil
}

// Stats summarizes one directory scan.
type Stats struct {
	Found    int
	Uploaded int
	Failed   int
	Pending  int
}

// Watcher polls a directory tree and uploads new or modified .dcm files.
// A file is picked up once its modification time is older than Settle, so
// files still being copied in are left for a later scan.
type Watcher struct {
	Dir      string
	Interval time.Duration
	Settle   time.Duration
	Workers  int
	Uploader *Uploader

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewWatcher(dir string, interval, settle time.Duration, workers int, uploader *Uploader) *Watcher {
	if workers <= 0 {
		workers = 1
	}
	return &Watcher{
		Dir:      dir,
		Interval: interval,
		Settle:   settle,
		Workers:  workers,
		Uploader: uploader,
		seen:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Run scans immediately and then every Interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("Watching directory", "dir", w.Dir, "interval", w.Interval, "workers", w.Workers)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		stats, err := w.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Directory scan failed", "dir", w.Dir, "err", err)
		} else if stats.Found > 0 {
			slog.Info("Directory scanned", "found", stats.Found, "uploaded", stats.Uploaded, "failed", stats.Failed, "pending", stats.Pending)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type candidate struct {
	path    string
	modTime time.Time
}

// Scan uploads every changed file once. Per-file failures are logged and
// counted; the file is retried on the next scan.
func (w *Watcher) Scan(ctx context.Context) (Stats, error) {
	var stats Stats
	cutoff := w.now().Add(-w.Settle)

	var files []candidate
	err := filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".dcm") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			slog.Warn("Failed to stat file", "path", path, "err", err)
			return nil
		}

		w.mu.Lock()
		last, ok := w.seen[path]
		w.mu.Unlock()
		if ok && !info.ModTime().After(last) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			stats.Pending++
			return nil
		}
		files = append(files, candidate{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", w.Dir, err)
	}
	stats.Found = len(files)

	var (
		g       errgroup.Group
		countMu sync.Mutex
	)
	g.SetLimit(w.Workers)
	for _, f := range files {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := w.process(ctx, f.path)

			countMu.Lock()
			if err != nil {
				stats.Failed++
			} else {
				stats.Uploaded++
			}
			countMu.Unlock()

			if err != nil {
				slog.Error("Failed to ingest file", "path", f.path, "err", err)
				// a malformed file stays skipped until it changes
				if !errors.Is(err, ErrInvalidDICOM) {
					return nil
				}
			}
			w.markSeen(f.path, f.modTime)
			return nil
		})
	}
	_ = g.Wait()

	return stats, ctx.Err()
}

func (w *Watcher) markSeen(path string, modTime time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[path] = modTime
}

func (w *Watcher) process(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if _, err := w.Uploader.Upload(ctx, data); err != nil {
		return err
	}
	return nil
}
