package study

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aurapacs/portal/internal/models"
	"github.com/aurapacs/portal/internal/storage"
)

// ErrSuperseded is returned by a load that was replaced by a newer one.
var ErrSuperseded = errors.New("study load superseded by a newer request")

// Loader serializes study selection for one viewer. Starting a load cancels
// the one in flight, and a superseded load never returns data.
type Loader struct {
	next StudyLoader

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func NewLoader(next StudyLoader) *Loader {
	return &Loader{next: next}
}

func (l *Loader) Load(ctx context.Context, studyUID string) (*models.StudyData, error) {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()
	defer cancel()

	data, err := l.next.Load(ctx, studyUID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return nil, ErrSuperseded
	}
	l.cancel = nil
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Cancel aborts the load in flight, if any. Its caller gets ErrSuperseded.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
}

// Cached serves studies from a StudyCache and fills it on miss. Degraded
// studies are returned but not cached, so the next load retries the
// failed series.
type Cached struct {
	next  StudyLoader
	cache *storage.StudyCache
}

func NewCached(next StudyLoader, cache *storage.StudyCache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Load(ctx context.Context, studyUID string) (*models.StudyData, error) {
	if data, ok := c.cache.Get(studyUID); ok {
		return data, nil
	}
	data, err := c.next.Load(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	if data.Degraded() {
		slog.Warn("Not caching partially loaded study", "study_uid", studyUID, "failed_series", data.FailedSeries)
		return data, nil
	}
	c.cache.Set(studyUID, data)
	return data, nil
}
