package storage

import (
	"sync"
	"time"

	"github.com/aurapacs/portal/internal/models"
)

type entry struct {
	data     *models.StudyData
	storedAt time.Time
}

// StudyCache holds aggregated studies keyed by StudyInstanceUID. It is owned
// by whoever constructs it; nothing in the process shares it implicitly.
// Entries live until invalidated, or until ttl elapses when ttl > 0.
type StudyCache struct {
	studies map[string]entry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

func New(ttl time.Duration) *StudyCache {
	return &StudyCache{
		studies: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *StudyCache) Get(studyUID string) (*models.StudyData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.studies[studyUID]
	if !exists || s.expired(e) {
		return nil, false
	}
	return e.data, true
}

func (s *StudyCache) Set(studyUID string, data *models.StudyData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studies[studyUID] = entry{data: data, storedAt: s.now()}
}

func (s *StudyCache) GetAll() map[string]*models.StudyData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*models.StudyData, len(s.studies))
	for k, e := range s.studies {
		if s.expired(e) {
			continue
		}
		result[k] = e.data
	}
	return result
}

// Invalidate drops one study, typically after an upload into it completes.
func (s *StudyCache) Invalidate(studyUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.studies, studyUID)
}

func (s *StudyCache) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studies = make(map[string]entry)
}

func (s *StudyCache) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.studies)
}

func (s *StudyCache) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.storedAt) > s.ttl
}
