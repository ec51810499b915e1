package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
)

// TimeoutStore keeps timeouts in process memory. Entries are lost on restart.
type TimeoutStore struct {
	mu       sync.RWMutex
	timeouts map[string]*domain.TimeoutEntry
}

// NewTimeoutStore creates an empty store.
func NewTimeoutStore() *TimeoutStore {
	return &TimeoutStore{
		timeouts: make(map[string]*domain.TimeoutEntry),
	}
}

func (s *TimeoutStore) Add(ctx context.Context, entry *domain.TimeoutEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timeouts[entry.ID]; ok {
		return storage.ErrDuplicateTimeout
	}
	s.timeouts[entry.ID] = cloneEntry(entry)
	return nil
}

func (s *TimeoutStore) Peek(ctx context.Context, id string) (*domain.TimeoutEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.timeouts[id]
	if !ok {
		return nil, nil
	}
	return cloneEntry(e), nil
}

func (s *TimeoutStore) TryRemove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timeouts[id]; !ok {
		return false, nil
	}
	delete(s.timeouts, id)
	return true, nil
}

func (s *TimeoutStore) GetDue(ctx context.Context, now time.Time, limit int) ([]*domain.TimeoutEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*domain.TimeoutEntry, 0)
	for _, e := range s.timeouts {
		if e.IsDue(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Time.Equal(due[j].Time) {
			return due[i].ID < due[j].ID
		}
		return due[i].Time.Before(due[j].Time)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.TimeoutEntry, len(due))
	for i, e := range due {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (s *TimeoutStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timeouts), nil
}

func cloneEntry(e *domain.TimeoutEntry) *domain.TimeoutEntry {
	c := *e
	c.Headers = e.Headers.Clone()
	c.State = append([]byte(nil), e.State...)
	return &c
}
