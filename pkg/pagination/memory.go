package pagination

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is a Source over an in-memory slice. It is safe for
// concurrent use and accepts appends between page reads.
type MemorySource[T Keyed] struct {
	mu    sync.RWMutex
	items []T
}

// NewMemorySource copies items into a new source.
func NewMemorySource[T Keyed](items ...T) *MemorySource[T] {
	s := &MemorySource[T]{}
	s.Append(items...)
	return s
}

// Append adds items, keeping the source sorted by id.
func (s *MemorySource[T]) Append(items ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, items...)
	sort.Slice(s.items, func(i, j int) bool { return s.items[i].Key() < s.items[j].Key() })
}

func (s *MemorySource[T]) Fetch(_ context.Context, q Query) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, q.Limit)
	keep := func(item T) bool {
		id := item.Key()
		if q.AfterID != nil && id <= *q.AfterID {
			return false
		}
		if q.BeforeID != nil && id >= *q.BeforeID {
			return false
		}
		return true
	}

	if q.Descending {
		for i := len(s.items) - 1; i >= 0 && len(out) < q.Limit; i-- {
			if keep(s.items[i]) {
				out = append(out, s.items[i])
			}
		}
	} else {
		for i := 0; i < len(s.items) && len(out) < q.Limit; i++ {
			if keep(s.items[i]) {
				out = append(out, s.items[i])
			}
		}
	}
	return out, nil
}

func (s *MemorySource[T]) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items)), nil
}
