package mutation

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"
)

const clearAllKey = "clear-all"

func messageKey(id int64) string {
	return "message:" + strconv.FormatInt(id, 10)
}

// serializer runs at most one request per key at a time. Callers with
// different keys never wait on each other.
type serializer struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem   *semaphore.Weighted
	users int
}

func newSerializer() *serializer {
	return &serializer{slots: make(map[string]*slot)}
}

// acquire blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (s *serializer) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{sem: semaphore.NewWeighted(1)}
		s.slots[key] = sl
	}
	sl.users++
	s.mu.Unlock()

	if err := sl.sem.Acquire(ctx, 1); err != nil {
		s.leave(key, sl)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sl.sem.Release(1)
			s.leave(key, sl)
		})
	}, nil
}

func (s *serializer) leave(key string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.users--
	if sl.users == 0 {
		delete(s.slots, key)
	}
}

func (s *serializer) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
