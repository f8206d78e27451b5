// Package presence tracks which users have made an authenticated request
// recently.
package presence

import (
	"slices"
	"sync"
	"time"
)

type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Touch marks username as active now.
func (t *Tracker) Touch(username string) {
	if username == "" {
		return
	}
	t.mu.Lock()
	t.lastSeen[username] = t.now()
	t.mu.Unlock()
}

// Forget drops username immediately, e.g. on logout.
func (t *Tracker) Forget(username string) {
	t.mu.Lock()
	delete(t.lastSeen, username)
	t.mu.Unlock()
}

// Online returns the users seen within the window, sorted. Stale entries are
// pruned as a side effect.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	users := make([]string, 0, len(t.lastSeen))
	for name, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, name)
			continue
		}
		users = append(users, name)
	}
	slices.Sort(users)
	return users
}
