package presence

import (
	"slices"
	"testing"
	"time"
)

func TestTrackerWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(5 * time.Minute)
	tr.now = func() time.Time { return now }

	tr.Touch("carol")
	tr.Touch("ann")
	tr.Touch("")

	if got := tr.Online(); !slices.Equal(got, []string{"ann", "carol"}) {
		t.Fatalf("Online() = %v, want [ann carol]", got)
	}

	now = now.Add(4 * time.Minute)
	tr.Touch("ann")
	now = now.Add(2 * time.Minute)

	if got := tr.Online(); !slices.Equal(got, []string{"ann"}) {
		t.Fatalf("Online() after window = %v, want [ann]", got)
	}

	tr.Forget("ann")
	if got := tr.Online(); len(got) != 0 {
		t.Fatalf("Online() after Forget = %v, want empty", got)
	}
}
