package staging

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollchat/internal/models"
)

func names(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func newSet(n ...string) *Set {
	s := New()
	for _, name := range n {
		s.AddFiles(File{Name: name, Size: 1})
	}
	return s
}

func TestRemoveAtKeepsRelativeOrder(t *testing.T) {
	for i := 0; i < 4; i++ {
		s := newSet("a", "b", "c", "d")
		want := append([]string{}, []string{"a", "b", "c", "d"}[:i]...)
		want = append(want, []string{"a", "b", "c", "d"}[i+1:]...)

		s.RemoveAt(i)

		assert.Equal(t, want, names(s.Snapshot()), "RemoveAt(%d)", i)
		assert.Equal(t, 3, s.Len())
	}
}

func TestRemoveAtOutOfRangeIsNoop(t *testing.T) {
	s := newSet("a", "b")

	s.RemoveAt(-1)
	s.RemoveAt(2)
	s.RemoveAt(100)

	assert.Equal(t, []string{"a", "b"}, names(s.Snapshot()))
}

func TestSnapshotIsIsolatedFromLaterChanges(t *testing.T) {
	s := newSet("a", "b", "c")
	snap := s.Snapshot()

	s.RemoveAt(0)
	s.AddFiles(File{Name: "z"})
	snap[1].Name = "mutated"

	assert.Equal(t, []string{"a", "mutated", "c"}, names(snap))
	assert.Equal(t, []string{"b", "c", "z"}, names(s.Snapshot()))
}

func TestTakeEmptiesTheSet(t *testing.T) {
	s := newSet("a", "b")

	taken := s.Take()

	assert.Equal(t, []string{"a", "b"}, names(taken))
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Take())
}

func TestClear(t *testing.T) {
	s := newSet("a")
	s.Clear()
	assert.Zero(t, s.Len())
}

func TestFromPathDetectsCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text body"), 0o644))

	f, err := FromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", f.Name)
	assert.EqualValues(t, len("plain text body"), f.Size)
	assert.Equal(t, models.AttachmentFile, f.Category)
	assert.Contains(t, f.MIMEType, "text/plain")

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "plain text body", string(body))
}

func TestFromPathRejectsDirectory(t *testing.T) {
	_, err := FromPath(t.TempDir())
	require.Error(t, err)
}
