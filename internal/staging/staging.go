// Package staging holds the files chosen for the next outgoing message.
//
// The set is independent of network state: nothing here validates size or type,
// that is left to the upload server. Readers always receive a copy so a renderer
// iterating a preview never observes a concurrent change.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"pollchat/internal/models"
)

// File is one pending local attachment.
type File struct {
	Name     string
	Size     int64
	MIMEType string
	Category models.AttachmentKind

	// Open returns a fresh reader over the file content. It is called once per
	// upload attempt.
	Open func() (io.ReadCloser, error)
}

// FromPath stages a file from disk, sniffing its MIME type from content.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("attachment %q is a directory", path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return File{}, fmt.Errorf("detecting attachment type: %w", err)
	}

	return File{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MIMEType: mtype.String(),
		Category: models.KindForMIME(mtype.String()),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Set is the ordered attachment set. The zero value is ready to use.
type Set struct {
	mu    sync.Mutex
	files []File
}

func New() *Set {
	return &Set{}
}

// AddFiles appends files in the given order.
func (s *Set) AddFiles(files ...File) {
	if len(files) == 0 {
		return
	}
	s.mu.Lock()
	s.files = append(s.files, files...)
	s.mu.Unlock()
}

// RemoveAt drops the entry at position i, keeping the relative order of the rest.
// Out-of-range positions are ignored.
func (s *Set) RemoveAt(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.files) {
		return
	}
	next := make([]File, 0, len(s.files)-1)
	next = append(next, s.files[:i]...)
	next = append(next, s.files[i+1:]...)
	s.files = next
}

func (s *Set) Clear() {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Snapshot returns a copy of the current set for preview rendering.
func (s *Set) Snapshot() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]File(nil), s.files...)
}

// Take hands the current set over to the caller and empties it.
func (s *Set) Take() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := s.files
	s.files = nil
	return files
}
