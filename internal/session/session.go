// Package session persists the logged-in identity of the chat client between
// runs as a small YAML file.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNoSession = errors.New("not logged in")

type Data struct {
	Username    string `yaml:"username"`
	AccessToken string `yaml:"access_token"`
	BaseURL     string `yaml:"base_url,omitempty"`
}

// Store reads and writes the session file at a fixed path.
type Store struct {
	path string

	mu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns ErrNoSession when the file is missing or holds no token.
func (s *Store) Load() (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Data{}, ErrNoSession
	}
	if err != nil {
		return Data{}, fmt.Errorf("reading session: %w", err)
	}

	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("parsing session: %w", err)
	}
	if d.AccessToken == "" {
		return Data{}, ErrNoSession
	}
	return d, nil
}

// Save writes d atomically with owner-only permissions.
func (s *Store) Save(d Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary session file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("securing session file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("finalizing session file: %w", err)
	}
	return nil
}

// Clear removes the session file. Clearing an absent session succeeds.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
