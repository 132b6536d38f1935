// Package jsonfile stores profiles in a single JSON document.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/tunnelctl/internal/profile"
)

type document struct {
	Profiles []profile.Profile `json:"profiles"`
}

// Store reads and writes {"profiles": [...]} at Path. Writes go through a temp file
// and rename so readers never observe a partial document.
type Store struct {
	mu   sync.RWMutex
	path string
}

// New returns a store for path, creating its directory if needed. The file itself is
// created on first save.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty json store path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// LoadProfiles returns the stored profiles. A missing file yields an empty list.
func (s *Store) LoadProfiles(_ context.Context) ([]profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []profile.Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if doc.Profiles == nil {
		doc.Profiles = []profile.Profile{}
	}
	return doc.Profiles, nil
}

func (s *Store) SaveProfiles(_ context.Context, profiles []profile.Profile) error {
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	b, err := json.MarshalIndent(document{Profiles: profiles}, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) Close() error { return nil }
