// Package identity maps speaker ids (Discord user ids) to task-tracker
// members. The mapping lives in a small YAML file:
//
//	speakers:
//	  "184512345678901234":
//	    tracker_id: "4412345"
//	    name: Somchai
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Identity is the tracker member a speaker maps to.
type Identity struct {
	TrackerID string `yaml:"tracker_id"`
	Name      string `yaml:"name,omitempty"`
}

type file struct {
	Speakers map[string]Identity `yaml:"speakers"`
}

// Store is a file-backed speaker directory, safe for concurrent use.
type Store struct {
	path string

	mu       sync.RWMutex
	speakers map[string]Identity
}

// Open loads the directory at path. A missing file yields an empty
// directory that is created on the first [Store.Set].
func Open(path string) (*Store, error) {
	s := &Store{path: path, speakers: make(map[string]Identity)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	for id, ident := range f.Speakers {
		if ident.TrackerID == "" {
			return nil, fmt.Errorf("identity: speaker %q has no tracker_id", id)
		}
		s.speakers[id] = ident
	}
	return s, nil
}

// NewMemory returns a directory that is never persisted.
func NewMemory(speakers map[string]Identity) *Store {
	s := &Store{speakers: make(map[string]Identity, len(speakers))}
	maps.Copy(s.speakers, speakers)
	return s
}

// Lookup returns the identity of speakerID.
func (s *Store) Lookup(speakerID string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.speakers[speakerID]
	return ident, ok
}

// All returns a copy of the whole directory.
func (s *Store) All() map[string]Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.speakers)
}

// Set maps speakerID to ident and persists the directory.
func (s *Store) Set(speakerID string, ident Identity) error {
	if speakerID == "" || ident.TrackerID == "" {
		return errors.New("identity: speaker id and tracker id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.speakers[speakerID]
	s.speakers[speakerID] = ident
	if err := s.persist(); err != nil {
		if had {
			s.speakers[speakerID] = prev
		} else {
			delete(s.speakers, speakerID)
		}
		return err
	}
	return nil
}

// persist writes the file to a temp sibling and renames it into place. Must
// be called with mu held.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(file{Speakers: s.speakers})
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("identity: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".speakers-*.yaml")
	if err != nil {
		return fmt.Errorf("identity: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("identity: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("identity: replace %s: %w", s.path, err)
	}
	return nil
}
