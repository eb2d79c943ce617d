// Package staging holds firmware images in memory between the control surface
// and a device session.
//
// A Store maps paths to byte slices. It never touches the real filesystem:
// callers stage an image before flashing it and read a dump back afterwards.
package staging

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when nothing is staged at a path.
var ErrNotFound = errors.New("staged file not found")

// Store is an in-memory, path-keyed blob store.
//
// Every value is replaced whole, so readers never observe a partial write.
// The zero value is not usable; call New.
type Store struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{files: map[string][]byte{}}
}

// Write stages a copy of data at path, replacing any previous value.
func (s *Store) Write(path string, data []byte) {
	owned := make([]byte, len(data))
	copy(owned, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[path] = owned
}

// Read returns a copy of the bytes staged at path.
func (s *Store) Read(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.files[path]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", path)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Exists reports whether anything is staged at path.
func (s *Store) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.files[path]

	return ok
}

// Remove drops path. Removing a missing path is not an error.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.files, path)
}

// List returns the staged paths in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}
