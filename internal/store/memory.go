package store

import (
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/steerworks/steer/internal/errors"
)

// Memory is an in-memory Store for tests.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (s *Memory) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, errors.Wrapf(errors.CodeIOReadError, os.ErrNotExist, "reading %s", name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Memory) Put(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.files[name] = stored
	return nil
}

func (s *Memory) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

func (s *Memory) List(dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.files {
		if path.Dir(name) == path.Clean(dir) || (dir == "" && !strings.Contains(name, "/")) {
			names = append(names, path.Base(name))
		}
	}
	sort.Strings(names)
	return names, nil
}

var _ Store = (*Memory)(nil)
