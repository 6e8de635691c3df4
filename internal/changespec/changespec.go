// Package changespec reads and mutates the external change record a
// workflow run is attached to. The record format belongs to another
// tool; the engine only moves its status along and appends history
// lines, so this package exposes exactly that surface.
package changespec

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steerworks/steer/internal/errors"
)

// Entry is one history line on a change record.
type Entry struct {
	Time    time.Time `yaml:"time"`
	Message string    `yaml:"message"`
}

// Record is the subset of a change record this tool touches.
type Record struct {
	Name    string  `yaml:"name"`
	Status  string  `yaml:"status"`
	History []Entry `yaml:"history,omitempty"`
}

// Store is the mutation surface the engine drives.
type Store interface {
	Read(name string) (*Record, error)
	UpdateStatus(name, status string) error
	AppendHistory(name, message string) error
}

// FileStore keeps one YAML file per record under a directory, mutating
// under an exclusive flock so concurrent runs touching the same record
// never interleave a read-modify-write.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates the record directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.CodeIOWriteError, "creating changespec dir", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

func (s *FileStore) Read(name string) (*Record, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, errors.Wrapf(errors.CodeIOReadError, err, "reading change record %s", name)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(errors.CodeIOReadError, err, "parsing change record %s", name)
	}
	return &rec, nil
}

// UpdateStatus sets the record's status, creating the record when it
// does not exist yet.
func (s *FileStore) UpdateStatus(name, status string) error {
	return s.mutate(name, func(rec *Record) {
		rec.Status = status
	})
}

// AppendHistory adds a timestamped history line.
func (s *FileStore) AppendHistory(name, message string) error {
	return s.mutate(name, func(rec *Record) {
		rec.History = append(rec.History, Entry{Time: s.now(), Message: message})
	})
}

// mutate performs a locked read-modify-write with the same
// temp-then-rename discipline as the run-state store.
func (s *FileStore) mutate(name string, fn func(*Record)) error {
	lockPath := s.path(name) + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrapf(errors.CodeIOWriteError, err, "opening lock for change record %s", name)
	}
	defer func() {
		syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
	}()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return errors.Wrapf(errors.CodeIOWriteError, err, "locking change record %s", name)
	}

	rec := &Record{Name: name}
	if data, err := os.ReadFile(s.path(name)); err == nil {
		if err := yaml.Unmarshal(data, rec); err != nil {
			return errors.Wrapf(errors.CodeIOReadError, err, "parsing change record %s", name)
		}
	}

	fn(rec)

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling change record %s: %w", name, err)
	}
	tmpPath := s.path(name) + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrapf(errors.CodeIOWriteError, err, "writing change record %s", name)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(errors.CodeIOWriteError, err, "renaming change record %s", name)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
