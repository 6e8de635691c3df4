package store

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/steerworks/steer/internal/errors"
)

// RunLock is an exclusive lock on a run directory. It stops two
// processes from driving the same run concurrently while leaving other
// runs untouched.
type RunLock struct {
	lockFile *os.File
	lockPath string
}

// Release drops the lock and removes the lock file (best effort).
func (l *RunLock) Release() error {
	if l.lockFile == nil {
		return nil
	}
	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	os.Remove(l.lockPath)
	return err
}

// FS is a Store rooted at a directory on disk.
type FS struct {
	root string
}

// NewFS creates the root directory if needed and recovers any temp
// files left behind by an interrupted write.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(errors.CodeIOWriteError, "creating store root", err)
	}
	if err := recoverInterruptedWrites(root); err != nil {
		return nil, errors.Wrap(errors.CodeIOWriteError, "recovering interrupted writes", err)
	}
	return &FS{root: root}, nil
}

// Root returns the store's root directory.
func (s *FS) Root() string {
	return s.root
}

// AcquireLock takes the run directory's exclusive lock without
// blocking. Failure means another process owns the run.
func (s *FS) AcquireLock() (*RunLock, error) {
	lockPath := filepath.Join(s.root, ".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIOWriteError, "opening run lock file", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, errors.Wrapf(errors.CodeIOWriteError, err, "run directory %s is in use (lock held)", s.root)
	}
	return &RunLock{lockFile: lockFile, lockPath: lockPath}, nil
}

func (s *FS) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		return nil, errors.Wrapf(errors.CodeIOReadError, err, "reading %s", name)
	}
	return data, nil
}

func (s *FS) Put(name string, data []byte) error {
	mainPath := filepath.Join(s.root, name)
	if err := os.MkdirAll(filepath.Dir(mainPath), 0755); err != nil {
		return errors.Wrapf(errors.CodeIOWriteError, err, "creating parent dir for %s", name)
	}

	tmpPath := mainPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrapf(errors.CodeIOWriteError, err, "writing temp file for %s", name)
	}
	if err := os.Rename(tmpPath, mainPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(errors.CodeIOWriteError, err, "renaming temp file for %s", name)
	}
	return nil
}

func (s *FS) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.root, name))
	return err == nil
}

func (s *FS) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, errors.Wrapf(errors.CodeIOReadError, err, "listing %s", dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") || entry.Name() == ".lock" {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// recoverInterruptedWrites handles .tmp files left from crashed writes:
// orphan temps are removed, temps whose main file is missing are
// promoted.
func recoverInterruptedWrites(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".tmp") {
			return err
		}
		mainPath := strings.TrimSuffix(path, ".tmp")
		if _, statErr := os.Stat(mainPath); statErr == nil {
			os.Remove(path)
		} else {
			os.Rename(path, mainPath)
		}
		return nil
	})
}

var _ Store = (*FS)(nil)
