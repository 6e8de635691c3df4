// Package store persists run artifacts and state files. The filesystem
// implementation writes atomically (temp file then rename) so a crash
// mid-write never leaves a half-written state file behind.
package store

// Store is the persistence surface the engine writes through. Names are
// relative paths under the run directory ("state.yaml",
// "artifacts/review.diff").
type Store interface {
	// Get reads a file. Returns an IO error wrapping os.ErrNotExist when
	// the file does not exist.
	Get(name string) ([]byte, error)

	// Put writes a file atomically, creating parent directories as
	// needed. An existing file is replaced in a single rename so readers
	// never observe a partial write.
	Put(name string, data []byte) error

	// Exists reports whether the named file exists.
	Exists(name string) bool

	// List returns the names of files directly under the given relative
	// directory ("" for the root).
	List(dir string) ([]string, error)
}
