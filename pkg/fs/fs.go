// Package fs provides the filesystem abstraction used by the trace store.
//
// The trace store never touches [os] directly. All reads and writes go
// through [FS], so tests can substitute [Chaos] to inject faults and check
// that a failed write is survivable.
package fs

import (
	"os"
)

// FS is the subset of filesystem operations the trace store needs.
//
// Implementations must be safe for concurrent use. Paths are passed through
// unchanged; callers are responsible for joining them onto a root.
type FS interface {
	// ReadFile reads the whole file at path.
	// A missing file yields an error satisfying errors.Is(err, os.ErrNotExist).
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic replaces the file at path with data.
	//
	// The content is written to a temporary file in the same directory and
	// renamed over path, so readers observe either the old or the new file
	// and never a partial one. The parent directory must already exist.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadDir reads the named directory, returning its entries sorted by
	// filename.
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and any missing parents. It is a no-op
	// when the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info for path.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether path exists.
	//
	// Returns (true, nil) if the path exists, (false, nil) if it does not,
	// and (false, err) when existence could not be determined.
	Exists(path string) (bool, error)

	// Remove removes the named file or empty directory.
	Remove(path string) error
}
