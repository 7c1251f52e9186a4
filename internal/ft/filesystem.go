package ft

import (
	"io"
	"io/fs"
	"time"
)

// FilesystemManager abstracts the device filesystem so the agent can be
// tested without touching real files.
type FilesystemManager interface {
	// Resolve makes rawPath absolute, stats it, and rejects anything that is
	// not a regular file or directory.
	Resolve(rawPath string) (*Path, error)

	// Open opens a file for reading.
	Open(path *Path) (io.ReadCloser, error)

	// Stat returns fresh file info. Path.Info() is the cached copy.
	Stat(path *Path) (fs.FileInfo, error)

	// AccessTime returns the last access time recorded for info, falling
	// back to the modification time where the platform has no atime.
	AccessTime(info fs.FileInfo) time.Time

	// FindFiles walks root and returns every regular file that is not
	// excluded.
	FindFiles(root *Path) ([]*Path, error)

	// WriteFile atomically replaces absPath with the contents of r.
	WriteFile(absPath string, r io.Reader) error

	// Remove deletes a single file.
	Remove(absPath string) error
}
