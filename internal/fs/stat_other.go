//go:build !linux

package fs

import (
	"io/fs"
	"time"
)

// AccessTime falls back to the modification time.
func (m *OSFilesystemManager) AccessTime(info fs.FileInfo) time.Time {
	return info.ModTime().UTC()
}
