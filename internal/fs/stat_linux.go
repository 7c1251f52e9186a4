//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// AccessTime returns the atime from the underlying stat data.
func (m *OSFilesystemManager) AccessTime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime().UTC()
	}
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec).UTC()
}
