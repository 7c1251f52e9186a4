package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ftrack/internal/ft"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
	Atime       time.Time
}

// MockFilesystemManager is an in-memory filesystem for testing.
// Safe for concurrent use.
type MockFilesystemManager struct {
	mu    sync.Mutex
	files map[string]*MockFile
	now   time.Time

	// OpenErr, if set, is returned by Open for every path.
	OpenErr error
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
		now:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

// AddFile adds a file to the mock filesystem.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.AddFileWithAccess(path, content, m.now)
}

// AddFileWithAccess adds a file whose last access time is atime.
func (m *MockFilesystemManager) AddFileWithAccess(path string, content []byte, atime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{
		Content:     content,
		Permissions: 0644,
		ModTime:     m.now,
		Atime:       atime,
	}
}

// AddDirectory adds a directory to the mock filesystem.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{
		Permissions: 0755,
		ModTime:     m.now,
		IsDirectory: true,
		Atime:       m.now,
	}
}

// Content returns the bytes stored at path and whether it exists.
func (m *MockFilesystemManager) Content(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok || f.IsDirectory {
		return nil, false
	}
	return append([]byte(nil), f.Content...), true
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*ft.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", absPath)
	}
	return ft.NewPath(absPath, file.IsDirectory, infoFor(absPath, file)), nil
}

func (m *MockFilesystemManager) Open(path *ft.Path) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	file, ok := m.files[path.String()]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path.String())
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path.String())
	}
	return io.NopCloser(bytes.NewReader(file.Content)), nil
}

func (m *MockFilesystemManager) Stat(path *ft.Path) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[path.String()]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path.String())
	}
	return infoFor(path.String(), file), nil
}

func (m *MockFilesystemManager) AccessTime(info fs.FileInfo) time.Time {
	if f, ok := info.Sys().(*MockFile); ok {
		return f.Atime
	}
	return info.ModTime()
}

// FindFiles returns every regular file under root in path order.
func (m *MockFilesystemManager) FindFiles(root *ft.Path) ([]*ft.Path, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.TrimSuffix(root.String(), "/") + "/"
	var names []string
	for name, f := range m.files {
		if !f.IsDirectory && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	paths := make([]*ft.Path, 0, len(names))
	for _, name := range names {
		paths = append(paths, ft.NewPath(name, false, infoFor(name, m.files[name])))
	}
	return paths, nil
}

func (m *MockFilesystemManager) WriteFile(absPath string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[absPath] = &MockFile{
		Content:     data,
		Permissions: 0644,
		ModTime:     m.now,
		Atime:       m.now,
	}
	return nil
}

func (m *MockFilesystemManager) Remove(absPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[absPath]; !ok {
		return fmt.Errorf("file not found: %s", absPath)
	}
	delete(m.files, absPath)
	return nil
}

func infoFor(absPath string, file *MockFile) *mockFileInfo {
	return &mockFileInfo{
		name:     filepath.Base(absPath),
		size:     int64(len(file.Content)),
		mode:     file.Permissions,
		modTime:  file.ModTime,
		isDir:    file.IsDirectory,
		mockFile: file,
	}
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name     string
	size     int64
	mode     fs.FileMode
	modTime  time.Time
	isDir    bool
	mockFile *MockFile
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return m.mockFile }

// Compile-time check
var _ ft.FilesystemManager = (*MockFilesystemManager)(nil)
