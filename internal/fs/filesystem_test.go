package fs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestOSFilesystemManager_FindFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.pdf"), "b")
	writeFile(t, filepath.Join(root, "debug.log"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "c.txt"), "c")
	writeFile(t, filepath.Join(root, "node_modules", "d.js"), "d")

	m := NewOSFilesystemManager(NewExclusionPolicy([]string{root}, nil, nil, nil, nil))
	rootPath, err := m.Resolve(root)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	paths, err := m.FindFiles(rootPath)
	if err != nil {
		t.Fatalf("FindFiles() error = %v", err)
	}

	var got []string
	for _, p := range paths {
		rel, _ := filepath.Rel(root, p.String())
		got = append(got, rel)
	}
	sort.Strings(got)
	want := []string{"a.txt", filepath.Join("sub", "b.pdf")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("FindFiles() = %v, want %v", got, want)
	}
}

func TestOSFilesystemManager_FindFilesRejectsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	writeFile(t, file, "a")

	m := NewOSFilesystemManager(nil)
	p, err := m.Resolve(file)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := m.FindFiles(p); err == nil {
		t.Error("FindFiles() on a file succeeded, want error")
	}
}

func TestOSFilesystemManager_Resolve(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	writeFile(t, file, "hello")
	link := filepath.Join(root, "link")
	if err := os.Symlink(file, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	m := NewOSFilesystemManager(nil)

	p, err := m.Resolve(file)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.IsDir() || p.Info().Size() != 5 {
		t.Errorf("Resolve() = dir %v size %d", p.IsDir(), p.Info().Size())
	}

	if _, err := m.Resolve(link); err == nil {
		t.Error("Resolve(symlink) succeeded, want error")
	}
	if _, err := m.Resolve(filepath.Join(root, "missing")); err == nil {
		t.Error("Resolve(missing) succeeded, want error")
	}
}

func TestOSFilesystemManager_WriteFileAndRemove(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "restored", "doc.txt")

	m := NewOSFilesystemManager(nil)
	if err := m.WriteFile(target, strings.NewReader("restored content")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p, err := m.Resolve(target)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	rc, err := m.Open(p)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "restored content" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}

	if err := m.Remove(target); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("file still present after Remove: %v", err)
	}
}

func TestOSFilesystemManager_AccessTime(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	writeFile(t, file, "a")

	m := NewOSFilesystemManager(nil)
	p, err := m.Resolve(file)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if m.AccessTime(p.Info()).IsZero() {
		t.Error("AccessTime() is zero")
	}
}
