package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ftrack/internal/fs"
	"ftrack/internal/ft"
)

func waitFor(t *testing.T, events <-chan Event, kind Kind, path string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind && ev.Path == path {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s %s", kind, path)
		}
	}
}

func TestWatcher_ReportsFileLifecycle(t *testing.T) {
	root := t.TempDir()
	trash := t.TempDir()
	policy := fs.NewExclusionPolicy([]string{root}, []string{trash}, nil, nil, nil)
	classifier := NewClassifier(policy, 50*time.Millisecond, ft.RealClock{}, ft.NewNopLogger())

	w, err := NewWatcher(classifier, policy, ft.NewNopLogger(), 20*time.Millisecond, 16)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	file := filepath.Join(root, "report.txt")
	if err := os.WriteFile(file, []byte("v1"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, w.Events(), Created, file)

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	moved := filepath.Join(sub, "report.txt")
	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.Rename(file, moved); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, w.Events(), Moved, moved)

	if err := os.Rename(moved, filepath.Join(trash, "report.txt")); err != nil {
		t.Fatalf("trash: %v", err)
	}
	waitFor(t, w.Events(), Deleted, moved)
}

func TestWatcher_StartTwice(t *testing.T) {
	root := t.TempDir()
	policy := fs.NewExclusionPolicy([]string{root}, nil, nil, nil, nil)
	classifier := NewClassifier(policy, time.Second, ft.RealClock{}, ft.NewNopLogger())

	w, err := NewWatcher(classifier, policy, ft.NewNopLogger(), 0, 1)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
}

func startTestWatcher(t *testing.T, root, trash string) *Watcher {
	t.Helper()
	var trashDirs []string
	if trash != "" {
		trashDirs = []string{trash}
	}
	policy := fs.NewExclusionPolicy([]string{root}, trashDirs, nil, nil, nil)
	classifier := NewClassifier(policy, 50*time.Millisecond, ft.RealClock{}, ft.NewNopLogger())
	w, err := NewWatcher(classifier, policy, ft.NewNopLogger(), 20*time.Millisecond, 64)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

// collect gathers events until every wanted event has been seen.
func collect(t *testing.T, events <-chan Event, want ...Event) {
	t.Helper()
	missing := make(map[Event]bool, len(want))
	for _, ev := range want {
		missing[Event{Kind: ev.Kind, Path: ev.Path, OldPath: ev.OldPath}] = true
	}
	timeout := time.After(5 * time.Second)
	for len(missing) > 0 {
		select {
		case ev := <-events:
			delete(missing, Event{Kind: ev.Kind, Path: ev.Path, OldPath: ev.OldPath})
		case <-timeout:
			t.Fatalf("timed out; still waiting for %+v", missing)
		}
	}
}

func mkfile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_DirectoryArrivesWithFiles(t *testing.T) {
	root := t.TempDir()
	w := startTestWatcher(t, root, "")

	staged := filepath.Join(t.TempDir(), "incoming")
	mkfile(t, filepath.Join(staged, "a.txt"), "alpha")
	mkfile(t, filepath.Join(staged, "sub", "b.txt"), "beta")

	dir := filepath.Join(root, "incoming")
	if err := os.Rename(staged, dir); err != nil {
		t.Fatalf("rename: %v", err)
	}
	collect(t, w.Events(),
		Event{Kind: Created, Path: filepath.Join(dir, "a.txt")},
		Event{Kind: Created, Path: filepath.Join(dir, "sub", "b.txt")},
	)

	// The new subdirectory is watched.
	later := filepath.Join(dir, "sub", "c.txt")
	mkfile(t, later, "gamma")
	collect(t, w.Events(), Event{Kind: Created, Path: later})
}

func TestWatcher_DirectoryRename(t *testing.T) {
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	mkfile(t, filepath.Join(docs, "a.txt"), "alpha")
	mkfile(t, filepath.Join(docs, "sub", "b.txt"), "beta")
	w := startTestWatcher(t, root, "")

	work := filepath.Join(root, "work")
	if err := os.Rename(docs, work); err != nil {
		t.Fatalf("rename: %v", err)
	}
	collect(t, w.Events(),
		Event{Kind: Moved, Path: filepath.Join(work, "a.txt"), OldPath: filepath.Join(docs, "a.txt")},
		Event{Kind: Moved, Path: filepath.Join(work, "sub", "b.txt"), OldPath: filepath.Join(docs, "sub", "b.txt")},
	)

	// Watches follow the directory to its new name.
	later := filepath.Join(work, "sub", "c.txt")
	deadline := time.Now().Add(5 * time.Second)
	for {
		mkfile(t, later, "gamma")
		select {
		case ev := <-w.Events():
			if ev.Path == later && (ev.Kind == Created || ev.Kind == AccessedRead) {
				return
			}
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event for %s after directory rename", later)
		}
	}
}

func TestWatcher_DirectoryMovedToTrash(t *testing.T) {
	root := t.TempDir()
	trash := t.TempDir()
	old := filepath.Join(root, "old")
	mkfile(t, filepath.Join(old, "x.txt"), "bye")
	w := startTestWatcher(t, root, trash)

	if err := os.Rename(old, filepath.Join(trash, "old")); err != nil {
		t.Fatalf("trash: %v", err)
	}
	collect(t, w.Events(), Event{Kind: Deleted, Path: filepath.Join(old, "x.txt")})
}
