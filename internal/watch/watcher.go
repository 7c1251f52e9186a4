package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ftrack/internal/ft"
)

// DirPolicy extends Policy with what the watcher needs to pick directories.
type DirPolicy interface {
	Policy
	ExcludedDir(absPath string) bool
	Roots() []string
	TrashDirs() []string
}

// Watcher feeds fsnotify ops for the roots and trash dirs into a Classifier
// and publishes settled events on Events().
type Watcher struct {
	watcher    *fsnotify.Watcher
	classifier *Classifier
	policy     DirPolicy
	logger     ft.Logger
	interval   time.Duration
	events     chan Event
	done       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	// dirs holds the watched directories and gone the paths of directories
	// already reported as renamed or removed. Both are owned by the
	// processing goroutine once Start returns.
	dirs map[string]struct{}
	gone map[string]struct{}
}

// NewWatcher creates a Watcher. interval is how often the classifier is
// flushed; buffer sizes the events channel.
func NewWatcher(classifier *Classifier, policy DirPolicy, logger ft.Logger, interval time.Duration, buffer int) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Watcher{
		watcher:    watcher,
		classifier: classifier,
		policy:     policy,
		logger:     logger,
		interval:   interval,
		events:     make(chan Event, buffer),
		done:       make(chan struct{}),
		dirs:       make(map[string]struct{}),
		gone:       make(map[string]struct{}),
	}, nil
}

// Start adds watches and begins processing. Roots that cannot be watched
// are an error; unreadable subdirectories and trash dirs are logged.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	for _, root := range w.policy.Roots() {
		if err := w.watcher.Add(root); err != nil {
			return fmt.Errorf("failed to watch root %s: %w", root, err)
		}
		w.dirs[filepath.Clean(root)] = struct{}{}
		w.addTree(root, false)
	}
	for _, trash := range w.policy.TrashDirs() {
		if err := w.watcher.Add(trash); err != nil {
			w.logger.Warn("cannot watch trash dir", "path", trash, "error", err)
		}
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and closes Events(). It blocks until processing ends.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns settled events. Closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// addTree watches every non-excluded directory below dir. With collect set
// it returns the regular files found, which a new directory may already
// hold before its watch was added.
func (w *Watcher) addTree(dir string, collect bool) []string {
	var files []string
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p == dir {
				return nil
			}
			if w.policy.ExcludedDir(p) {
				return filepath.SkipDir
			}
			if !w.watchDir(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if collect && d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func (w *Watcher) watchDir(dir string) bool {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("cannot watch directory", "path", dir, "error", err)
		return false
	}
	w.dirs[filepath.Clean(dir)] = struct{}{}
	return true
}

// forget drops dir and everything below it from the watched set.
func (w *Watcher) forget(dir string) {
	for p := range w.dirs {
		if p == dir || isUnder(p, dir) {
			delete(w.dirs, p)
		}
	}
	w.gone[dir] = struct{}{}
}

// listFiles returns the regular files below dir without watching anything.
func listFiles(dir string) []string {
	var files []string
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)

		case <-ticker.C:
			for _, ev := range w.classifier.Flush() {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Create) {
		delete(w.gone, path)
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			w.handleDirCreate(path)
			return
		} else if err == nil && !info.Mode().IsRegular() {
			return
		}
	}

	if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		if _, ok := w.dirs[path]; ok {
			w.handleDirGone(path, event.Has(fsnotify.Rename))
			return
		}
		if _, ok := w.gone[path]; ok {
			// fsnotify reports a moved or deleted directory once from its
			// parent and once from its own watch.
			return
		}
	}

	switch {
	case event.Has(fsnotify.Create):
		w.classifier.Observe(OpCreate, path)
	case event.Has(fsnotify.Write):
		w.classifier.Observe(OpWrite, path)
	case event.Has(fsnotify.Remove):
		w.classifier.Observe(OpRemove, path)
	case event.Has(fsnotify.Rename):
		w.classifier.Observe(OpRename, path)
	case event.Has(fsnotify.Chmod):
		w.classifier.Observe(OpChmod, path)
	}
}

func (w *Watcher) handleDirCreate(dir string) {
	if w.policy.InTrash(dir) || w.policy.ExcludedDir(dir) {
		// Not watched, but a directory moved here from the tree takes its
		// files out of it.
		if w.classifier.PendingDirRename() {
			w.classifier.ObserveDirCreate(dir, listFiles(dir))
		}
		return
	}
	if !w.watchDir(dir) {
		return
	}
	w.classifier.ObserveDirCreate(dir, w.addTree(dir, true))
}

func (w *Watcher) handleDirGone(dir string, renamed bool) {
	if info, err := os.Lstat(dir); err == nil && info.IsDir() {
		// The directory is still here: fsnotify dropped the watch after a
		// self-move event that raced with re-adding it. Watch it again.
		if w.watchDir(dir) {
			w.addTree(dir, false)
		}
		return
	}
	w.forget(dir)
	if renamed {
		w.classifier.ObserveDirRename(dir)
	}
}
