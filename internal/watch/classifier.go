// Package watch turns raw filesystem notifications into the semantic events
// the agent reports: Created, AccessedRead, Moved and Deleted.
package watch

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ftrack/internal/ft"
)

// Op is a raw filesystem operation.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpChmod:
		return "chmod"
	default:
		return "unknown"
	}
}

// Kind is the semantic event type.
type Kind int

const (
	Created Kind = iota
	AccessedRead
	Moved
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case AccessedRead:
		return "accessed"
	case Moved:
		return "moved"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a classified change to one file.
type Event struct {
	Kind Kind
	// Path is the file's current path; the destination for Moved.
	Path string
	// OldPath is set for Moved only.
	OldPath string
	// Seq increases in detection order.
	Seq uint64
	At  time.Time
}

// Policy is the subset of the exclusion policy the classifier consults.
type Policy interface {
	Excluded(absPath string) bool
	InTrash(absPath string) bool
}

type pending struct {
	kind     Kind
	seq      uint64
	deadline time.Time
}

type pendingRename struct {
	oldPath  string
	seq      uint64
	op       uint64
	deadline time.Time
	// fresh is set when the source was itself an unsettled create, so the
	// server never learned about it.
	fresh bool
}

// Classifier is a clock-driven state machine. Observe feeds it raw ops;
// Flush returns the events whose settle delay has elapsed.
// Safe for concurrent use.
type Classifier struct {
	mu         sync.Mutex
	policy     Policy
	settle     time.Duration
	clock      ft.Clock
	logger     ft.Logger
	seq        uint64
	ops        uint64
	pending    map[string]*pending
	renames    []*pendingRename
	dirRenames []*pendingRename
	ready      []Event
	suppressed map[string]time.Time
}

// NewClassifier creates a Classifier that settles each path for settle.
func NewClassifier(policy Policy, settle time.Duration, clock ft.Clock, logger ft.Logger) *Classifier {
	return &Classifier{
		policy:     policy,
		settle:     settle,
		clock:      clock,
		logger:     logger,
		pending:    make(map[string]*pending),
		suppressed: make(map[string]time.Time),
	}
}

// Suppress ignores every op on path for d. The agent calls it before
// mutating a file itself.
func (c *Classifier) Suppress(path string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed[filepath.Clean(path)] = c.clock.Now().Add(d)
}

// Observe records one raw op.
func (c *Classifier) Observe(op Op, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ops++
	path = filepath.Clean(path)
	now := c.clock.Now()
	if until, ok := c.suppressed[path]; ok && now.Before(until) {
		c.logger.Debug("suppressed op", "op", op, "path", path)
		return
	}

	switch op {
	case OpCreate:
		c.observeCreate(path, now, true)
	case OpWrite:
		c.observeWrite(path, now)
	case OpRemove:
		c.observeRemove(path, now)
	case OpRename:
		c.observeRename(path, now)
	}
}

func (c *Classifier) nextSeq() uint64 {
	c.seq++
	return c.seq
}

// ObserveDirRename records that a watched directory was renamed away. It
// pairs only with a later ObserveDirCreate, never with a file create.
func (c *Classifier) ObserveDirRename(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ops++
	path = filepath.Clean(path)
	now := c.clock.Now()
	for _, r := range c.dirRenames {
		if r.oldPath == path {
			r.op = c.ops
			r.deadline = now.Add(c.settle)
			return
		}
	}
	c.dirRenames = append(c.dirRenames, &pendingRename{
		oldPath:  path,
		seq:      c.nextSeq(),
		op:       c.ops,
		deadline: now.Add(c.settle),
	})
}

// ObserveDirCreate records a directory appearing with files already inside.
// When it completes a pending directory rename, every file becomes a move
// from the same relative path under the old directory; otherwise each file
// is a create.
func (c *Classifier) ObserveDirCreate(dir string, files []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ops++
	dir = filepath.Clean(dir)
	now := c.clock.Now()
	sorted := make([]string, 0, len(files))
	for _, f := range files {
		sorted = append(sorted, filepath.Clean(f))
	}
	sort.Strings(sorted)

	r := c.takeRename(&c.dirRenames, dir, now, true)
	if r == nil {
		for _, f := range sorted {
			c.observeCreate(f, now, false)
		}
		return
	}

	// Unsettled ops under the old directory refer to paths that are gone.
	fresh := make(map[string]bool)
	for p, pend := range c.pending {
		if isUnder(p, r.oldPath) {
			fresh[p] = pend.kind == Created
			delete(c.pending, p)
		}
	}
	for _, f := range sorted {
		rel, err := filepath.Rel(dir, f)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		old := filepath.Join(r.oldPath, rel)
		c.pairMove(&pendingRename{oldPath: old, seq: c.nextSeq(), fresh: fresh[old]}, f, now)
	}
}

// PendingDirRename reports whether a directory rename is waiting for its
// destination.
func (c *Classifier) PendingDirRename() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirRenames) > 0
}

func isUnder(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}

// observeCreate pairs path with a pending file rename. A rename with the
// same base name pairs anywhere in the settle window; one with a different
// base name only when adjacent is set and the rename was the op just before
// this one, as inotify reports a rename as back-to-back events.
func (c *Classifier) observeCreate(path string, now time.Time, adjacent bool) {
	if r := c.takeRename(&c.renames, path, now, adjacent); r != nil {
		c.pairMove(r, path, now)
		return
	}
	if c.policy.InTrash(path) {
		return
	}
	if c.policy.Excluded(path) {
		c.logger.Debug("excluded", "path", path)
		return
	}

	p, ok := c.pending[path]
	if !ok {
		c.pending[path] = &pending{kind: Created, seq: c.nextSeq(), deadline: now.Add(c.settle)}
		return
	}
	// Replaced in place (e.g. delete and recreate by an editor).
	p.kind = Created
	p.deadline = now.Add(c.settle)
}

func (c *Classifier) observeWrite(path string, now time.Time) {
	if c.policy.InTrash(path) || c.policy.Excluded(path) {
		return
	}
	if p, ok := c.pending[path]; ok {
		if p.kind == Created || p.kind == AccessedRead {
			p.deadline = now.Add(c.settle)
		}
		return
	}
	c.pending[path] = &pending{kind: AccessedRead, seq: c.nextSeq(), deadline: now.Add(c.settle)}
}

func (c *Classifier) observeRemove(path string, now time.Time) {
	if c.policy.InTrash(path) || c.policy.Excluded(path) {
		return
	}
	if p, ok := c.pending[path]; ok && p.kind == Created {
		// Created and removed before settling: nothing to report.
		delete(c.pending, path)
		return
	}
	c.pending[path] = &pending{kind: Deleted, seq: c.nextSeq(), deadline: now.Add(c.settle)}
}

func (c *Classifier) observeRename(path string, now time.Time) {
	r := &pendingRename{oldPath: path, seq: c.nextSeq(), op: c.ops, deadline: now.Add(c.settle)}
	if p, ok := c.pending[path]; ok {
		r.fresh = p.kind == Created
		delete(c.pending, path)
	}
	c.renames = append(c.renames, r)
}

// takeRename pops the unexpired rename from list best matching newPath: the
// oldest with the same base name, else with adjacent set the rename
// observed immediately before the current op.
func (c *Classifier) takeRename(list *[]*pendingRename, newPath string, now time.Time, adjacent bool) *pendingRename {
	best := -1
	base := filepath.Base(newPath)
	for i, r := range *list {
		if now.After(r.deadline) {
			continue
		}
		if filepath.Base(r.oldPath) == base {
			best = i
			break
		}
		if adjacent && best < 0 && r.op+1 == c.ops {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	r := (*list)[best]
	*list = append((*list)[:best], (*list)[best+1:]...)
	return r
}

func (c *Classifier) pairMove(r *pendingRename, newPath string, now time.Time) {
	oldTracked := !r.fresh && !c.policy.Excluded(r.oldPath) && !c.policy.InTrash(r.oldPath)
	newTracked := !c.policy.Excluded(newPath) && !c.policy.InTrash(newPath)

	switch {
	case oldTracked && newTracked:
		c.emit(Event{Kind: Moved, Path: newPath, OldPath: r.oldPath, Seq: r.seq, At: now})
	case oldTracked:
		// Moved to trash or out of the tracked set.
		c.emit(Event{Kind: Deleted, Path: r.oldPath, Seq: r.seq, At: now})
	case newTracked:
		// Moved in from an excluded location, or an unsettled file moved.
		c.pending[newPath] = &pending{kind: Created, seq: r.seq, deadline: now.Add(c.settle)}
	}
}

func (c *Classifier) emit(ev Event) {
	c.ready = append(c.ready, ev)
}

// Flush returns every settled event in detection order.
func (c *Classifier) Flush() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	events := c.ready
	c.ready = nil

	kept := c.renames[:0]
	for _, r := range c.renames {
		if now.Before(r.deadline) {
			kept = append(kept, r)
			continue
		}
		// No matching create: the file left the watched tree.
		if !r.fresh && !c.policy.Excluded(r.oldPath) && !c.policy.InTrash(r.oldPath) {
			events = append(events, Event{Kind: Deleted, Path: r.oldPath, Seq: r.seq, At: now})
		}
	}
	c.renames = kept

	keptDirs := c.dirRenames[:0]
	for _, r := range c.dirRenames {
		if now.Before(r.deadline) {
			keptDirs = append(keptDirs, r)
			continue
		}
		// Its files are gone from the watched tree; the reconciler
		// removes their records.
		c.logger.Debug("directory left the watched tree", "path", r.oldPath)
	}
	c.dirRenames = keptDirs

	for path, p := range c.pending {
		if now.Before(p.deadline) {
			continue
		}
		events = append(events, Event{Kind: p.kind, Path: path, Seq: p.seq, At: now})
		delete(c.pending, path)
	}

	for path, until := range c.suppressed {
		if !now.Before(until) {
			delete(c.suppressed, path)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events
}

// Pending reports how many paths are still settling.
func (c *Classifier) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) + len(c.renames) + len(c.dirRenames)
}
