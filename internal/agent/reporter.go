// Package agent runs on a user's device. It reports classified filesystem
// events to the catalog, executes the tasks the server queues for the
// device, and periodically reconciles local state with the catalog.
package agent

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"sync"
	"time"

	"ftrack/internal/ft"
	"ftrack/internal/watch"
)

// suppressFor is how long the classifier ignores a path the agent itself
// just mutated.
const suppressFor = 5 * time.Second

// Identifier computes a file's content identity.
type Identifier interface {
	Identify(path *ft.Path) (string, error)
}

// Suppressor hides the agent's own mutations from the event stream.
type Suppressor interface {
	Suppress(path string, d time.Duration)
}

// ImageSubmitter sends an image for background captioning.
type ImageSubmitter interface {
	SubmitImage(ctx context.Context, deviceID, username, path string, r io.Reader) error
}

// ReporterConfig identifies the device and sizes the worker shards.
type ReporterConfig struct {
	DeviceID  string
	Username  string
	Workers   int
	QueueSize int
}

// Reporter turns classified events into catalog calls. Events are sharded
// by path across a fixed set of workers, so events for one path are
// reported in order while a slow path never holds up the others.
// Delivery is at most once: failures are logged and dropped.
type Reporter struct {
	catalog  ft.Catalog
	ident    Identifier
	fsmgr    ft.FilesystemManager
	suppress Suppressor
	images   ImageSubmitter
	logger   ft.Logger
	clock    ft.Clock
	cfg      ReporterConfig

	mu      sync.Mutex
	shards  []chan watch.Event
	wg      sync.WaitGroup
	running bool
}

// NewReporter creates a stopped Reporter. suppress and images may be nil.
func NewReporter(catalog ft.Catalog, ident Identifier, fsmgr ft.FilesystemManager, suppress Suppressor, images ImageSubmitter, logger ft.Logger, clock ft.Clock, cfg ReporterConfig) *Reporter {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Reporter{
		catalog:  catalog,
		ident:    ident,
		fsmgr:    fsmgr,
		suppress: suppress,
		images:   images,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// Start launches the shard workers.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.shards = make([]chan watch.Event, r.cfg.Workers)
	for i := range r.shards {
		ch := make(chan watch.Event, r.cfg.QueueSize)
		r.shards[i] = ch
		r.wg.Add(1)
		go r.work(ctx, ch)
	}
	r.running = true
}

// Stop closes the shards and waits for queued events to drain.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Enqueue hands ev to its shard without blocking. It returns false when the
// event was dropped because the shard is full or the reporter is stopped.
func (r *Reporter) Enqueue(ev watch.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	select {
	case r.shards[shardFor(ev.Path, len(r.shards))] <- ev:
		return true
	default:
		r.logger.Warn("event dropped, shard full", "kind", ev.Kind, "path", ev.Path)
		return false
	}
}

func shardFor(path string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(path))
	return int(h.Sum32() % uint32(n))
}

func (r *Reporter) work(ctx context.Context, events <-chan watch.Event) {
	defer r.wg.Done()
	for ev := range events {
		if ctx.Err() != nil {
			continue
		}
		if err := r.Handle(ctx, ev); err != nil {
			r.logger.Error("report failed", "kind", ev.Kind, "path", ev.Path, "error", err)
		}
	}
}

// Handle reports a single event synchronously.
func (r *Reporter) Handle(ctx context.Context, ev watch.Event) error {
	switch ev.Kind {
	case watch.Created:
		_, err := r.reportCreated(ctx, ev.Path)
		return err
	case watch.AccessedRead:
		return r.reportAccess(ctx, ev.Path)
	case watch.Moved:
		return r.reportMove(ctx, ev.OldPath, ev.Path)
	case watch.Deleted:
		return r.reportDelete(ctx, ev.Path)
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
}

// reportCreated identifies and proposes a file. Unreadable files are
// skipped with a warning and a nil error.
func (r *Reporter) reportCreated(ctx context.Context, absPath string) (*ft.UpsertResult, error) {
	p, err := r.fsmgr.Resolve(absPath)
	if err != nil {
		r.logger.Debug("skipping vanished file", "path", absPath, "error", err)
		return nil, nil
	}
	if p.IsDir() {
		return nil, nil
	}

	hash, err := r.ident.Identify(p)
	if err != nil {
		if errors.Is(err, ft.ErrUnreadable) {
			r.logger.Warn("skipping unreadable file", "path", absPath, "error", err)
			return nil, nil
		}
		return nil, err
	}

	info := p.Info()
	res, err := r.catalog.UpsertFile(ctx, ft.FileProposal{
		DeviceID:    r.cfg.DeviceID,
		Username:    r.cfg.Username,
		Name:        filepath.Base(absPath),
		Path:        absPath,
		Size:        info.Size(),
		ContentHash: hash,
		Category:    ft.CategoryFor(absPath),
		LastAccess:  r.fsmgr.AccessTime(info),
	})
	if err != nil {
		return nil, fmt.Errorf("proposing %s: %w", absPath, err)
	}

	switch res.Outcome {
	case ft.UpsertDuplicate:
		if res.CleanupAuthorized {
			r.removeDuplicate(absPath, res.Record)
		}
	case ft.UpsertCreated, ft.UpsertUpdated:
		if ft.IsImage(absPath) {
			r.submitImage(ctx, p)
		}
	}
	return res, nil
}

func (r *Reporter) removeDuplicate(absPath string, original *ft.FileRecord) {
	if original == nil || original.Path == absPath {
		return
	}
	if original.DeviceID == r.cfg.DeviceID {
		// The kept copy must still exist here, or absPath is the only one.
		if _, err := r.fsmgr.Resolve(original.Path); err != nil {
			r.logger.Warn("duplicate kept, recorded copy is missing", "path", absPath, "recorded", original.Path)
			return
		}
	}
	if r.suppress != nil {
		r.suppress.Suppress(absPath, suppressFor)
	}
	if err := r.fsmgr.Remove(absPath); err != nil {
		r.logger.Error("duplicate cleanup failed", "path", absPath, "error", err)
		return
	}
	r.logger.Info("duplicate removed", "path", absPath, "kept", original.Path)
}

// submitImage is best effort: a failure is logged and never returned.
func (r *Reporter) submitImage(ctx context.Context, p *ft.Path) {
	if r.images == nil {
		return
	}
	rc, err := r.fsmgr.Open(p)
	if err != nil {
		r.logger.Warn("caption submit skipped", "path", p.String(), "error", err)
		return
	}
	defer rc.Close()
	if err := r.images.SubmitImage(ctx, r.cfg.DeviceID, r.cfg.Username, p.String(), rc); err != nil {
		r.logger.Warn("caption submit failed", "path", p.String(), "error", err)
	}
}

func (r *Reporter) reportAccess(ctx context.Context, absPath string) error {
	_, err := r.catalog.TouchAccess(ctx, r.cfg.DeviceID, r.cfg.Username, filepath.Base(absPath), r.clock.Now())
	if errors.Is(err, ft.ErrNotFound) {
		r.logger.Debug("access on untracked file", "path", absPath)
		return nil
	}
	return err
}

func (r *Reporter) reportMove(ctx context.Context, oldPath, newPath string) error {
	_, err := r.catalog.RenameFile(ctx, ft.RenameProposal{
		DeviceID: r.cfg.DeviceID,
		Username: r.cfg.Username,
		Name:     filepath.Base(oldPath),
		OldPath:  oldPath,
		NewPath:  newPath,
	})
	switch {
	case err == nil:
		if filepath.Base(oldPath) != filepath.Base(newPath) {
			// A rename under a new name may have been paired with an
			// unrelated create; re-proposing corrects the content.
			_, err = r.reportCreated(ctx, newPath)
		}
		return err
	case errors.Is(err, ft.ErrConflict):
		r.logger.Warn("rename rejected", "from", oldPath, "to", newPath, "error", err)
		return nil
	case errors.Is(err, ft.ErrNotFound):
		// The source was never recorded; treat the destination as new.
		_, err = r.reportCreated(ctx, newPath)
		return err
	default:
		return err
	}
}

func (r *Reporter) reportDelete(ctx context.Context, absPath string) error {
	_, err := r.catalog.RemoveFile(ctx, r.cfg.DeviceID, r.cfg.Username, filepath.Base(absPath))
	if errors.Is(err, ft.ErrNotFound) {
		r.logger.Debug("delete of untracked file", "path", absPath)
		return nil
	}
	return err
}
