package agent

import (
	"context"
	"fmt"
	"time"

	"ftrack/internal/ft"
	"ftrack/internal/watch"
)

// ReconcileStats counts the corrections made by one pass.
type ReconcileStats struct {
	Proposed int
	Removed  int
	Failed   int
}

// Reconciler repairs drift left by dropped events. It compares the catalog's
// view of this device with the files under the roots.
type Reconciler struct {
	catalog  ft.Catalog
	reporter *Reporter
	fsmgr    ft.FilesystemManager
	logger   ft.Logger
	roots    []string
	deviceID string
	username string
}

func NewReconciler(catalog ft.Catalog, reporter *Reporter, fsmgr ft.FilesystemManager, logger ft.Logger, roots []string, deviceID, username string) *Reconciler {
	return &Reconciler{
		catalog:  catalog,
		reporter: reporter,
		fsmgr:    fsmgr,
		logger:   logger,
		roots:    roots,
		deviceID: deviceID,
		username: username,
	}
}

// RunOnce proposes local files the catalog does not know, and removes
// catalog records whose file is gone. Archived files are expected to be
// absent and are left alone.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	records, err := r.catalog.ListFiles(ctx, r.username, ft.FileFilter{})
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("listing catalog: %w", err)
	}

	local := make(map[string]bool)
	var order []string
	for _, root := range r.roots {
		p, err := r.fsmgr.Resolve(root)
		if err != nil {
			return ReconcileStats{}, fmt.Errorf("resolving root %s: %w", root, err)
		}
		found, err := r.fsmgr.FindFiles(p)
		if err != nil {
			return ReconcileStats{}, fmt.Errorf("walking %s: %w", root, err)
		}
		for _, f := range found {
			if !local[f.String()] {
				local[f.String()] = true
				order = append(order, f.String())
			}
		}
	}

	known := make(map[string]bool, len(records))
	var stats ReconcileStats
	for _, rec := range records {
		known[rec.Path] = true
		if rec.DeviceID != r.deviceID || local[rec.Path] || rec.ArchiveRequested {
			continue
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := r.reporter.Handle(ctx, watch.Event{Kind: watch.Deleted, Path: rec.Path, At: time.Now()}); err != nil {
			stats.Failed++
			r.logger.Warn("reconcile removal failed", "path", rec.Path, "error", err)
			continue
		}
		stats.Removed++
	}

	for _, path := range order {
		if known[path] {
			continue
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if _, err := r.reporter.reportCreated(ctx, path); err != nil {
			stats.Failed++
			r.logger.Warn("reconcile proposal failed", "path", path, "error", err)
			continue
		}
		stats.Proposed++
	}

	if stats.Proposed+stats.Removed+stats.Failed > 0 {
		r.logger.Info("reconcile finished", "proposed", stats.Proposed, "removed", stats.Removed, "failed", stats.Failed)
	}
	return stats, nil
}

// Run reconciles every interval until ctx is cancelled. The first pass
// waits one interval, since the startup scan already covers it.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reconcile failed", "error", err)
			}
		}
	}
}
