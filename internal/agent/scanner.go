package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/sync/errgroup"

	"ftrack/internal/ft"
)

// ScanStats summarizes a scan.
type ScanStats struct {
	Files      int
	Created    int
	Duplicates int
	Updated    int
	Skipped    int
	Failed     int
}

// Scanner proposes every file under the roots as created. It backs the
// startup scan and `ftrack scan`.
type Scanner struct {
	reporter *Reporter
	fsmgr    ft.FilesystemManager
	logger   ft.Logger
	workers  int
	progress bool
}

// NewScanner creates a Scanner that runs at most workers proposals at once.
// With progress set a progress bar is drawn on stderr.
func NewScanner(reporter *Reporter, fsmgr ft.FilesystemManager, logger ft.Logger, workers int, progress bool) *Scanner {
	if workers <= 0 {
		workers = 1
	}
	return &Scanner{
		reporter: reporter,
		fsmgr:    fsmgr,
		logger:   logger,
		workers:  workers,
		progress: progress,
	}
}

// Scan walks roots and proposes each file. Per-file failures are counted,
// not returned; an unreadable root is an error.
func (s *Scanner) Scan(ctx context.Context, roots []string) (ScanStats, error) {
	var files []string
	for _, root := range roots {
		p, err := s.fsmgr.Resolve(root)
		if err != nil {
			return ScanStats{}, fmt.Errorf("resolving root %s: %w", root, err)
		}
		found, err := s.fsmgr.FindFiles(p)
		if err != nil {
			return ScanStats{}, fmt.Errorf("walking %s: %w", root, err)
		}
		for _, f := range found {
			files = append(files, f.String())
		}
	}

	var bar *pb.ProgressBar
	if s.progress {
		bar = pb.StartNew(len(files))
		defer bar.Finish()
	}

	var (
		mu    sync.Mutex
		stats = ScanStats{Files: len(files)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.reporter.reportCreated(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				s.logger.Error("scan proposal failed", "path", path, "error", err)
			case res == nil:
				stats.Skipped++
			case res.Outcome == ft.UpsertCreated:
				stats.Created++
			case res.Outcome == ft.UpsertDuplicate:
				stats.Duplicates++
			case res.Outcome == ft.UpsertUpdated:
				stats.Updated++
			}
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	g.Wait()

	s.logger.Info("scan finished",
		"files", stats.Files,
		"created", stats.Created,
		"duplicates", stats.Duplicates,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return stats, ctx.Err()
}
