package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"ftrack/internal/ft"
)

// TaskExecutor runs one task.
type TaskExecutor interface {
	Execute(ctx context.Context, task *ft.TaskRecord) error
}

// TaskRunner polls the catalog for this device's tasks and executes them.
// Tasks for the same path run one after another in creation order; distinct
// paths run concurrently.
type TaskRunner struct {
	catalog  ft.Catalog
	executor TaskExecutor
	logger   ft.Logger
	deviceID string
	username string
}

func NewTaskRunner(catalog ft.Catalog, executor TaskExecutor, logger ft.Logger, deviceID, username string) *TaskRunner {
	return &TaskRunner{
		catalog:  catalog,
		executor: executor,
		logger:   logger,
		deviceID: deviceID,
		username: username,
	}
}

// CycleStats counts the outcomes of one poll cycle.
type CycleStats struct {
	Completed int
	Failed    int
}

// RunOnce claims pending tasks and runs them, reporting each outcome as it
// finishes. It returns once every claimed task has been reported.
func (t *TaskRunner) RunOnce(ctx context.Context) (CycleStats, error) {
	tasks, err := t.catalog.ListPendingTasks(ctx, t.deviceID, t.username)
	if err != nil {
		return CycleStats{}, fmt.Errorf("fetching tasks: %w", err)
	}
	if len(tasks) == 0 {
		return CycleStats{}, nil
	}

	groups := groupByPath(tasks)
	results := make([]CycleStats, len(groups))

	var g errgroup.Group
	for i, group := range groups {
		g.Go(func() error {
			for _, task := range group {
				if ctx.Err() != nil {
					// Leave the rest claimed; the lease returns them to the pool.
					return nil
				}
				if t.run(ctx, task) {
					results[i].Completed++
				} else {
					results[i].Failed++
				}
			}
			return nil
		})
	}
	g.Wait()

	var stats CycleStats
	for _, r := range results {
		stats.Completed += r.Completed
		stats.Failed += r.Failed
	}
	return stats, nil
}

func (t *TaskRunner) run(ctx context.Context, task *ft.TaskRecord) bool {
	if err := t.executor.Execute(ctx, task); err != nil {
		status, ferr := t.catalog.FailTask(ctx, task.ID, err.Error())
		if ferr != nil {
			t.logger.Error("reporting task failure", "id", task.ID, "error", ferr)
		} else {
			t.logger.Warn("task failed", "id", task.ID, "action", task.Action, "path", task.Path, "status", status, "error", err)
		}
		return false
	}
	if err := t.catalog.CompleteTask(ctx, task.ID); err != nil {
		t.logger.Error("reporting task completion", "id", task.ID, "error", err)
	}
	return true
}

// Run polls every interval until ctx is cancelled.
func (t *TaskRunner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := t.RunOnce(ctx)
		if err != nil {
			t.logger.Warn("task poll failed", "error", err)
		} else if stats.Completed+stats.Failed > 0 {
			t.logger.Info("task cycle finished", "completed", stats.Completed, "failed", stats.Failed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// groupByPath splits tasks into per-path groups, each ordered by creation.
// Groups are ordered by their first task.
func groupByPath(tasks []*ft.TaskRecord) [][]*ft.TaskRecord {
	sorted := append([]*ft.TaskRecord(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	index := make(map[string]int)
	var groups [][]*ft.TaskRecord
	for _, task := range sorted {
		i, ok := index[task.Path]
		if !ok {
			i = len(groups)
			index[task.Path] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], task)
	}
	return groups
}
