package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ftrack/internal/ft"
	"ftrack/internal/watch"
)

// EventSource produces classified events. *watch.Watcher implements it.
type EventSource interface {
	Start() error
	Stop() error
	Events() <-chan watch.Event
}

// Options sets the agent's loop intervals.
type Options struct {
	Roots          []string
	PollInterval   time.Duration
	RescanInterval time.Duration
	// SkipInitialScan disables the startup scan.
	SkipInitialScan bool
}

// Agent runs the reporter, scanner, task runner and reconciler side by side.
type Agent struct {
	events     EventSource
	reporter   *Reporter
	scanner    *Scanner
	runner     *TaskRunner
	reconciler *Reconciler
	logger     ft.Logger
	opts       Options
}

func New(events EventSource, reporter *Reporter, scanner *Scanner, runner *TaskRunner, reconciler *Reconciler, logger ft.Logger, opts Options) *Agent {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = 10 * time.Minute
	}
	return &Agent{
		events:     events,
		reporter:   reporter,
		scanner:    scanner,
		runner:     runner,
		reconciler: reconciler,
		logger:     logger,
		opts:       opts,
	}
}

// Run blocks until ctx is cancelled, then shuts every loop down and waits
// for in-flight work to finish. Only a failure to start watching is returned.
func (a *Agent) Run(ctx context.Context) error {
	a.reporter.Start(ctx)
	if err := a.events.Start(); err != nil {
		a.reporter.Stop()
		return fmt.Errorf("starting watcher: %w", err)
	}
	a.logger.Info("agent started", "roots", a.opts.Roots)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.forward()
	}()

	if !a.opts.SkipInitialScan {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.scanner.Scan(ctx, a.opts.Roots); err != nil && ctx.Err() == nil {
				a.logger.Error("initial scan failed", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runner.Run(ctx, a.opts.PollInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reconciler.Run(ctx, a.opts.RescanInterval)
	}()

	<-ctx.Done()
	a.logger.Info("agent stopping")
	if err := a.events.Stop(); err != nil {
		a.logger.Warn("stopping watcher", "error", err)
	}
	wg.Wait()
	a.reporter.Stop()
	a.logger.Info("agent stopped")
	return nil
}

// forward moves events from the watcher to the reporter until the watcher
// closes its channel.
func (a *Agent) forward() {
	for ev := range a.events.Events() {
		a.logger.Debug("event", "kind", ev.Kind, "path", ev.Path, "old_path", ev.OldPath, "seq", ev.Seq)
		a.reporter.Enqueue(ev)
	}
}
