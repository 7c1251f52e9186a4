package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ftrack/internal/agent"
	"ftrack/internal/config"
	"ftrack/internal/encryption"
	"ftrack/internal/fs"
	"ftrack/internal/ft"
	"ftrack/internal/identity"
	"ftrack/internal/vault"
	"ftrack/internal/watch"
)

// AgentApp runs the watcher, the reporter, the task runner and the
// reconciler for one device.
type AgentApp struct {
	*base
	catalog    ft.Catalog
	policy     *fs.ExclusionPolicy
	fsmgr      *fs.OSFilesystemManager
	vault      ft.Vault
	encryptor  ft.Encryptor
	classifier *watch.Classifier
	reporter   *agent.Reporter
	executor   *agent.Executor
	scanner    *agent.Scanner
	runner     *agent.TaskRunner
	reconciler *agent.Reconciler
}

// AgentOptions adjusts how the agent is wired.
type AgentOptions struct {
	// Catalog overrides the HTTP client built from cfg.Client.
	Catalog ft.Catalog
	// Progress draws a progress bar during scans.
	Progress bool
	Stderr   io.Writer
}

// NewAgentApp wires the agent from cfg. The caller must call Close.
func NewAgentApp(ctx context.Context, cfg *config.Config, operation string, opts AgentOptions) (*AgentApp, error) {
	if len(cfg.Agent.Roots) == 0 {
		return nil, fmt.Errorf("agent.roots is empty: nothing to watch")
	}
	if len(cfg.Vaults) == 0 {
		return nil, ErrNoVault
	}

	b, err := newBase(cfg, operation, opts.Stderr)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*AgentApp, error) {
		b.closeLog()
		return nil, err
	}

	roots := make([]string, 0, len(cfg.Agent.Roots))
	for _, r := range cfg.Agent.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return fail(fmt.Errorf("resolving root %s: %w", r, err))
		}
		roots = append(roots, abs)
	}
	policy, err := fs.LoadExclusionPolicy(roots, cfg.Agent.TrashDirs, cfg.Agent.ExcludedDirs, cfg.Agent.ExcludedTypes)
	if err != nil {
		return fail(fmt.Errorf("loading exclusion policy: %w", err))
	}
	fsmgr := fs.NewOSFilesystemManager(policy)

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return fail(fmt.Errorf("creating vault: %w", err))
	}
	if err := v.ValidateSetup(ctx); err != nil {
		b.logger.Warn("vault not ready; sync and archive tasks will fail", "vault", cfg.Vaults[0].Name, "error", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fail(fmt.Errorf("creating encryptor: %w", err))
	}

	tempDir := ""
	if cfg.BaseDir != "" {
		tempDir = filepath.Join(cfg.BaseDir, "tmp")
		if err := os.MkdirAll(tempDir, 0700); err != nil {
			return fail(fmt.Errorf("creating temp dir: %w", err))
		}
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = NewClient(cfg)
	}
	images, _ := catalog.(agent.ImageSubmitter)

	clock := ft.RealClock{}
	classifier := watch.NewClassifier(policy, cfg.Agent.SettleDelay.Duration, clock, b.logger)
	reporter := agent.NewReporter(catalog, identity.NewIdentifier(fsmgr), fsmgr, classifier, images, b.logger, clock, agent.ReporterConfig{
		DeviceID:  cfg.DeviceID,
		Username:  cfg.Username,
		Workers:   cfg.Agent.Workers,
		QueueSize: cfg.Agent.QueueSize,
	})
	executor := agent.NewExecutor(fsmgr, v, enc, classifier, b.logger, cfg.DeviceID, cfg.Username, tempDir)

	return &AgentApp{
		base:       b,
		catalog:    catalog,
		policy:     policy,
		fsmgr:      fsmgr,
		vault:      v,
		encryptor:  enc,
		classifier: classifier,
		reporter:   reporter,
		executor:   executor,
		scanner:    agent.NewScanner(reporter, fsmgr, b.logger, cfg.Agent.Workers, opts.Progress),
		runner:     agent.NewTaskRunner(catalog, executor, b.logger, cfg.DeviceID, cfg.Username),
		reconciler: agent.NewReconciler(catalog, reporter, fsmgr, b.logger, roots, cfg.DeviceID, cfg.Username),
	}, nil
}

// ArchiveKeyConfigured reports whether archive keys exist to unlock.
func (a *AgentApp) ArchiveKeyConfigured() bool {
	return a.encryptor.IsConfigured()
}

// Unlock decrypts the archive key so unarchive tasks can run. Without it
// those tasks fail and are retried.
func (a *AgentApp) Unlock(passphrase string) error {
	if !a.encryptor.IsConfigured() {
		return encryption.ErrNotConfigured
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking archive key: %w", err)
	}
	a.executor.SetDecryptor(dc)
	a.logger.Info("archive key unlocked")
	return nil
}

// Run watches the roots and serves tasks until ctx is cancelled.
func (a *AgentApp) Run(ctx context.Context) error {
	w, err := watch.NewWatcher(a.classifier, a.policy, a.logger, 0, a.cfg.Agent.QueueSize)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	ag := agent.New(w, a.reporter, a.scanner, a.runner, a.reconciler, a.logger, agent.Options{
		Roots:          a.policy.Roots(),
		PollInterval:   a.cfg.Agent.PollInterval.Duration,
		RescanInterval: a.cfg.Agent.RescanInterval.Duration,
	})
	return ag.Run(ctx)
}

// Scan proposes every file under the roots once.
func (a *AgentApp) Scan(ctx context.Context) (agent.ScanStats, error) {
	return a.scanner.Scan(ctx, a.policy.Roots())
}

// RunTasks executes the pending tasks once.
func (a *AgentApp) RunTasks(ctx context.Context) (agent.CycleStats, error) {
	return a.runner.RunOnce(ctx)
}

// Close releases the log file.
func (a *AgentApp) Close() error {
	return a.closeLog()
}
