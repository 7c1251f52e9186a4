package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ftrack/internal/config"
	"ftrack/internal/encryption"
	"ftrack/internal/ft"
	"ftrack/internal/testutil"
)

func newAgentConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("dev-1", "alice", base)
	cfg.Agent.Roots = []string{root}
	cfg.Encryption.Type = "test"
	cfg.Agent.PollInterval = config.Dur(20 * time.Millisecond)
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewAgentApp_Validation(t *testing.T) {
	t.Run("no roots", func(t *testing.T) {
		cfg := newAgentConfig(t, t.TempDir())
		cfg.Agent.Roots = nil
		if _, err := NewAgentApp(context.Background(), cfg, "agent", AgentOptions{}); err == nil {
			t.Error("NewAgentApp() accepted a config without roots")
		}
	})

	t.Run("no vault", func(t *testing.T) {
		cfg := newAgentConfig(t, t.TempDir())
		cfg.Vaults = nil
		if _, err := NewAgentApp(context.Background(), cfg, "agent", AgentOptions{}); !errors.Is(err, ErrNoVault) {
			t.Errorf("NewAgentApp() error = %v, want ErrNoVault", err)
		}
	})
}

func TestAgentApp_ScanAndTasks(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.txt"), "remember")
	writeFile(t, filepath.Join(root, "docs", "report.pdf"), "numbers")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "ignored")
	writeFile(t, filepath.Join(root, "debug.log"), "ignored")

	catalog, _ := testutil.NewTestCatalog(t)
	cfg := newAgentConfig(t, root)
	a, err := NewAgentApp(ctx, cfg, "scan", AgentOptions{Catalog: catalog})
	if err != nil {
		t.Fatalf("NewAgentApp() error = %v", err)
	}
	defer a.Close()

	stats, err := a.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if stats.Files != 2 || stats.Created != 2 {
		t.Errorf("Scan() = %+v, want 2 files created", stats)
	}

	notes := filepath.Join(root, "notes.txt")
	if _, err := catalog.EnqueueTask(ctx, ft.TaskRequest{DeviceID: "dev-1", Username: "alice", Action: ft.ActionArchive, Path: notes}); err != nil {
		t.Fatalf("EnqueueTask() error = %v", err)
	}
	cycle, err := a.RunTasks(ctx)
	if err != nil {
		t.Fatalf("RunTasks() error = %v", err)
	}
	if cycle.Completed != 1 {
		t.Errorf("RunTasks() = %+v, want 1 completed", cycle)
	}
	if _, err := os.Stat(notes); !os.IsNotExist(err) {
		t.Errorf("archived file still on disk: %v", err)
	}

	if !a.ArchiveKeyConfigured() {
		t.Fatal("test encryptor reports unconfigured")
	}
	if err := a.Unlock("pass"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if _, err := catalog.EnqueueTask(ctx, ft.TaskRequest{DeviceID: "dev-1", Username: "alice", Action: ft.ActionUnarchive, Path: notes}); err != nil {
		t.Fatalf("EnqueueTask() error = %v", err)
	}
	if cycle, err := a.RunTasks(ctx); err != nil || cycle.Completed != 1 {
		t.Fatalf("RunTasks() = %+v, %v", cycle, err)
	}
	data, err := os.ReadFile(notes)
	if err != nil || string(data) != "remember" {
		t.Errorf("restored file = %q, %v", data, err)
	}
}

func TestAgentApp_UnlockWithoutKeys(t *testing.T) {
	cfg := newAgentConfig(t, t.TempDir())
	cfg.Encryption.Type = "age"
	a, err := NewAgentApp(context.Background(), cfg, "agent", AgentOptions{Catalog: &stubCatalog{}})
	if err != nil {
		t.Fatalf("NewAgentApp() error = %v", err)
	}
	defer a.Close()

	if a.ArchiveKeyConfigured() {
		t.Fatal("age keys reported configured before init")
	}
	if err := a.Unlock("pass"); !errors.Is(err, encryption.ErrNotConfigured) {
		t.Errorf("Unlock() error = %v, want ErrNotConfigured", err)
	}

	if created, err := InitKeys(cfg, "pass"); err != nil || !created {
		t.Fatalf("InitKeys() = %v, %v", created, err)
	}
	if created, err := InitKeys(cfg, "pass"); err != nil || created {
		t.Errorf("second InitKeys() = %v, %v, want existing keys kept", created, err)
	}
	if err := a.Unlock("pass"); err != nil {
		t.Errorf("Unlock() after InitKeys error = %v", err)
	}
}

func TestAgentApp_Run(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "before.txt"), "already here")

	catalog, _ := testutil.NewTestCatalog(t)
	cfg := newAgentConfig(t, root)
	cfg.Agent.SettleDelay = config.Dur(50 * time.Millisecond)
	a, err := NewAgentApp(context.Background(), cfg, "agent", AgentOptions{Catalog: catalog})
	if err != nil {
		t.Fatalf("NewAgentApp() error = %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	hasFile := func(name string) bool {
		recs, err := catalog.ListFiles(context.Background(), "alice", ft.FileFilter{})
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range recs {
			if r.Name == name {
				return true
			}
		}
		return false
	}
	waitUntil(t, func() bool { return hasFile("before.txt") })

	writeFile(t, filepath.Join(root, "after.txt"), "new arrival")
	waitUntil(t, func() bool { return hasFile("after.txt") })

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// stubCatalog satisfies ft.Catalog for wiring tests that never reach it.
type stubCatalog struct {
	ft.Catalog
}
