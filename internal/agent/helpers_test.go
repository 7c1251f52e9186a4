package agent

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"ftrack/internal/ft"
	"ftrack/internal/identity"
	"ftrack/internal/testutil"
	"ftrack/internal/vault"
)

const (
	testDevice = "dev-1"
	testUser   = "alice"
	testRoot   = "/home/alice"
)

type recordingSuppressor struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingSuppressor) Suppress(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
}

func (s *recordingSuppressor) suppressed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paths {
		if p == path {
			return true
		}
	}
	return false
}

type recordingSubmitter struct {
	mu     sync.Mutex
	images map[string][]byte
}

func (s *recordingSubmitter) SubmitImage(ctx context.Context, deviceID, username, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.images == nil {
		s.images = make(map[string][]byte)
	}
	s.images[path] = data
	return nil
}

type harness struct {
	catalog  *ft.CatalogService
	clock    *testutil.StubClock
	fsmgr    *testutil.MockFilesystemManager
	vault    *vault.MemoryVault
	suppress *recordingSuppressor
	images   *recordingSubmitter
	reporter *Reporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, clock := testutil.NewTestCatalog(t)
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddDirectory(testRoot)

	h := &harness{
		catalog:  catalog,
		clock:    clock,
		fsmgr:    fsmgr,
		vault:    testutil.NewTestVault(),
		suppress: &recordingSuppressor{},
		images:   &recordingSubmitter{},
	}
	h.reporter = NewReporter(catalog, identity.NewIdentifier(fsmgr), fsmgr, h.suppress, h.images,
		ft.NewNopLogger(), clock, ReporterConfig{DeviceID: testDevice, Username: testUser, Workers: 2, QueueSize: 8})
	return h
}

func (h *harness) files(t *testing.T) map[string]*ft.FileRecord {
	t.Helper()
	recs, err := h.catalog.ListFiles(context.Background(), testUser, ft.FileFilter{})
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	out := make(map[string]*ft.FileRecord, len(recs))
	for _, r := range recs {
		out[r.Path] = r
	}
	return out
}

func (h *harness) executor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(h.fsmgr, h.vault, testutil.NewTestEncryptor(), h.suppress, ft.NewNopLogger(), testDevice, testUser, t.TempDir())
}
