package agent

import (
	"context"
	"testing"

	"ftrack/internal/ft"
)

func TestReconciler_RunOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{"/kept.txt", "/vanished.txt", "/archived.txt"} {
		h.fsmgr.AddFile(testRoot+name, []byte(name))
		if _, err := h.reporter.reportCreated(ctx, testRoot+name); err != nil {
			t.Fatal(err)
		}
	}
	// Another device's record is never touched by this agent.
	if _, err := h.catalog.UpsertFile(ctx, ft.FileProposal{
		DeviceID: "dev-2", Username: testUser, Name: "laptop.txt", Path: "/home/alice/laptop.txt",
		Size: 1, ContentHash: "laptop-hash", Category: ft.CategoryDocuments,
	}); err != nil {
		t.Fatal(err)
	}
	enqueueTask(t, h, ft.ActionArchive, testRoot+"/archived.txt")

	// Drift: two files disappear without events, one appears.
	h.fsmgr.Remove(testRoot + "/vanished.txt")
	h.fsmgr.Remove(testRoot + "/archived.txt")
	h.fsmgr.AddFile(testRoot+"/missed.txt", []byte("never reported"))

	rec := NewReconciler(h.catalog, h.reporter, h.fsmgr, ft.NewNopLogger(), []string{testRoot}, testDevice, testUser)
	stats, err := rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if stats != (ReconcileStats{Proposed: 1, Removed: 1}) {
		t.Errorf("RunOnce() = %+v, want 1 proposed, 1 removed", stats)
	}

	files := h.files(t)
	for path, want := range map[string]bool{
		testRoot + "/kept.txt":     true,
		testRoot + "/vanished.txt": false,
		testRoot + "/archived.txt": true,
		testRoot + "/missed.txt":   true,
		"/home/alice/laptop.txt":   true,
	} {
		if _, ok := files[path]; ok != want {
			t.Errorf("record %s present = %v, want %v", path, ok, want)
		}
	}

	t.Run("converged catalog needs nothing", func(t *testing.T) {
		stats, err := rec.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if stats != (ReconcileStats{}) {
			t.Errorf("second pass = %+v, want no changes", stats)
		}
	})
}
