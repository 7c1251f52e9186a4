package agent

import (
	"context"
	"errors"
	"testing"

	"ftrack/internal/ft"
	"ftrack/internal/testutil"
)

func TestScanner_Scan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fsmgr.AddFile(testRoot+"/a.txt", []byte("alpha"))
	h.fsmgr.AddFile(testRoot+"/b.txt", []byte("beta"))
	h.fsmgr.AddFile(testRoot+"/sub/a-copy.txt", []byte("alpha"))
	h.fsmgr.AddFile("/elsewhere/c.txt", []byte("gamma"))

	scanner := NewScanner(h.reporter, h.fsmgr, ft.NewNopLogger(), 1, false)
	stats, err := scanner.Scan(ctx, []string{testRoot})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := ScanStats{Files: 3, Created: 2, Duplicates: 1}
	if stats != want {
		t.Errorf("Scan() = %+v, want %+v", stats, want)
	}

	t.Run("rescan finds only duplicates", func(t *testing.T) {
		stats, err := scanner.Scan(ctx, []string{testRoot})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if stats.Created != 0 || stats.Duplicates != 3 {
			t.Errorf("rescan = %+v", stats)
		}
	})

	t.Run("changed content is an update", func(t *testing.T) {
		h.fsmgr.AddFile(testRoot+"/b.txt", []byte("beta v2"))
		stats, err := scanner.Scan(ctx, []string{testRoot})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if stats.Updated != 1 {
			t.Errorf("Updated = %d, want 1", stats.Updated)
		}
	})
}

func TestScanner_ParallelWorkers(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		data := []byte{byte(i)}
		h.fsmgr.AddFile(testRoot+"/f"+string(rune('a'+i))+".bin", data)
	}

	stats, err := NewScanner(h.reporter, h.fsmgr, ft.NewNopLogger(), 4, false).Scan(context.Background(), []string{testRoot})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if stats.Created != 20 || stats.Failed != 0 {
		t.Errorf("Scan() = %+v", stats)
	}
	if n := len(h.files(t)); n != 20 {
		t.Errorf("records = %d, want 20", n)
	}
}

func TestScanner_MissingRoot(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	h := newHarness(t)
	if _, err := NewScanner(h.reporter, fsmgr, ft.NewNopLogger(), 1, false).Scan(context.Background(), []string{"/nope"}); err == nil {
		t.Error("Scan() of a missing root succeeded")
	}
}

func TestScanner_CountsUnreadableAsSkipped(t *testing.T) {
	h := newHarness(t)
	h.fsmgr.AddFile(testRoot+"/locked.txt", []byte("x"))
	h.fsmgr.OpenErr = errors.New("permission denied")

	stats, err := NewScanner(h.reporter, h.fsmgr, ft.NewNopLogger(), 1, false).Scan(context.Background(), []string{testRoot})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
}
