package ft_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ftrack/internal/ft"
	"ftrack/internal/testutil"
)

func proposal(path, hash string, size int64) ft.FileProposal {
	return ft.FileProposal{
		DeviceID:    "dev-1",
		Username:    "alice",
		Name:        filepath.Base(path),
		Path:        path,
		Size:        size,
		ContentHash: hash,
		Category:    ft.CategoryFor(path),
	}
}

func mustUpsert(t *testing.T, c ft.Catalog, p ft.FileProposal) *ft.UpsertResult {
	t.Helper()
	res, err := c.UpsertFile(context.Background(), p)
	if err != nil {
		t.Fatalf("UpsertFile(%s) error = %v", p.Path, err)
	}
	return res
}

func TestCatalogService_UpsertFile(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects incomplete proposals", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)

		tests := []struct {
			name   string
			mutate func(*ft.FileProposal)
		}{
			{"no device", func(p *ft.FileProposal) { p.DeviceID = "" }},
			{"no username", func(p *ft.FileProposal) { p.Username = "" }},
			{"no hash", func(p *ft.FileProposal) { p.ContentHash = "" }},
			{"no path", func(p *ft.FileProposal) { p.Path = "" }},
			{"bad category", func(p *ft.FileProposal) { p.Category = "music" }},
			{"negative size", func(p *ft.FileProposal) { p.Size = -1 }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := proposal("/home/a/x.txt", "H1", 10)
				tt.mutate(&p)
				_, err := catalog.UpsertFile(ctx, p)
				if !errors.Is(err, ft.ErrMissingFields) {
					t.Errorf("UpsertFile() error = %v, want ErrMissingFields", err)
				}
			})
		}

		files, _ := catalog.ListFiles(ctx, "alice", ft.FileFilter{})
		if len(files) != 0 {
			t.Errorf("rejected proposals left %d records", len(files))
		}
	})

	t.Run("created then duplicate", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)

		first := mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
		if first.Outcome != ft.UpsertCreated {
			t.Fatalf("first Outcome = %q, want created", first.Outcome)
		}
		if first.Record.ID != "id-1" {
			t.Errorf("Record.ID = %q, want id-1", first.Record.ID)
		}

		second := mustUpsert(t, catalog, proposal("/home/a/copy.txt", "H1", 10))
		if second.Outcome != ft.UpsertDuplicate {
			t.Errorf("second Outcome = %q, want duplicate", second.Outcome)
		}
		if second.CleanupAuthorized {
			t.Error("CleanupAuthorized = true without user preference")
		}
	})

	t.Run("missing last access defaults to now", func(t *testing.T) {
		catalog, clock := testutil.NewTestCatalog(t)

		res := mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
		if !res.Record.LastAccess.Equal(clock.Now()) {
			t.Errorf("LastAccess = %v, want %v", res.Record.LastAccess, clock.Now())
		}
	})

	t.Run("cleanup authorized when user opted in", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		if _, err := catalog.ProvisionUser(ctx, ft.UserProfile{Username: "alice", DeviceID: "dev-1", CleanDuplicatesOnScan: true}); err != nil {
			t.Fatalf("ProvisionUser() error = %v", err)
		}

		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
		res := mustUpsert(t, catalog, proposal("/home/a/copy.txt", "H1", 10))
		if !res.CleanupAuthorized {
			t.Error("CleanupAuthorized = false, want true")
		}

		report, err := catalog.GetStats(ctx, "alice")
		if err != nil {
			t.Fatalf("GetStats() error = %v", err)
		}
		if report.User.TotalCleanedBytes != 10 {
			t.Errorf("TotalCleanedBytes = %d, want 10", report.User.TotalCleanedBytes)
		}
	})

	t.Run("concurrent proposals for one hash create once", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)

		const n = 10
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := catalog.UpsertFile(ctx, proposal(fmt.Sprintf("/home/a/%d.txt", i), "SAME", 3))
				if err != nil {
					t.Errorf("UpsertFile() error = %v", err)
					return
				}
				if res.Outcome == ft.UpsertCreated {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if created != 1 {
			t.Errorf("created = %d, want exactly 1", created)
		}
		files, _ := catalog.ListFiles(ctx, "alice", ft.FileFilter{})
		if len(files) != 1 {
			t.Errorf("ListFiles() = %d records, want 1", len(files))
		}
	})
}

func TestCatalogService_RenameFile(t *testing.T) {
	ctx := context.Background()

	t.Run("moves record when old path matches", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))

		rec, err := catalog.RenameFile(ctx, ft.RenameProposal{
			DeviceID: "dev-1", Username: "alice", Name: "x.txt",
			OldPath: "/home/a/x.txt", NewPath: "/home/b/y.txt",
		})
		if err != nil {
			t.Fatalf("RenameFile() error = %v", err)
		}
		if rec.Path != "/home/b/y.txt" || rec.Name != "y.txt" {
			t.Errorf("record = (%q, %q), want (/home/b/y.txt, y.txt)", rec.Path, rec.Name)
		}
	})

	t.Run("stale old path conflicts", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))

		_, err := catalog.RenameFile(ctx, ft.RenameProposal{
			DeviceID: "dev-1", Username: "alice", Name: "x.txt",
			OldPath: "/elsewhere/x.txt", NewPath: "/home/b/x.txt",
		})
		if !errors.Is(err, ft.ErrConflict) {
			t.Fatalf("RenameFile() error = %v, want ErrConflict", err)
		}

		files, _ := catalog.ListFiles(ctx, "alice", ft.FileFilter{})
		if len(files) != 1 || files[0].Path != "/home/a/x.txt" {
			t.Errorf("record changed after rejected rename: %+v", files)
		}
	})

	t.Run("rename over a tracked path replaces it", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/a.txt", "H-old", 5))
		mustUpsert(t, catalog, proposal("/home/a/b.txt", "H-new", 7))
		if err := catalog.AttachCaption(ctx, ft.CaptionRecord{DeviceID: "dev-1", Username: "alice", Path: "/home/a/a.txt", Caption: "stale caption"}); err != nil {
			t.Fatalf("AttachCaption() error = %v", err)
		}

		rec, err := catalog.RenameFile(ctx, ft.RenameProposal{
			DeviceID: "dev-1", Username: "alice", Name: "b.txt",
			OldPath: "/home/a/b.txt", NewPath: "/home/a/a.txt",
		})
		if err != nil {
			t.Fatalf("RenameFile() error = %v", err)
		}
		if rec.ContentHash != "H-new" {
			t.Errorf("renamed record hash = %q, want H-new", rec.ContentHash)
		}

		files, _ := catalog.ListFiles(ctx, "alice", ft.FileFilter{})
		if len(files) != 1 || files[0].Path != "/home/a/a.txt" || files[0].ContentHash != "H-new" || files[0].Size != 7 {
			t.Errorf("files after overwrite = %+v", files)
		}
		if res, _ := catalog.SearchCaptions(ctx, "alice", "stale"); len(res) != 0 {
			t.Errorf("overwritten file's caption survived: %+v", res)
		}

		// The old content can be proposed again as a new file.
		if res := mustUpsert(t, catalog, proposal("/home/a/restored.txt", "H-old", 5)); res.Outcome != ft.UpsertCreated {
			t.Errorf("re-upsert of overwritten content = %q, want created", res.Outcome)
		}
	})

	t.Run("caption follows the renamed file", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/cat.jpg", "H1", 10))
		if err := catalog.AttachCaption(ctx, ft.CaptionRecord{DeviceID: "dev-1", Username: "alice", Path: "/home/a/cat.jpg", Caption: "a tabby cat"}); err != nil {
			t.Fatalf("AttachCaption() error = %v", err)
		}

		if _, err := catalog.RenameFile(ctx, ft.RenameProposal{
			DeviceID: "dev-1", Username: "alice", Name: "cat.jpg",
			OldPath: "/home/a/cat.jpg", NewPath: "/home/pets/tabby.jpg",
		}); err != nil {
			t.Fatalf("RenameFile() error = %v", err)
		}
		res, _ := catalog.SearchCaptions(ctx, "alice", "tabby cat")
		if len(res) != 1 || res[0].Path != "/home/pets/tabby.jpg" || res[0].Name != "tabby.jpg" {
			t.Errorf("SearchCaptions() = %+v, want the new path", res)
		}
	})

	t.Run("unknown name is not found", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)

		_, err := catalog.RenameFile(ctx, ft.RenameProposal{
			DeviceID: "dev-1", Username: "alice", Name: "ghost.txt",
			OldPath: "/a/ghost.txt", NewPath: "/b/ghost.txt",
		})
		if !errors.Is(err, ft.ErrNotFound) {
			t.Errorf("RenameFile() error = %v, want ErrNotFound", err)
		}
	})
}

func TestCatalogService_RemoveFile(t *testing.T) {
	ctx := context.Background()
	catalog, _ := testutil.NewTestCatalog(t)
	mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))

	rec, err := catalog.RemoveFile(ctx, "dev-1", "alice", "x.txt")
	if err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}
	if rec.Path != "/home/a/x.txt" {
		t.Errorf("removed %q, want /home/a/x.txt", rec.Path)
	}

	if _, err := catalog.RemoveFile(ctx, "dev-1", "alice", "x.txt"); !errors.Is(err, ft.ErrNotFound) {
		t.Errorf("second RemoveFile() error = %v, want ErrNotFound", err)
	}

	// The hash is free again.
	res := mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
	if res.Outcome != ft.UpsertCreated {
		t.Errorf("re-upsert Outcome = %q, want created", res.Outcome)
	}
}

func TestCatalogService_TouchAccess(t *testing.T) {
	ctx := context.Background()
	catalog, clock := testutil.NewTestCatalog(t)
	mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))

	later := clock.Now().Add(72 * time.Hour)
	rec, err := catalog.TouchAccess(ctx, "dev-1", "alice", "x.txt", later)
	if err != nil {
		t.Fatalf("TouchAccess() error = %v", err)
	}
	if !rec.LastAccess.Equal(later) {
		t.Errorf("LastAccess = %v, want %v", rec.LastAccess, later)
	}

	files, _ := catalog.ListFiles(ctx, "alice", ft.FileFilter{})
	if files[0].ContentHash != "H1" || files[0].Size != 10 {
		t.Errorf("TouchAccess changed content fields: %+v", files[0])
	}

	if _, err := catalog.TouchAccess(ctx, "dev-1", "alice", "nope.txt", later); !errors.Is(err, ft.ErrNotFound) {
		t.Errorf("TouchAccess(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestCatalogService_Tasks(t *testing.T) {
	ctx := context.Background()

	enqueue := func(t *testing.T, c ft.Catalog, action ft.Action, path string) string {
		t.Helper()
		id, err := c.EnqueueTask(ctx, ft.TaskRequest{DeviceID: "dev-1", Username: "alice", Action: action, Path: path})
		if err != nil {
			t.Fatalf("EnqueueTask() error = %v", err)
		}
		return id
	}

	t.Run("enqueue validates action and path", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))

		_, err := catalog.EnqueueTask(ctx, ft.TaskRequest{DeviceID: "dev-1", Username: "alice", Action: "explode", Path: "/home/a/x.txt"})
		if !errors.Is(err, ft.ErrMissingFields) {
			t.Errorf("unknown action error = %v, want ErrMissingFields", err)
		}

		_, err = catalog.EnqueueTask(ctx, ft.TaskRequest{DeviceID: "dev-1", Username: "alice", Action: ft.ActionSync, Path: "/nowhere.txt"})
		if !errors.Is(err, ft.ErrInvalidPath) {
			t.Errorf("unknown path error = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("pending tasks come back in creation order and are leased", func(t *testing.T) {
		catalog, clock := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))

		first := enqueue(t, catalog, ft.ActionSync, "/home/a/x.txt")
		clock.Advance(time.Second)
		second := enqueue(t, catalog, ft.ActionArchive, "/home/a/x.txt")

		tasks, err := catalog.ListPendingTasks(ctx, "dev-1", "alice")
		if err != nil {
			t.Fatalf("ListPendingTasks() error = %v", err)
		}
		if len(tasks) != 2 || tasks[0].ID != first || tasks[1].ID != second {
			t.Fatalf("ListPendingTasks() = %+v, want [%s %s]", tasks, first, second)
		}
		if tasks[0].Status != ft.TaskInProgress {
			t.Errorf("Status = %q, want in_progress", tasks[0].Status)
		}

		again, _ := catalog.ListPendingTasks(ctx, "dev-1", "alice")
		if len(again) != 0 {
			t.Errorf("leased tasks returned again: %d", len(again))
		}

		clock.Advance(ft.DefaultCatalogOptions().TaskLease + time.Second)
		expired, _ := catalog.ListPendingTasks(ctx, "dev-1", "alice")
		if len(expired) != 2 {
			t.Errorf("tasks after lease expiry = %d, want 2", len(expired))
		}
	})

	t.Run("other device sees nothing", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
		enqueue(t, catalog, ft.ActionSync, "/home/a/x.txt")

		tasks, _ := catalog.ListPendingTasks(ctx, "dev-2", "alice")
		if len(tasks) != 0 {
			t.Errorf("dev-2 got %d tasks, want 0", len(tasks))
		}
	})

	t.Run("complete is idempotent", func(t *testing.T) {
		catalog, clock := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
		id := enqueue(t, catalog, ft.ActionSync, "/home/a/x.txt")

		if err := catalog.CompleteTask(ctx, id); err != nil {
			t.Fatalf("CompleteTask() error = %v", err)
		}
		if err := catalog.CompleteTask(ctx, id); err != nil {
			t.Errorf("second CompleteTask() error = %v", err)
		}

		clock.Advance(time.Hour)
		tasks, _ := catalog.ListPendingTasks(ctx, "dev-1", "alice")
		if len(tasks) != 0 {
			t.Errorf("completed task is still pending: %+v", tasks)
		}

		if err := catalog.CompleteTask(ctx, "missing"); !errors.Is(err, ft.ErrNotFound) {
			t.Errorf("CompleteTask(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("repeated failures dead-letter the task", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/x.txt", "H1", 10))
		id := enqueue(t, catalog, ft.ActionSync, "/home/a/x.txt")

		max := ft.DefaultCatalogOptions().MaxTaskAttempts
		var status ft.TaskStatus
		for i := 0; i < max; i++ {
			var err error
			status, err = catalog.FailTask(ctx, id, "vault unreachable")
			if err != nil {
				t.Fatalf("FailTask() error = %v", err)
			}
		}
		if status != ft.TaskDeadLetter {
			t.Errorf("status after %d failures = %q, want dead_letter", max, status)
		}

		dead, err := catalog.ListDeadLetterTasks(ctx, "alice")
		if err != nil {
			t.Fatalf("ListDeadLetterTasks() error = %v", err)
		}
		if len(dead) != 1 || dead[0].LastError != "vault unreachable" {
			t.Errorf("ListDeadLetterTasks() = %+v", dead)
		}
	})
}

func TestCatalogService_GetStats(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		if _, err := catalog.GetStats(ctx, "nobody"); !errors.Is(err, ft.ErrNotFound) {
			t.Errorf("GetStats() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("every category reported", func(t *testing.T) {
		catalog, _ := testutil.NewTestCatalog(t)
		mustUpsert(t, catalog, proposal("/home/a/r.pdf", "H1", 100))
		mustUpsert(t, catalog, proposal("/home/a/s.PDF", "H2", 50))
		mustUpsert(t, catalog, proposal("/home/a/song.mp3", "H3", 7))
		mustUpsert(t, catalog, proposal("/home/a/blob.bin", "H4", 1))

		report, err := catalog.GetStats(ctx, "alice")
		if err != nil {
			t.Fatalf("GetStats() error = %v", err)
		}
		if len(report.Categories) != len(ft.AllCategories) {
			t.Errorf("len(Categories) = %d, want %d", len(report.Categories), len(ft.AllCategories))
		}

		want := map[ft.Category]ft.CategoryUsage{
			ft.CategoryDocuments: {Count: 2, TotalBytes: 150},
			ft.CategoryAudio:     {Count: 1, TotalBytes: 7},
			ft.CategoryOthers:    {Count: 1, TotalBytes: 1},
			ft.CategoryImages:    {},
			ft.CategoryVideos:    {},
			ft.CategoryArchives:  {},
		}
		for c, w := range want {
			if got := report.Categories[c]; got != w {
				t.Errorf("%s = %+v, want %+v", c, got, w)
			}
		}
		if report.User.TotalFilesScanned != 4 {
			t.Errorf("TotalFilesScanned = %d, want 4", report.User.TotalFilesScanned)
		}
	})
}

func TestCatalogService_ListFilesStale(t *testing.T) {
	ctx := context.Background()
	catalog, clock := testutil.NewTestCatalog(t)

	old := proposal("/home/a/old.txt", "H1", 1)
	old.LastAccess = clock.Now().AddDate(-1, 0, 0)
	mustUpsert(t, catalog, old)
	mustUpsert(t, catalog, proposal("/home/a/fresh.txt", "H2", 1))

	cutoff := clock.Now().AddDate(0, -1, 0)
	files, err := catalog.ListFiles(ctx, "alice", ft.FileFilter{StaleBefore: &cutoff})
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Path != "/home/a/old.txt" {
		t.Errorf("ListFiles(stale) = %+v, want only old.txt", files)
	}
}

func TestCatalogService_Captions(t *testing.T) {
	ctx := context.Background()
	catalog, _ := testutil.NewTestCatalog(t)
	mustUpsert(t, catalog, proposal("/home/a/cat.jpg", "H1", 10))

	if err := catalog.AttachCaption(ctx, ft.CaptionRecord{DeviceID: "dev-1", Username: "alice", Path: "/home/a/cat.jpg", Caption: "A tabby cat asleep on a sofa"}); err != nil {
		t.Fatalf("AttachCaption() error = %v", err)
	}

	res, err := catalog.SearchCaptions(ctx, "alice", "TABBY")
	if err != nil {
		t.Fatalf("SearchCaptions() error = %v", err)
	}
	if len(res) != 1 || res[0].Name != "cat.jpg" {
		t.Errorf("SearchCaptions() = %+v, want cat.jpg", res)
	}

	if _, err := catalog.SearchCaptions(ctx, "alice", "  "); !errors.Is(err, ft.ErrMissingFields) {
		t.Errorf("blank query error = %v, want ErrMissingFields", err)
	}

	if _, err := catalog.RemoveFile(ctx, "dev-1", "alice", "cat.jpg"); err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}
	res, _ = catalog.SearchCaptions(ctx, "alice", "tabby")
	if len(res) != 0 {
		t.Errorf("caption outlived its file: %+v", res)
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		name string
		want ft.Category
	}{
		{"report.pdf", ft.CategoryDocuments},
		{"REPORT.PDF", ft.CategoryDocuments},
		{"photo.JPeG", ft.CategoryImages},
		{"clip.mkv", ft.CategoryVideos},
		{"track.flac", ft.CategoryAudio},
		{"backup.tar", ft.CategoryArchives},
		{"Makefile", ft.CategoryOthers},
		{"data.bin", ft.CategoryOthers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ft.CategoryFor(tt.name); got != tt.want {
				t.Errorf("CategoryFor(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
