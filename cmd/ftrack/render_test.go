package main

import (
	"strings"
	"testing"
	"time"

	"ftrack/internal/config"
	"ftrack/internal/ft"
)

func TestParseStale(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", in: "2024-01-01T00:00:00Z", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "date", in: "2024-03-10", want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
		{name: "days ago", in: "10 days ago", want: now.AddDate(0, 0, -10)},
		{name: "garbage", in: "whenever", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStale(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseStale(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseStale(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	t.Run("months ago is in the past", func(t *testing.T) {
		got, err := parseStale("3 months ago", now)
		if err != nil {
			t.Fatalf("parseStale() error = %v", err)
		}
		if !got.Before(now.AddDate(0, -2, 0)) || got.Before(now.AddDate(0, -4, 0)) {
			t.Errorf("parseStale(3 months ago) = %v", got)
		}
	})
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.in); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderStats(t *testing.T) {
	report := &ft.UsageReport{
		User: ft.UserProfile{Username: "alice", TotalFilesScanned: 7, TotalCleanedBytes: 2048},
		Categories: map[ft.Category]ft.CategoryUsage{
			ft.CategoryImages:    {Count: 3, TotalBytes: 3 << 20},
			ft.CategoryDocuments: {Count: 4, TotalBytes: 100},
		},
	}
	out := renderStats(report)
	for _, want := range []string{"alice", "images", "3.0 MiB", "documents", "videos", "total", "Files scanned:", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderStats() missing %q:\n%s", want, out)
		}
	}
}

func TestRenderFilesAndTasks(t *testing.T) {
	files := renderFiles([]*ft.FileRecord{{
		Path: "/home/alice/cat.png", Category: ft.CategoryImages, Size: 2048,
		LastAccess: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), ArchiveRequested: true,
	}})
	for _, want := range []string{"/home/alice/cat.png", "images", "2.0 KiB", "archive"} {
		if !strings.Contains(files, want) {
			t.Errorf("renderFiles() missing %q:\n%s", want, files)
		}
	}

	tasks := renderTasks([]*ft.TaskRecord{{ID: "t-1", Action: ft.ActionSync, Path: "/x", Attempts: 5, LastError: "vault unreachable"}})
	for _, want := range []string{"t-1", "sync", "vault unreachable"} {
		if !strings.Contains(tasks, want) {
			t.Errorf("renderTasks() missing %q:\n%s", want, tasks)
		}
	}
}

func TestRenderConfigHidesToken(t *testing.T) {
	cfg := config.NewConfig("dev-1", "alice", "/data")
	cfg.Server.Token = "hunter2"
	out := renderConfig(cfg)
	if strings.Contains(out, "hunter2") {
		t.Errorf("renderConfig() leaked the token:\n%s", out)
	}
	if !strings.Contains(out, "dev-1") || !strings.Contains(out, "(set)") {
		t.Errorf("renderConfig() = %s", out)
	}
}
