package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"ftrack/internal/config"
	"ftrack/internal/ft"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// parseStale turns a --stale value into a cut-off time. RFC 3339 and
// YYYY-MM-DD are accepted as well as natural phrases like "3 months ago".
func parseStale(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --stale %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("parsing --stale %q: not a date", text)
	}
	if r.Time.After(now) {
		return time.Time{}, fmt.Errorf("--stale %q is in the future", text)
	}
	return r.Time, nil
}

// humanBytes formats n with a binary unit.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func renderFiles(files []*ft.FileRecord) string {
	t := newTable("PATH", "CATEGORY", "SIZE", "LAST ACCESS", "FLAGS")
	for _, f := range files {
		var flags []string
		if f.SyncRequested {
			flags = append(flags, "sync")
		}
		if f.ArchiveRequested {
			flags = append(flags, "archive")
		}
		t.Row(f.Path, string(f.Category), humanBytes(f.Size), f.LastAccess.Local().Format("2006-01-02 15:04"), strings.Join(flags, ","))
	}
	return t.Render()
}

func renderStats(report *ft.UsageReport) string {
	t := newTable("CATEGORY", "FILES", "SIZE")
	var files, bytes int64
	for _, c := range ft.AllCategories {
		u := report.Categories[c]
		files += u.Count
		bytes += u.TotalBytes
		t.Row(string(c), strconv.FormatInt(u.Count, 10), humanBytes(u.TotalBytes))
	}
	t.Row(labelStyle.Render("total"), strconv.FormatInt(files, 10), humanBytes(bytes))

	var b strings.Builder
	b.WriteString(headerStyle.Render("Usage for "+report.User.Username) + "\n")
	b.WriteString(t.Render() + "\n")
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("Files scanned:"), report.User.TotalFilesScanned)
	fmt.Fprintf(&b, "%s %s", labelStyle.Render("Duplicates cleaned:"), humanBytes(report.User.TotalCleanedBytes))
	return b.String()
}

func renderTasks(tasks []*ft.TaskRecord) string {
	t := newTable("ID", "ACTION", "PATH", "ATTEMPTS", "LAST ERROR")
	for _, task := range tasks {
		t.Row(task.ID, string(task.Action), task.Path, strconv.Itoa(task.Attempts), task.LastError)
	}
	return t.Render()
}

func renderCaptions(results []*ft.CaptionRecord) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(labelStyle.Render(r.Name) + "  " + dimStyle.Render(r.Path) + "\n")
		b.WriteString("  " + r.Caption)
	}
	return b.String()
}

func renderConfig(cfg *config.Config) string {
	token := "(none)"
	if cfg.Server.Token != "" {
		token = "(set)"
	}
	vaults := make([]string, 0, len(cfg.Vaults))
	for _, v := range cfg.Vaults {
		vaults = append(vaults, v.Name+" ("+v.Type+")")
	}

	rows := [][2]string{
		{"Device ID", cfg.DeviceID},
		{"Username", cfg.Username},
		{"Base Dir", cfg.BaseDir},
		{"Log Dir", cfg.LogDir},
		{"Server", cfg.Server.Addr + "  token " + token},
		{"Client", cfg.Client.ServerURL},
		{"Roots", strings.Join(cfg.Agent.Roots, ", ")},
		{"Database", cfg.Database.Type},
		{"Vaults", strings.Join(vaults, ", ")},
		{"Encryption", cfg.Encryption.Type},
		{"Captioning", cfg.Captioning.Type},
		{"Log Level", cfg.Logging.Level},
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", r[0]+":")), r[1])
	}
	return b.String()
}
