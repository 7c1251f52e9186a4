package ft

import (
	"fmt"
	"time"
)

// Category groups files by extension for usage reporting.
type Category string

const (
	CategoryDocuments Category = "documents"
	CategoryImages    Category = "images"
	CategoryVideos    Category = "videos"
	CategoryAudio     Category = "audio"
	CategoryArchives  Category = "archives"
	CategoryOthers    Category = "others"
)

// AllCategories lists every category in reporting order.
var AllCategories = []Category{
	CategoryDocuments,
	CategoryImages,
	CategoryVideos,
	CategoryAudio,
	CategoryArchives,
	CategoryOthers,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Action is a remote action an agent performs on one of its files.
type Action string

const (
	ActionSync      Action = "sync"
	ActionUnsync    Action = "unsync"
	ActionArchive   Action = "archive"
	ActionUnarchive Action = "unarchive"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionSync, ActionUnsync, ActionArchive, ActionUnarchive:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrMissingFields, raw)
	}
}

// TaskStatus is the lifecycle state of a TaskRecord.
// done and dead_letter are terminal.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskDeadLetter TaskStatus = "dead_letter"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskDeadLetter
}

// FileRecord is the catalog entry for one unique content identity.
type FileRecord struct {
	ID               string    `json:"id"`
	DeviceID         string    `json:"device_id"`
	Username         string    `json:"username"`
	Name             string    `json:"name"`
	Path             string    `json:"path"`
	Size             int64     `json:"size"`
	ContentHash      string    `json:"hash"`
	Category         Category  `json:"category"`
	LastAccess       time.Time `json:"last_access"`
	SyncRequested    bool      `json:"sync_requested"`
	ArchiveRequested bool      `json:"archive_requested"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserProfile holds per-user preferences and running counters.
type UserProfile struct {
	Username              string    `json:"username"`
	DeviceID              string    `json:"device_id"`
	CleanDuplicatesOnScan bool      `json:"clean_duplicates_on_scan"`
	TotalCleanedBytes     int64     `json:"total_cleaned_bytes"`
	TotalFilesScanned     int64     `json:"total_files_scanned"`
	CreatedAt             time.Time `json:"created_at"`
}

// TaskRecord is one requested remote action.
type TaskRecord struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Username   string     `json:"username"`
	Action     Action     `json:"action"`
	Path       string     `json:"path"`
	Status     TaskStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CaptionRecord is a free-text description attached to an image by path.
type CaptionRecord struct {
	DeviceID  string    `json:"device_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
}

// FileProposal is an agent's request to record a file it has seen.
type FileProposal struct {
	DeviceID    string    `json:"device_id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"hash"`
	Category    Category  `json:"category"`
	LastAccess  time.Time `json:"last_access"`
}

// RenameProposal moves a tracked file from OldPath to NewPath.
type RenameProposal struct {
	DeviceID string `json:"device_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	OldPath  string `json:"old_path"`
	NewPath  string `json:"new_path"`
}

// TaskRequest asks for an action against the file at Path.
type TaskRequest struct {
	DeviceID string `json:"device_id"`
	Username string `json:"username"`
	Action   Action `json:"action"`
	Path     string `json:"path"`
}

// UpsertOutcome says which branch an upsert took.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertDuplicate UpsertOutcome = "duplicate"
	// UpsertUpdated means the path was known with different content and the
	// record was rewritten in place.
	UpsertUpdated UpsertOutcome = "updated"
)

// UpsertResult is the catalog's answer to a FileProposal.
type UpsertResult struct {
	Outcome           UpsertOutcome `json:"result"`
	Record            *FileRecord   `json:"record"`
	CleanupAuthorized bool          `json:"cleanup_authorized"`
}

// CategoryUsage is the per-category aggregate.
type CategoryUsage struct {
	Count      int64 `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
}

// UsageReport is the per-user statistics view.
type UsageReport struct {
	Categories map[Category]CategoryUsage `json:"categories"`
	User       UserProfile                `json:"user"`
}

// FileFilter narrows ListFiles. The zero value matches everything.
type FileFilter struct {
	StaleBefore *time.Time
}
