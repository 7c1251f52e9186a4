package ft

import (
	"context"
	"time"
)

// Database is the persistent store behind the catalog and task queue.
// Lookups return nil, nil when nothing matches. Every mutating method runs in
// its own transaction so callers get atomic read-modify-write semantics.
type Database interface {
	// File operations

	// UpsertFile records rec keyed by content hash. rec.ID, CreatedAt and
	// UpdatedAt must already be set. The whole decision (insert, duplicate or
	// in-place update) and the matching counter changes happen in one
	// transaction. The owning user is created if missing.
	UpsertFile(ctx context.Context, rec *FileRecord) (*UpsertResult, error)

	// FindFileByName returns the first record (by id) for device, user and base name.
	FindFileByName(ctx context.Context, deviceID, username, name string) (*FileRecord, error)

	// FindFileByPath returns the record at an absolute path.
	FindFileByPath(ctx context.Context, path string) (*FileRecord, error)

	// TouchFile sets last_access on the record with the given id.
	TouchFile(ctx context.Context, id string, at time.Time) error

	// RenameFile moves a record from oldPath to newPath only if its path is
	// still oldPath, replacing any other record at newPath in the same
	// transaction. Returns false when the guard did not match.
	RenameFile(ctx context.Context, id, oldPath, newPath, newName string, now time.Time) (bool, error)

	// DeleteFile removes a record and any caption at its path.
	// Returns false if no record was deleted.
	DeleteFile(ctx context.Context, id string) (bool, error)

	// ListFiles returns a user's records ordered by path.
	ListFiles(ctx context.Context, username string, filter FileFilter) ([]*FileRecord, error)

	// User operations

	// UpsertUser creates the profile or updates its device and preference.
	// Counters are never reset.
	UpsertUser(ctx context.Context, profile *UserProfile) (*UserProfile, error)

	// FindUser returns a profile by username.
	FindUser(ctx context.Context, username string) (*UserProfile, error)

	// CategoryUsage aggregates a user's records by category.
	CategoryUsage(ctx context.Context, username string) (map[Category]CategoryUsage, error)

	// Task operations

	// CreateTask inserts task and sets the request flags on the file at
	// task.Path in one transaction. Returns false if no file exists there.
	CreateTask(ctx context.Context, task *TaskRecord) (bool, error)

	// ClaimTasks returns pending tasks, plus in-progress tasks whose lease
	// expired before now, and marks them in progress until leaseUntil.
	ClaimTasks(ctx context.Context, deviceID, username string, now, leaseUntil time.Time) ([]*TaskRecord, error)

	// FindTask returns a task by id.
	FindTask(ctx context.Context, id string) (*TaskRecord, error)

	// CompleteTask marks a non-terminal task done. Returns the task as
	// stored afterwards, or nil if the id is unknown.
	CompleteTask(ctx context.Context, id string, now time.Time) (*TaskRecord, error)

	// FailTask records a failed attempt. The task returns to pending, or
	// moves to dead_letter once attempts reaches maxAttempts. Terminal tasks
	// are returned unchanged. Returns nil if the id is unknown.
	FailTask(ctx context.Context, id, reason string, maxAttempts int, now time.Time) (*TaskRecord, error)

	// ListTasks returns a user's tasks in the given status, oldest first.
	ListTasks(ctx context.Context, username string, status TaskStatus) ([]*TaskRecord, error)

	// Caption operations

	// UpsertCaption stores or replaces the caption at rec.Path.
	UpsertCaption(ctx context.Context, rec *CaptionRecord) error

	// SearchCaptions returns a user's captions containing query, case-insensitively.
	SearchCaptions(ctx context.Context, username, query string) ([]*CaptionRecord, error)

	// Schema

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Migrate applies pending migrations.
	Migrate() error

	// Close closes the database connection.
	Close() error
}
