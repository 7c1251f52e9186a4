package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ftrack/internal/database/migrations"
	"ftrack/internal/ft"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dialectSQLite   = migrations.DialectSQLite
	dialectPostgres = migrations.DialectPostgres
)

// SQLDatabase implements ft.Database on SQLite or Postgres.
type SQLDatabase struct {
	db      *sql.DB
	queries *Queries
	dialect string
	path    string
}

// NewSQLiteDatabase opens a SQLite database.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLDatabase{
		db:      db,
		queries: New(db, dialectSQLite),
		dialect: dialectSQLite,
		path:    path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing SQLite connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLDatabase {
	return &SQLDatabase{
		db:      db,
		queries: New(db, dialectSQLite),
		dialect: dialectSQLite,
	}
}

// NewPostgresDatabase connects to Postgres using a lib/pq DSN.
func NewPostgresDatabase(dsn string) (*SQLDatabase, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &SQLDatabase{
		db:      db,
		queries: New(db, dialectPostgres),
		dialect: dialectPostgres,
	}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: every ":memory:" connection is a separate database, and
	// a single writer makes each transaction a serialization point.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// inTx runs fn inside a transaction, committing only if fn succeeds.
func (s *SQLDatabase) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// File operations

func (s *SQLDatabase) UpsertFile(ctx context.Context, rec *ft.FileRecord) (*ft.UpsertResult, error) {
	var result *ft.UpsertResult

	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.InsertUserIfMissing(ctx, rec.Username, rec.DeviceID, rec.CreatedAt); err != nil {
			return fmt.Errorf("ensuring user: %w", err)
		}

		inserted, err := q.InsertFileIfAbsent(ctx, rec)
		if err != nil {
			return fmt.Errorf("inserting file: %w", err)
		}
		if inserted {
			if err := q.IncrementFilesScanned(ctx, rec.Username); err != nil {
				return fmt.Errorf("counting scanned file: %w", err)
			}
			created := *rec
			result = &ft.UpsertResult{Outcome: ft.UpsertCreated, Record: &created}
			return nil
		}

		existing, err := q.GetFileByHash(ctx, rec.ContentHash)
		if err != nil {
			return fmt.Errorf("finding file by hash: %w", err)
		}
		if existing != nil {
			result = &ft.UpsertResult{Outcome: ft.UpsertDuplicate, Record: existing}
			if existing.Path == rec.Path {
				// Same file seen again by a rescan.
				return nil
			}
			user, err := q.GetUser(ctx, rec.Username)
			if err != nil {
				return fmt.Errorf("finding user: %w", err)
			}
			if user != nil && user.CleanDuplicatesOnScan {
				if err := q.AddCleanedBytes(ctx, rec.Username, rec.Size); err != nil {
					return fmt.Errorf("counting cleaned bytes: %w", err)
				}
				result.CleanupAuthorized = true
			}
			return nil
		}

		// The path is taken by a record with different content.
		current, err := q.GetFileByPath(ctx, rec.Path)
		if err != nil {
			return fmt.Errorf("finding file by path: %w", err)
		}
		if current == nil {
			return fmt.Errorf("conflicting row for %s disappeared", rec.Path)
		}
		if err := q.UpdateFileContent(ctx, current.ID, rec); err != nil {
			return fmt.Errorf("updating file content: %w", err)
		}
		updated, err := q.GetFileByID(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("reloading file: %w", err)
		}
		result = &ft.UpsertResult{Outcome: ft.UpsertUpdated, Record: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLDatabase) FindFileByName(ctx context.Context, deviceID, username, name string) (*ft.FileRecord, error) {
	f, err := s.queries.GetFileByOwnerName(ctx, deviceID, username, name)
	if err != nil {
		return nil, fmt.Errorf("finding file by name: %w", err)
	}
	return f, nil
}

func (s *SQLDatabase) FindFileByPath(ctx context.Context, path string) (*ft.FileRecord, error) {
	f, err := s.queries.GetFileByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("finding file by path: %w", err)
	}
	return f, nil
}

func (s *SQLDatabase) TouchFile(ctx context.Context, id string, at time.Time) error {
	if err := s.queries.UpdateFileLastAccess(ctx, id, at.UTC()); err != nil {
		return fmt.Errorf("updating last access: %w", err)
	}
	return nil
}

// errRenameLost rolls back a rename whose path guard no longer matched.
var errRenameLost = errors.New("rename guard did not match")

// RenameFile replaces any other record already at newPath, as a move over an
// existing file does, and carries the caption along with the record.
func (s *SQLDatabase) RenameFile(ctx context.Context, id, oldPath, newPath, newName string, now time.Time) (bool, error) {
	err := s.inTx(ctx, func(q *Queries) error {
		existing, err := q.GetFileByPath(ctx, newPath)
		if err != nil {
			return fmt.Errorf("finding file at destination: %w", err)
		}
		if existing != nil && existing.ID != id {
			if _, err := q.DeleteFile(ctx, existing.ID); err != nil {
				return fmt.Errorf("deleting overwritten file: %w", err)
			}
			if err := q.DeleteCaption(ctx, newPath); err != nil {
				return fmt.Errorf("deleting overwritten caption: %w", err)
			}
		}

		ok, err := q.UpdateFilePath(ctx, id, oldPath, newPath, newName, now.UTC())
		if err != nil {
			return fmt.Errorf("updating path: %w", err)
		}
		if !ok {
			return errRenameLost
		}
		if err := q.MoveCaption(ctx, oldPath, newPath, newName); err != nil {
			return fmt.Errorf("moving caption: %w", err)
		}
		return nil
	})
	if errors.Is(err, errRenameLost) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLDatabase) DeleteFile(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.inTx(ctx, func(q *Queries) error {
		f, err := q.GetFileByID(ctx, id)
		if err != nil {
			return fmt.Errorf("finding file: %w", err)
		}
		if f == nil {
			return nil
		}
		if deleted, err = q.DeleteFile(ctx, id); err != nil {
			return fmt.Errorf("deleting file: %w", err)
		}
		if err := q.DeleteCaption(ctx, f.Path); err != nil {
			return fmt.Errorf("deleting caption: %w", err)
		}
		return nil
	})
	return deleted, err
}

func (s *SQLDatabase) ListFiles(ctx context.Context, username string, filter ft.FileFilter) ([]*ft.FileRecord, error) {
	files, err := s.queries.ListFilesByUser(ctx, username, filter.StaleBefore)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

// User operations

func (s *SQLDatabase) UpsertUser(ctx context.Context, profile *ft.UserProfile) (*ft.UserProfile, error) {
	var stored *ft.UserProfile
	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.UpsertUser(ctx, profile); err != nil {
			return fmt.Errorf("upserting user: %w", err)
		}
		var err error
		stored, err = q.GetUser(ctx, profile.Username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLDatabase) FindUser(ctx context.Context, username string) (*ft.UserProfile, error) {
	u, err := s.queries.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return u, nil
}

func (s *SQLDatabase) CategoryUsage(ctx context.Context, username string) (map[ft.Category]ft.CategoryUsage, error) {
	usage, err := s.queries.CategoryUsage(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("aggregating categories: %w", err)
	}
	return usage, nil
}

// Task operations

func (s *SQLDatabase) CreateTask(ctx context.Context, task *ft.TaskRecord) (bool, error) {
	var found bool
	err := s.inTx(ctx, func(q *Queries) error {
		f, err := q.GetFileByPath(ctx, task.Path)
		if err != nil {
			return fmt.Errorf("finding file by path: %w", err)
		}
		if f == nil {
			return nil
		}
		found = true

		syncRequested, archiveRequested := f.SyncRequested, f.ArchiveRequested
		switch task.Action {
		case ft.ActionSync:
			syncRequested = true
		case ft.ActionUnsync:
			syncRequested = false
		case ft.ActionArchive:
			archiveRequested = true
		case ft.ActionUnarchive:
			archiveRequested = false
		}
		if err := q.UpdateFileFlags(ctx, f.ID, syncRequested, archiveRequested, task.CreatedAt); err != nil {
			return fmt.Errorf("updating request flags: %w", err)
		}
		if err := q.InsertTask(ctx, task); err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		return nil
	})
	return found, err
}

func (s *SQLDatabase) ClaimTasks(ctx context.Context, deviceID, username string, now, leaseUntil time.Time) ([]*ft.TaskRecord, error) {
	var tasks []*ft.TaskRecord
	err := s.inTx(ctx, func(q *Queries) error {
		var err error
		tasks, err = q.ListClaimableTasks(ctx, deviceID, username, now.UTC())
		if err != nil {
			return fmt.Errorf("listing claimable tasks: %w", err)
		}
		lease := leaseUntil.UTC()
		for _, t := range tasks {
			if err := q.UpdateTaskLease(ctx, t.ID, lease, now.UTC()); err != nil {
				return fmt.Errorf("claiming task %s: %w", t.ID, err)
			}
			t.Status = ft.TaskInProgress
			t.LeaseUntil = &lease
			t.UpdatedAt = now.UTC()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *SQLDatabase) FindTask(ctx context.Context, id string) (*ft.TaskRecord, error) {
	t, err := s.queries.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding task: %w", err)
	}
	return t, nil
}

func (s *SQLDatabase) CompleteTask(ctx context.Context, id string, now time.Time) (*ft.TaskRecord, error) {
	var task *ft.TaskRecord
	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.MarkTaskDone(ctx, id, now.UTC()); err != nil {
			return fmt.Errorf("marking task done: %w", err)
		}
		var err error
		task, err = q.GetTask(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLDatabase) FailTask(ctx context.Context, id, reason string, maxAttempts int, now time.Time) (*ft.TaskRecord, error) {
	var task *ft.TaskRecord
	err := s.inTx(ctx, func(q *Queries) error {
		var err error
		task, err = q.GetTask(ctx, id)
		if err != nil {
			return fmt.Errorf("finding task: %w", err)
		}
		if task == nil || task.Status.Terminal() {
			return nil
		}

		task.Attempts++
		task.LastError = reason
		task.LeaseUntil = nil
		task.UpdatedAt = now.UTC()
		if task.Attempts >= maxAttempts {
			task.Status = ft.TaskDeadLetter
		} else {
			task.Status = ft.TaskPending
		}
		if err := q.UpdateTaskFailure(ctx, task); err != nil {
			return fmt.Errorf("recording failure: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLDatabase) ListTasks(ctx context.Context, username string, status ft.TaskStatus) ([]*ft.TaskRecord, error) {
	tasks, err := s.queries.ListTasksByStatus(ctx, username, status)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// Caption operations

func (s *SQLDatabase) UpsertCaption(ctx context.Context, rec *ft.CaptionRecord) error {
	if err := s.queries.UpsertCaption(ctx, rec); err != nil {
		return fmt.Errorf("upserting caption: %w", err)
	}
	return nil
}

func (s *SQLDatabase) SearchCaptions(ctx context.Context, username, query string) ([]*ft.CaptionRecord, error) {
	res, err := s.queries.SearchCaptions(ctx, username, query)
	if err != nil {
		return nil, fmt.Errorf("searching captions: %w", err)
	}
	return res, nil
}

// Schema

// CheckMigrations verifies the database schema is at the latest version.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Migrate applies all pending migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLDatabase implements ft.Database interface
var _ ft.Database = (*SQLDatabase)(nil)
