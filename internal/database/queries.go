package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"ftrack/internal/ft"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the individual SQL statements. SQLDatabase composes them
// into transactions.
type Queries struct {
	db      DBTX
	dialect string
}

// New creates Queries over db for the given dialect.
func New(db DBTX, dialect string) *Queries {
	return &Queries{db: db, dialect: dialect}
}

// WithTx returns a copy of q that runs every statement inside tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (q *Queries) rebind(query string) string {
	if q.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, q.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Users

const userColumns = `username, device_id, clean_duplicates_on_scan, total_cleaned_bytes, total_files_scanned, created_at`

func scanUser(row interface{ Scan(...any) error }) (*ft.UserProfile, error) {
	var u ft.UserProfile
	if err := row.Scan(&u.Username, &u.DeviceID, &u.CleanDuplicatesOnScan, &u.TotalCleanedBytes, &u.TotalFilesScanned, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (q *Queries) GetUser(ctx context.Context, username string) (*ft.UserProfile, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (q *Queries) InsertUserIfMissing(ctx context.Context, username, deviceID string, now time.Time) error {
	_, err := q.exec(ctx, `INSERT INTO users (username, device_id, clean_duplicates_on_scan, total_cleaned_bytes, total_files_scanned, created_at)
		VALUES (?, ?, ?, 0, 0, ?) ON CONFLICT DO NOTHING`, username, deviceID, false, now)
	return err
}

func (q *Queries) UpsertUser(ctx context.Context, u *ft.UserProfile) error {
	_, err := q.exec(ctx, `INSERT INTO users (username, device_id, clean_duplicates_on_scan, total_cleaned_bytes, total_files_scanned, created_at)
		VALUES (?, ?, ?, 0, 0, ?)
		ON CONFLICT (username) DO UPDATE SET device_id = excluded.device_id, clean_duplicates_on_scan = excluded.clean_duplicates_on_scan`,
		u.Username, u.DeviceID, u.CleanDuplicatesOnScan, u.CreatedAt)
	return err
}

func (q *Queries) IncrementFilesScanned(ctx context.Context, username string) error {
	_, err := q.exec(ctx, `UPDATE users SET total_files_scanned = total_files_scanned + 1 WHERE username = ?`, username)
	return err
}

func (q *Queries) AddCleanedBytes(ctx context.Context, username string, size int64) error {
	_, err := q.exec(ctx, `UPDATE users SET total_cleaned_bytes = total_cleaned_bytes + ? WHERE username = ?`, size, username)
	return err
}

// Files

const fileColumns = `id, device_id, username, name, path, size, content_hash, category, last_access, sync_requested, archive_requested, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*ft.FileRecord, error) {
	var f ft.FileRecord
	var category string
	if err := row.Scan(&f.ID, &f.DeviceID, &f.Username, &f.Name, &f.Path, &f.Size, &f.ContentHash, &category,
		&f.LastAccess, &f.SyncRequested, &f.ArchiveRequested, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Category = ft.Category(category)
	f.LastAccess = f.LastAccess.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}

func (q *Queries) getFile(ctx context.Context, where string, args ...any) (*ft.FileRecord, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(`SELECT `+fileColumns+` FROM files WHERE `+where), args...)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (q *Queries) GetFileByID(ctx context.Context, id string) (*ft.FileRecord, error) {
	return q.getFile(ctx, `id = ?`, id)
}

func (q *Queries) GetFileByHash(ctx context.Context, hash string) (*ft.FileRecord, error) {
	return q.getFile(ctx, `content_hash = ?`, hash)
}

func (q *Queries) GetFileByPath(ctx context.Context, path string) (*ft.FileRecord, error) {
	return q.getFile(ctx, `path = ?`, path)
}

func (q *Queries) GetFileByOwnerName(ctx context.Context, deviceID, username, name string) (*ft.FileRecord, error) {
	return q.getFile(ctx, `device_id = ? AND username = ? AND name = ? ORDER BY id LIMIT 1`, deviceID, username, name)
}

// InsertFileIfAbsent returns false when the hash or path is already taken.
func (q *Queries) InsertFileIfAbsent(ctx context.Context, f *ft.FileRecord) (bool, error) {
	n, err := q.exec(ctx, `INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		f.ID, f.DeviceID, f.Username, f.Name, f.Path, f.Size, f.ContentHash, string(f.Category),
		f.LastAccess, f.SyncRequested, f.ArchiveRequested, f.CreatedAt, f.UpdatedAt)
	return n == 1, err
}

func (q *Queries) UpdateFileContent(ctx context.Context, id string, f *ft.FileRecord) error {
	_, err := q.exec(ctx, `UPDATE files SET device_id = ?, username = ?, name = ?, size = ?, content_hash = ?, category = ?, last_access = ?, updated_at = ? WHERE id = ?`,
		f.DeviceID, f.Username, f.Name, f.Size, f.ContentHash, string(f.Category), f.LastAccess, f.UpdatedAt, id)
	return err
}

func (q *Queries) UpdateFileLastAccess(ctx context.Context, id string, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE files SET last_access = ? WHERE id = ?`, at, id)
	return err
}

func (q *Queries) UpdateFilePath(ctx context.Context, id, oldPath, newPath, newName string, now time.Time) (bool, error) {
	n, err := q.exec(ctx, `UPDATE files SET path = ?, name = ?, updated_at = ? WHERE id = ? AND path = ?`,
		newPath, newName, now, id, oldPath)
	return n == 1, err
}

func (q *Queries) UpdateFileFlags(ctx context.Context, id string, syncRequested, archiveRequested bool, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE files SET sync_requested = ?, archive_requested = ?, updated_at = ? WHERE id = ?`,
		syncRequested, archiveRequested, now, id)
	return err
}

func (q *Queries) DeleteFile(ctx context.Context, id string) (bool, error) {
	n, err := q.exec(ctx, `DELETE FROM files WHERE id = ?`, id)
	return n == 1, err
}

func (q *Queries) ListFilesByUser(ctx context.Context, username string, staleBefore *time.Time) ([]*ft.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE username = ?`
	args := []any{username}
	if staleBefore != nil {
		query += ` AND last_access < ?`
		args = append(args, staleBefore.UTC())
	}
	query += ` ORDER BY path`

	rows, err := q.db.QueryContext(ctx, q.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*ft.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (q *Queries) CategoryUsage(ctx context.Context, username string) (map[ft.Category]ft.CategoryUsage, error) {
	rows, err := q.db.QueryContext(ctx, q.rebind(`SELECT category, COUNT(*), COALESCE(SUM(size), 0) FROM files WHERE username = ? GROUP BY category`), username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[ft.Category]ft.CategoryUsage)
	for rows.Next() {
		var (
			category string
			u        ft.CategoryUsage
		)
		if err := rows.Scan(&category, &u.Count, &u.TotalBytes); err != nil {
			return nil, err
		}
		usage[ft.Category(category)] = u
	}
	return usage, rows.Err()
}

// Tasks

const taskColumns = `id, device_id, username, action, path, status, attempts, last_error, lease_until, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*ft.TaskRecord, error) {
	var (
		t      ft.TaskRecord
		action string
		status string
		lease  sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.DeviceID, &t.Username, &action, &t.Path, &status, &t.Attempts, &t.LastError, &lease, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Action = ft.Action(action)
	t.Status = ft.TaskStatus(status)
	if lease.Valid {
		l := lease.Time.UTC()
		t.LeaseUntil = &l
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (q *Queries) queryTasks(ctx context.Context, query string, args ...any) ([]*ft.TaskRecord, error) {
	rows, err := q.db.QueryContext(ctx, q.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ft.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (q *Queries) GetTask(ctx context.Context, id string) (*ft.TaskRecord, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (q *Queries) InsertTask(ctx context.Context, t *ft.TaskRecord) error {
	_, err := q.exec(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DeviceID, t.Username, string(t.Action), t.Path, string(t.Status), t.Attempts, t.LastError,
		nullTime(t.LeaseUntil), t.CreatedAt, t.UpdatedAt)
	return err
}

// ListClaimableTasks locks rows on postgres so concurrent pollers for the
// same device do not claim the same task.
func (q *Queries) ListClaimableTasks(ctx context.Context, deviceID, username string, now time.Time) ([]*ft.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE device_id = ? AND username = ?
		  AND (status = ? OR (status = ? AND lease_until < ?))
		ORDER BY created_at, id`
	if q.dialect == dialectPostgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	return q.queryTasks(ctx, query, deviceID, username, string(ft.TaskPending), string(ft.TaskInProgress), now)
}

func (q *Queries) ListTasksByStatus(ctx context.Context, username string, status ft.TaskStatus) ([]*ft.TaskRecord, error) {
	return q.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE username = ? AND status = ? ORDER BY created_at, id`,
		username, string(status))
}

func (q *Queries) UpdateTaskLease(ctx context.Context, id string, leaseUntil, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE tasks SET status = ?, lease_until = ?, updated_at = ? WHERE id = ?`,
		string(ft.TaskInProgress), leaseUntil, now, id)
	return err
}

// MarkTaskDone only moves non-terminal tasks, so repeating it is a no-op.
func (q *Queries) MarkTaskDone(ctx context.Context, id string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE tasks SET status = ?, lease_until = NULL, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(ft.TaskDone), now, id, string(ft.TaskPending), string(ft.TaskInProgress))
	return err
}

func (q *Queries) UpdateTaskFailure(ctx context.Context, t *ft.TaskRecord) error {
	_, err := q.exec(ctx, `UPDATE tasks SET status = ?, attempts = ?, last_error = ?, lease_until = NULL, updated_at = ? WHERE id = ?`,
		string(t.Status), t.Attempts, t.LastError, t.UpdatedAt, t.ID)
	return err
}

// Captions

const captionColumns = `path, device_id, username, name, caption, created_at`

func (q *Queries) UpsertCaption(ctx context.Context, c *ft.CaptionRecord) error {
	_, err := q.exec(ctx, `INSERT INTO captions (`+captionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET device_id = excluded.device_id, username = excluded.username,
			name = excluded.name, caption = excluded.caption, created_at = excluded.created_at`,
		c.Path, c.DeviceID, c.Username, c.Name, c.Caption, c.CreatedAt)
	return err
}

func (q *Queries) DeleteCaption(ctx context.Context, path string) error {
	_, err := q.exec(ctx, `DELETE FROM captions WHERE path = ?`, path)
	return err
}

func (q *Queries) MoveCaption(ctx context.Context, oldPath, newPath, newName string) error {
	_, err := q.exec(ctx, `UPDATE captions SET path = ?, name = ? WHERE path = ?`, newPath, newName, oldPath)
	return err
}

func (q *Queries) SearchCaptions(ctx context.Context, username, query string) ([]*ft.CaptionRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := q.db.QueryContext(ctx, q.rebind(`SELECT `+captionColumns+` FROM captions
		WHERE username = ? AND LOWER(caption) LIKE ? ESCAPE '\' ORDER BY path`), username, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ft.CaptionRecord
	for rows.Next() {
		var c ft.CaptionRecord
		if err := rows.Scan(&c.Path, &c.DeviceID, &c.Username, &c.Name, &c.Caption, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
