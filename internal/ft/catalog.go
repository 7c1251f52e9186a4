package ft

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Catalog is the synchronization protocol as seen by agents and operator
// commands. CatalogService implements it against a Database; the HTTP client
// implements it against a remote server.
type Catalog interface {
	UpsertFile(ctx context.Context, p FileProposal) (*UpsertResult, error)
	RemoveFile(ctx context.Context, deviceID, username, name string) (*FileRecord, error)
	RenameFile(ctx context.Context, p RenameProposal) (*FileRecord, error)
	TouchAccess(ctx context.Context, deviceID, username, name string, at time.Time) (*FileRecord, error)
	EnqueueTask(ctx context.Context, req TaskRequest) (string, error)
	ListPendingTasks(ctx context.Context, deviceID, username string) ([]*TaskRecord, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id, reason string) (TaskStatus, error)
	ListFiles(ctx context.Context, username string, filter FileFilter) ([]*FileRecord, error)
	GetStats(ctx context.Context, username string) (*UsageReport, error)
	ProvisionUser(ctx context.Context, profile UserProfile) (*UserProfile, error)
	ListDeadLetterTasks(ctx context.Context, username string) ([]*TaskRecord, error)
	SearchCaptions(ctx context.Context, username, query string) ([]*CaptionRecord, error)
}

// CatalogOptions tunes task handling.
type CatalogOptions struct {
	TaskLease       time.Duration
	MaxTaskAttempts int
}

// DefaultCatalogOptions returns the lease and retry limits used when the
// config leaves them unset.
func DefaultCatalogOptions() CatalogOptions {
	return CatalogOptions{
		TaskLease:       5 * time.Minute,
		MaxTaskAttempts: 5,
	}
}

// CatalogService owns FileRecord, UserProfile and TaskRecord lifecycle.
// It validates proposals and delegates atomic mutations to the Database.
type CatalogService struct {
	database Database
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     CatalogOptions
}

var _ Catalog = (*CatalogService)(nil)

// NewCatalogService creates a CatalogService with the provided dependencies.
func NewCatalogService(database Database, logger Logger, clock Clock, idgen IDGenerator, opts CatalogOptions) *CatalogService {
	defaults := DefaultCatalogOptions()
	if opts.TaskLease <= 0 {
		opts.TaskLease = defaults.TaskLease
	}
	if opts.MaxTaskAttempts <= 0 {
		opts.MaxTaskAttempts = defaults.MaxTaskAttempts
	}
	return &CatalogService{
		database: database,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}

// UpsertFile records a sighting of a file. Exactly one proposal per content
// hash produces UpsertCreated; later ones are duplicates.
func (s *CatalogService) UpsertFile(ctx context.Context, p FileProposal) (*UpsertResult, error) {
	if missing := missingFields(map[string]string{
		"device_id": p.DeviceID,
		"username":  p.Username,
		"name":      p.Name,
		"path":      p.Path,
		"hash":      p.ContentHash,
		"category":  string(p.Category),
	}); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	if !p.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrMissingFields, p.Category)
	}
	if p.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrMissingFields)
	}

	now := s.clock.Now()
	lastAccess := p.LastAccess
	if lastAccess.IsZero() {
		lastAccess = now
	}

	rec := &FileRecord{
		ID:          s.idgen.New(),
		DeviceID:    p.DeviceID,
		Username:    p.Username,
		Name:        p.Name,
		Path:        p.Path,
		Size:        p.Size,
		ContentHash: p.ContentHash,
		Category:    p.Category,
		LastAccess:  lastAccess.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.database.UpsertFile(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("upserting file: %w", err)
	}

	switch res.Outcome {
	case UpsertCreated:
		s.logger.Info("file recorded", "path", p.Path, "hash", p.ContentHash, "size", p.Size)
	case UpsertUpdated:
		s.logger.Info("file content changed", "path", p.Path, "hash", p.ContentHash)
	case UpsertDuplicate:
		s.logger.Info("duplicate found", "path", p.Path, "existing", res.Record.Path, "cleanup", res.CleanupAuthorized)
	}
	return res, nil
}

// TouchAccess updates last_access on the first record matching the name.
func (s *CatalogService) TouchAccess(ctx context.Context, deviceID, username, name string, at time.Time) (*FileRecord, error) {
	rec, err := s.findByName(ctx, deviceID, username, name)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	if err := s.database.TouchFile(ctx, rec.ID, at.UTC()); err != nil {
		return nil, fmt.Errorf("touching file: %w", err)
	}
	rec.LastAccess = at.UTC()
	return rec, nil
}

// RenameFile moves a record to NewPath if its current path is OldPath.
// A mismatch returns ErrConflict and leaves the record untouched.
func (s *CatalogService) RenameFile(ctx context.Context, p RenameProposal) (*FileRecord, error) {
	if missing := missingFields(map[string]string{
		"device_id": p.DeviceID,
		"username":  p.Username,
		"name":      p.Name,
		"old_path":  p.OldPath,
		"new_path":  p.NewPath,
	}); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	rec, err := s.findByName(ctx, p.DeviceID, p.Username, p.Name)
	if err != nil {
		return nil, err
	}
	if rec.Path != p.OldPath {
		s.logger.Warn("rename rejected", "name", p.Name, "current", rec.Path, "claimed", p.OldPath)
		return nil, fmt.Errorf("%w: record is at %s, not %s", ErrConflict, rec.Path, p.OldPath)
	}

	now := s.clock.Now()
	newName := filepath.Base(p.NewPath)
	ok, err := s.database.RenameFile(ctx, rec.ID, p.OldPath, p.NewPath, newName, now)
	if err != nil {
		return nil, fmt.Errorf("renaming file: %w", err)
	}
	if !ok {
		// Lost a race with another rename of the same record.
		return nil, fmt.Errorf("%w: record moved concurrently", ErrConflict)
	}

	rec.Path = p.NewPath
	rec.Name = newName
	rec.UpdatedAt = now
	s.logger.Info("file renamed", "from", p.OldPath, "to", p.NewPath)
	return rec, nil
}

// RemoveFile deletes the first record matching the name.
func (s *CatalogService) RemoveFile(ctx context.Context, deviceID, username, name string) (*FileRecord, error) {
	rec, err := s.findByName(ctx, deviceID, username, name)
	if err != nil {
		return nil, err
	}
	deleted, err := s.database.DeleteFile(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("deleting file: %w", err)
	}
	if !deleted {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, name)
	}
	s.logger.Info("file removed", "path", rec.Path)
	return rec, nil
}

// EnqueueTask appends a pending task for an existing record.
func (s *CatalogService) EnqueueTask(ctx context.Context, req TaskRequest) (string, error) {
	if missing := missingFields(map[string]string{
		"device_id": req.DeviceID,
		"username":  req.Username,
		"action":    string(req.Action),
		"path":      req.Path,
	}); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	action, err := ParseAction(string(req.Action))
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	task := &TaskRecord{
		ID:        s.idgen.New(),
		DeviceID:  req.DeviceID,
		Username:  req.Username,
		Action:    action,
		Path:      req.Path,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	found, err := s.database.CreateTask(ctx, task)
	if err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: no file at %s", ErrInvalidPath, req.Path)
	}

	s.logger.Info("task enqueued", "id", task.ID, "action", action, "path", req.Path)
	return task.ID, nil
}

// ListPendingTasks claims and returns the tasks an agent should run now.
func (s *CatalogService) ListPendingTasks(ctx context.Context, deviceID, username string) ([]*TaskRecord, error) {
	if deviceID == "" || username == "" {
		return nil, fmt.Errorf("%w: device_id and username are required", ErrMissingFields)
	}
	now := s.clock.Now()
	tasks, err := s.database.ClaimTasks(ctx, deviceID, username, now, now.Add(s.opts.TaskLease))
	if err != nil {
		return nil, fmt.Errorf("claiming tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask marks a task done. Completing a finished task is a no-op.
func (s *CatalogService) CompleteTask(ctx context.Context, id string) error {
	task, err := s.database.CompleteTask(ctx, id, s.clock.Now())
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if task.Status == TaskDeadLetter {
		s.logger.Warn("completion ignored for dead-lettered task", "id", id)
	}
	return nil
}

// FailTask records a failed execution and returns the resulting status.
func (s *CatalogService) FailTask(ctx context.Context, id, reason string) (TaskStatus, error) {
	task, err := s.database.FailTask(ctx, id, reason, s.opts.MaxTaskAttempts, s.clock.Now())
	if err != nil {
		return "", fmt.Errorf("failing task: %w", err)
	}
	if task == nil {
		return "", fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if task.Status == TaskDeadLetter {
		s.logger.Error("task dead-lettered", "id", id, "action", task.Action, "path", task.Path, "attempts", task.Attempts, "error", reason)
	} else {
		s.logger.Warn("task failed", "id", id, "attempts", task.Attempts, "error", reason)
	}
	return task.Status, nil
}

// ListFiles returns a user's records.
func (s *CatalogService) ListFiles(ctx context.Context, username string, filter FileFilter) ([]*FileRecord, error) {
	files, err := s.database.ListFiles(ctx, username, filter)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

// GetStats aggregates a user's records by category. Every category is
// present in the result, zero-valued if the user has no such files.
func (s *CatalogService) GetStats(ctx context.Context, username string) (*UsageReport, error) {
	user, err := s.database.FindUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}

	usage, err := s.database.CategoryUsage(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}

	report := &UsageReport{
		Categories: make(map[Category]CategoryUsage, len(AllCategories)),
		User:       *user,
	}
	for _, c := range AllCategories {
		report.Categories[c] = usage[c]
	}
	return report, nil
}

// ProvisionUser creates or updates a user profile.
func (s *CatalogService) ProvisionUser(ctx context.Context, profile UserProfile) (*UserProfile, error) {
	if profile.Username == "" || profile.DeviceID == "" {
		return nil, fmt.Errorf("%w: username and device_id are required", ErrMissingFields)
	}
	profile.CreatedAt = s.clock.Now()
	user, err := s.database.UpsertUser(ctx, &profile)
	if err != nil {
		return nil, fmt.Errorf("provisioning user: %w", err)
	}
	s.logger.Info("user provisioned", "username", user.Username, "device", user.DeviceID, "clean_on_scan", user.CleanDuplicatesOnScan)
	return user, nil
}

// ListDeadLetterTasks returns tasks that exhausted their attempts.
func (s *CatalogService) ListDeadLetterTasks(ctx context.Context, username string) ([]*TaskRecord, error) {
	tasks, err := s.database.ListTasks(ctx, username, TaskDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("listing dead-letter tasks: %w", err)
	}
	return tasks, nil
}

// AttachCaption stores a caption for an image path.
func (s *CatalogService) AttachCaption(ctx context.Context, rec CaptionRecord) error {
	if rec.Path == "" || rec.Username == "" {
		return fmt.Errorf("%w: username and path are required", ErrMissingFields)
	}
	if rec.Name == "" {
		rec.Name = filepath.Base(rec.Path)
	}
	rec.CreatedAt = s.clock.Now()
	if err := s.database.UpsertCaption(ctx, &rec); err != nil {
		return fmt.Errorf("storing caption: %w", err)
	}
	s.logger.Debug("caption stored", "path", rec.Path)
	return nil
}

// SearchCaptions finds captions containing query.
func (s *CatalogService) SearchCaptions(ctx context.Context, username, query string) ([]*CaptionRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrMissingFields)
	}
	res, err := s.database.SearchCaptions(ctx, username, query)
	if err != nil {
		return nil, fmt.Errorf("searching captions: %w", err)
	}
	return res, nil
}

func (s *CatalogService) findByName(ctx context.Context, deviceID, username, name string) (*FileRecord, error) {
	if deviceID == "" || username == "" || name == "" {
		return nil, fmt.Errorf("%w: device_id, username and name are required", ErrMissingFields)
	}
	rec, err := s.database.FindFileByName(ctx, deviceID, username, name)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, name)
	}
	return rec, nil
}

// missingFields returns the names of empty values in a stable order.
func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"device_id", "username", "name", "path", "old_path", "new_path", "hash", "category", "action"} {
		v, ok := fields[name]
		if ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
