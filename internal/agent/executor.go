package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"ftrack/internal/ft"
	"ftrack/internal/vault"
)

// ErrLocked means an unarchive task ran before the archive key was unlocked.
var ErrLocked = errors.New("archive key is locked")

// Executor performs task actions against the vault.
type Executor struct {
	fsmgr     ft.FilesystemManager
	vault     ft.Vault
	encryptor ft.Encryptor
	suppress  Suppressor
	logger    ft.Logger
	deviceID  string
	username  string
	tempDir   string

	mu        sync.Mutex
	decryptor ft.DecryptionContext
}

// NewExecutor creates an Executor. tempDir holds archives while they are
// being encrypted or downloaded; "" uses the system default.
func NewExecutor(fsmgr ft.FilesystemManager, v ft.Vault, enc ft.Encryptor, suppress Suppressor, logger ft.Logger, deviceID, username, tempDir string) *Executor {
	return &Executor{
		fsmgr:     fsmgr,
		vault:     v,
		encryptor: enc,
		suppress:  suppress,
		logger:    logger,
		deviceID:  deviceID,
		username:  username,
		tempDir:   tempDir,
	}
}

// SetDecryptor installs the unlocked archive key used by unarchive tasks.
func (e *Executor) SetDecryptor(dc ft.DecryptionContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decryptor = dc
}

// Execute runs one task to completion.
func (e *Executor) Execute(ctx context.Context, task *ft.TaskRecord) error {
	e.logger.Info("task started", "id", task.ID, "action", task.Action, "path", task.Path)
	var err error
	switch task.Action {
	case ft.ActionSync:
		err = e.sync(ctx, task.Path)
	case ft.ActionUnsync:
		err = e.vault.DeleteObject(ctx, vault.SyncKey(e.deviceID, e.username, task.Path))
	case ft.ActionArchive:
		err = e.archive(ctx, task.Path)
	case ft.ActionUnarchive:
		err = e.unarchive(ctx, task.Path)
	default:
		err = fmt.Errorf("unknown action %q", task.Action)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", task.Action, task.Path, err)
	}
	return nil
}

func (e *Executor) sync(ctx context.Context, absPath string) error {
	p, err := e.fsmgr.Resolve(absPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	info, err := e.fsmgr.Stat(p)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	rc, err := e.fsmgr.Open(p)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	if err := e.vault.PutObject(ctx, vault.SyncKey(e.deviceID, e.username, absPath), rc, info.Size()); err != nil {
		return fmt.Errorf("uploading: %w", err)
	}
	return nil
}

// archive encrypts the file to a temp file, uploads it, and only then
// removes the local copy.
func (e *Executor) archive(ctx context.Context, absPath string) error {
	p, err := e.fsmgr.Resolve(absPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	rc, err := e.fsmgr.Open(p)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(e.tempDir, "ftrack-archive-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := e.encryptor.Encrypt(rc, tmp); err != nil {
		return fmt.Errorf("encrypting: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding archive: %w", err)
	}

	if err := e.vault.PutObject(ctx, vault.ArchiveKey(e.deviceID, e.username, absPath), tmp, size); err != nil {
		return fmt.Errorf("uploading archive: %w", err)
	}

	if e.suppress != nil {
		e.suppress.Suppress(absPath, suppressFor)
	}
	if err := e.fsmgr.Remove(absPath); err != nil {
		return fmt.Errorf("removing archived file: %w", err)
	}
	e.logger.Info("file archived", "path", absPath, "bytes", size)
	return nil
}

// unarchive downloads and decrypts an archive back to its original path.
func (e *Executor) unarchive(ctx context.Context, absPath string) error {
	e.mu.Lock()
	dc := e.decryptor
	e.mu.Unlock()
	if dc == nil {
		return ErrLocked
	}

	tmp, err := os.CreateTemp(e.tempDir, "ftrack-restore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := e.vault.GetObject(ctx, vault.ArchiveKey(e.deviceID, e.username, absPath), tmp); err != nil {
		return fmt.Errorf("downloading archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding archive: %w", err)
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(dc.Decrypt(tmp, pw))
	}()
	defer func() { <-done }()

	if e.suppress != nil {
		e.suppress.Suppress(absPath, suppressFor)
	}
	if err := e.fsmgr.WriteFile(absPath, pr); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("restoring file: %w", err)
	}
	e.logger.Info("file unarchived", "path", absPath)
	return nil
}
