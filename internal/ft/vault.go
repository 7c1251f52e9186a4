package ft

import (
	"context"
	"io"
)

// Vault is the remote object store used to execute sync and archive tasks.
// Keys are slash-separated and backend-neutral.
type Vault interface {
	// PutObject stores size bytes read from r under key, replacing any
	// previous object.
	PutObject(ctx context.Context, key string, r io.Reader, size int64) error

	// GetObject writes the object stored under key to w.
	// Returns an error wrapping ErrNotFound if the key does not exist.
	GetObject(ctx context.Context, key string, w io.Writer) error

	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
