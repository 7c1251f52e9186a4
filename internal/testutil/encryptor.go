package testutil

import (
	"ftrack/internal/encryption"
	"ftrack/internal/ft"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() ft.Encryptor {
	return encryption.NewTestEncryptor()
}
