package encryption

import (
	"fmt"

	"ftrack/internal/config"
	"ftrack/internal/ft"
)

// NewEncryptorFromConfig returns the archive encryptor named by cfg.Type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (ft.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
