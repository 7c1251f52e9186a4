package vault

import (
	"context"
	"fmt"
	"strings"

	"ftrack/internal/config"
	"ftrack/internal/ft"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (ft.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem vault requires root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.Root)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 vault requires bucket to be set")
		}
		v, err := NewS3Vault(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "minio":
		if cfg.Bucket == "" || cfg.Endpoint == "" {
			return nil, fmt.Errorf("minio vault requires bucket and endpoint to be set")
		}
		v, err := NewMinioVault(cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}

// SyncKey is where a synced copy of path is stored.
func SyncKey(deviceID, username, path string) string {
	return deviceID + "/" + username + "/sync/" + strings.TrimLeft(path, "/")
}

// ArchiveKey is where the encrypted archive of path is stored.
func ArchiveKey(deviceID, username, path string) string {
	return deviceID + "/" + username + "/archive/" + strings.TrimLeft(path, "/") + ".age"
}
