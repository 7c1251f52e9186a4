package vault

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ftrack/internal/config"
	"ftrack/internal/ft"
)

// MinioVault stores objects on a MinIO (or other S3-compatible) server.
type MinioVault struct {
	name   string
	bucket string
	prefix string
	client *minio.Client
}

// NewMinioVault creates a MinioVault for the configured endpoint.
func NewMinioVault(cfg config.VaultConfig) (*MinioVault, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &MinioVault{
		name:   cfg.Name,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		client: client,
	}, nil
}

func (v *MinioVault) objectKey(key string) string {
	if v.prefix == "" {
		return key
	}
	return path.Join(v.prefix, key)
}

func (v *MinioVault) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := v.client.PutObject(ctx, v.bucket, v.objectKey(key), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// GetObject streams the object to w. minio defers the request until the
// first read, so a missing key surfaces from Stat.
func (v *MinioVault) GetObject(ctx context.Context, key string, w io.Writer) error {
	obj, err := v.client.GetObject(ctx, v.bucket, v.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("object %s: %w", key, ft.ErrNotFound)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	if _, err := io.Copy(w, obj); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

func (v *MinioVault) DeleteObject(ctx context.Context, key string) error {
	if err := v.client.RemoveObject(ctx, v.bucket, v.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists.
func (v *MinioVault) ValidateSetup(ctx context.Context) error {
	ok, err := v.client.BucketExists(ctx, v.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", v.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", v.bucket)
	}
	return nil
}

var _ ft.Vault = (*MinioVault)(nil)
