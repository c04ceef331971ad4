// Package storage keeps attachment blobs on local disk or in a MinIO bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"threadboard/internal/config"

	"github.com/google/uuid"
)

// Store persists attachment blobs under generated keys.
type Store interface {
	// Save writes r and returns the key the blob is stored under. name is
	// only used for its extension.
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	// URL returns where key can be downloaded. Local keys yield a path
	// relative to the server root.
	URL(key string) string
}

// New builds the store selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case "", "local":
		return NewLocalStore(cfg.UploadDir, cfg.MediaURLPrefix)
	case "minio":
		return NewMinioStore(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// newKey returns attachments/YYYY/MM/<uuid><ext> for an upload named name.
func newKey(name string, now time.Time) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return fmt.Sprintf("attachments/%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.NewString(), ext)
}
