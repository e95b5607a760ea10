package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/clipforge/internal/logging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string // optional; when set, presigning needs no bucket-location lookup
}

// Minio stores objects on any S3-compatible server.
type Minio struct {
	client *minio.Client
	cfg    MinioConfig
	logger *zap.Logger
}

// NewMinio connects and creates the bucket when it does not exist yet.
func NewMinio(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*Minio, error) {
	m, err := newMinio(cfg, logger)
	if err != nil {
		return nil, err
	}
	client := m.client

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return m, nil
}

// newMinio builds the client without touching the network.
func newMinio(cfg MinioConfig, logger *zap.Logger) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &Minio{client: client, cfg: cfg, logger: logging.Component(logger, "storage.minio")}, nil
}

func (m *Minio) Bucket() string { return m.cfg.Bucket }

func (m *Minio) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (m *Minio) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	info, err := m.client.FPutObject(ctx, m.cfg.Bucket, storagePath, localPath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-name": filepath.Base(localPath),
			"uploaded-at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", storagePath, err)
	}
	m.logger.Debug("uploaded object", zap.String("path", storagePath), zap.Int64("size", info.Size))
	return nil
}

func (m *Minio) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	return data, nil
}

func (m *Minio) DownloadToFile(ctx context.Context, path, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := m.client.FGetObject(ctx, m.cfg.Bucket, path, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	return nil
}

// Delete removes objects in one batch and reports the first failure.
func (m *Minio) Delete(ctx context.Context, paths ...string) error {
	objects := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		objects <- minio.ObjectInfo{Key: p}
	}
	close(objects)

	var firstErr error
	for rerr := range m.client.RemoveObjects(ctx, m.cfg.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to delete %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return firstErr
}

func (m *Minio) GetPublicURL(path string) string {
	protocol := "http"
	if m.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, m.cfg.Endpoint, m.cfg.Bucket, path)
}

func (m *Minio) GetSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, path, expiresIn, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", path, err)
	}
	return u.String(), nil
}
