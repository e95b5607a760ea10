// Package storage keeps rendered clips, thumbnails, caption files and
// uploaded sources in object storage. Two backends share the Store
// interface: the Supabase Storage REST API and any S3-compatible server
// through MinIO.
package storage

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"time"

	"github.com/bobarin/clipforge/internal/config"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Store interface {
	Bucket() string
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	UploadFile(ctx context.Context, storagePath, localPath, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	DownloadToFile(ctx context.Context, path, localPath string) error
	Delete(ctx context.Context, paths ...string) error
	GetPublicURL(path string) string
	GetSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error)
}

// New returns the backend selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.StorageBackend {
	case "supabase", "":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger), nil
	case "minio":
		return NewMinio(ctx, MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// ProjectPath is the object key for a file belonging to a project.
func ProjectPath(projectID uuid.UUID, filename string) string {
	return path.Join(projectID.String(), filename)
}

// ClipPath is the object key for one rendered clip artifact.
func ClipPath(projectID, candidateID uuid.UUID, platform, ext string) string {
	return path.Join(projectID.String(), "clips", fmt.Sprintf("%s_%s%s", candidateID, platform, ext))
}

// UploadPath is the object key for a user-uploaded source file.
func UploadPath(projectID uuid.UUID, originalName string) string {
	ext := filepath.Ext(originalName)
	if ext == "" || len(ext) > 6 {
		ext = ".mp4"
	}
	return path.Join(projectID.String(), "source"+ext)
}

// ContentType guesses from the extension, defaulting to octet-stream.
func ContentType(name string) string {
	switch ext := filepath.Ext(name); ext {
	case ".mp4":
		return "video/mp4"
	case ".vtt":
		return "text/vtt"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// ObjectPaths lists every storage key a project owns.
func ObjectPaths(p *models.Project, assets []models.ClipAsset) []string {
	paths := []*string{p.SourceStoragePath}
	for _, a := range assets {
		paths = append(paths, a.VideoPath, a.ThumbnailPath, a.CaptionPath)
	}
	return lo.Compact(lo.Map(paths, func(s *string, _ int) string { return lo.FromPtr(s) }))
}
