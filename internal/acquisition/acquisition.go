// Package acquisition fetches source videos, either with a local yt-dlp
// binary or through the remote download worker.
package acquisition

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobarin/clipforge/internal/config"
	"github.com/bobarin/clipforge/internal/models"
	"go.uber.org/zap"
)

type Options struct {
	Quality   string // max height, e.g. "720"; empty = backend default
	OutputDir string // parent of the per-invocation scratch dir
}

// Result is a downloaded source. Dir is the per-invocation scratch directory
// holding FilePath; the caller removes it.
type Result struct {
	FilePath string
	Dir      string
	Metadata models.SourceMetadata
}

// Gateway resolves a URL into a local file, or just its metadata.
type Gateway interface {
	Resolve(ctx context.Context, url string, opts Options) (*Result, error)
	Probe(ctx context.Context, url string) (*models.SourceMetadata, error)
}

// New returns the backend selected by ACQUISITION_BACKEND.
func New(cfg *config.Config, logger *zap.Logger) (Gateway, error) {
	switch cfg.AcquisitionBackend {
	case "local", "":
		robust, err := LoadRobustness(cfg.PlatformSpecsPath)
		if err != nil {
			return nil, err
		}
		return NewLocal(LocalConfig{
			YTDLPPath:            cfg.YTDLPPath,
			FFprobePath:          cfg.FFprobePath,
			ScratchDir:           cfg.ScratchDir,
			DefaultQuality:       cfg.DefaultQuality,
			Timeout:              cfg.AcquisitionTimeout,
			RequireKnownPlatform: cfg.RequireKnownPlatform,
			Robustness:           robust,
		}, logger), nil
	case "remote":
		return NewRemote(RemoteConfig{
			BaseURL:              cfg.RemoteWorkerURL,
			APIKey:               cfg.RemoteWorkerAPIKey,
			ScratchDir:           cfg.ScratchDir,
			DefaultQuality:       cfg.DefaultQuality,
			Timeout:              cfg.AcquisitionTimeout,
			RequireKnownPlatform: cfg.RequireKnownPlatform,
		}, &http.Client{Timeout: 0}, logger), nil
	default:
		return nil, fmt.Errorf("unknown acquisition backend %q", cfg.AcquisitionBackend)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
