package acquisition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Per-attempt timeout for JSON calls to the worker. The download call
	// itself can take as long as the worker needs to fetch the source.
	remoteCallTimeout = 60 * time.Second
)

type RemoteConfig struct {
	BaseURL              string
	APIKey               string
	ScratchDir           string
	DefaultQuality       string
	Timeout              time.Duration
	RequireKnownPlatform bool
	Retry                *retry.Policy
}

// RemoteGateway delegates downloads to the acquisition worker service and
// fetches the resulting asset into local scratch.
type RemoteGateway struct {
	cfg    RemoteConfig
	client *http.Client
	policy retry.Policy
	logger *zap.Logger
}

func NewRemote(cfg RemoteConfig, client *http.Client, logger *zap.Logger) *RemoteGateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.DefaultQuality = orDefault(cfg.DefaultQuality, "720")
	if client == nil {
		client = &http.Client{}
	}
	policy := retry.Default
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	return &RemoteGateway{
		cfg:    cfg,
		client: client,
		policy: policy,
		logger: logging.Component(logger, "acquisition.remote"),
	}
}

type downloadRequest struct {
	URL           string `json:"url"`
	Quality       string `json:"quality,omitempty"`
	UploadToStore bool   `json:"uploadToStore"`
}

type remoteMetadata struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Ext       string  `json:"ext"`
	Thumbnail string  `json:"thumbnail"`
	Platform  string  `json:"platform"`
}

func (m remoteMetadata) toModel(detected models.Platform) models.SourceMetadata {
	return models.SourceMetadata{
		Title:     m.Title,
		Uploader:  m.Uploader,
		Duration:  m.Duration,
		Width:     m.Width,
		Height:    m.Height,
		Container: m.Ext,
		Platform:  detected,
		SourceID:  m.ID,
		Thumbnail: m.Thumbnail,
	}
}

type downloadResponse struct {
	Success     *bool           `json:"success,omitempty"`
	FirebaseURL string          `json:"firebaseUrl"`
	LocalPath   string          `json:"localPath"`
	Error       string          `json:"error"`
	Metadata    *remoteMetadata `json:"metadata"`
}

// Health reports whether the worker answers GET /health with healthy=true.
func (g *RemoteGateway) Health(ctx context.Context) error {
	var body struct {
		Healthy bool `json:"healthy"`
	}
	if err := g.call(ctx, http.MethodGet, "/health", nil, &body); err != nil {
		return err
	}
	if !body.Healthy {
		return apperrors.NewExternalService("acquisition worker", http.StatusOK, "worker reports unhealthy", nil, nil)
	}
	return nil
}

func (g *RemoteGateway) Resolve(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	platform, err := CheckPlatform(rawURL, g.cfg.RequireKnownPlatform)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := downloadRequest{
		URL:           rawURL,
		Quality:       orDefault(opts.Quality, g.cfg.DefaultQuality),
		UploadToStore: true,
	}

	resp, err := g.download(ctx, rawURL, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" || (resp.Success != nil && !*resp.Success) {
		return nil, apperrors.NewExternalService("acquisition worker", 0, orDefault(resp.Error, "download failed"), nil, nil)
	}

	dir := filepath.Join(orDefault(opts.OutputDir, g.cfg.ScratchDir), uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	var file string
	switch {
	case resp.FirebaseURL != "":
		file, err = g.fetchAsset(ctx, resp.FirebaseURL, dir)
		if err != nil {
			return nil, err
		}
	case resp.LocalPath != "":
		// Shared volume with the worker.
		if _, err := os.Stat(resp.LocalPath); err != nil {
			return nil, apperrors.NewExternalService("acquisition worker", 0, "local path not reachable", nil, err)
		}
		file = resp.LocalPath
	default:
		return nil, apperrors.NewExternalService("acquisition worker", 0, "response has neither firebaseUrl nor localPath", nil, nil)
	}

	meta := models.SourceMetadata{Platform: platform}
	if resp.Metadata != nil {
		meta = resp.Metadata.toModel(platform)
	}

	g.logger.Info("source fetched from worker",
		zap.String("url", rawURL),
		zap.String("file", file),
		zap.Float64("duration", meta.Duration),
	)
	return &Result{FilePath: file, Dir: dir, Metadata: meta}, nil
}

// download prefers /download-with-metadata and falls back to /download plus
// /metadata on workers that predate the combined endpoint.
func (g *RemoteGateway) download(ctx context.Context, rawURL string, req downloadRequest) (*downloadResponse, error) {
	var resp downloadResponse
	err := g.call(ctx, http.MethodPost, "/download-with-metadata", req, &resp)
	if err == nil {
		return &resp, nil
	}

	var svcErr *apperrors.ExternalServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode != http.StatusNotFound {
		return nil, err
	}

	g.logger.Info("worker has no combined endpoint, using /download")
	resp = downloadResponse{}
	if err := g.call(ctx, http.MethodPost, "/download", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error == "" && resp.Metadata == nil {
		if meta, err := g.Probe(ctx, rawURL); err == nil {
			resp.Metadata = &remoteMetadata{
				ID: meta.SourceID, Title: meta.Title, Uploader: meta.Uploader, Duration: meta.Duration,
				Width: meta.Width, Height: meta.Height, Ext: meta.Container, Thumbnail: meta.Thumbnail,
			}
		}
	}
	return &resp, nil
}

func (g *RemoteGateway) Probe(ctx context.Context, rawURL string) (*models.SourceMetadata, error) {
	platform, err := CheckPlatform(rawURL, g.cfg.RequireKnownPlatform)
	if err != nil {
		return nil, err
	}

	var resp struct {
		remoteMetadata
		Error string `json:"error"`
	}
	if err := g.call(ctx, http.MethodPost, "/metadata", map[string]string{"url": rawURL}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.NewExternalService("acquisition worker", 0, resp.Error, nil, nil)
	}

	meta := resp.remoteMetadata.toModel(platform)
	return &meta, nil
}

// call sends one JSON request with retries on transient failures. 4xx
// answers other than 408/429 are not retried.
func (g *RemoteGateway) call(ctx context.Context, method, endpoint string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	// Downloads are bounded by the gateway timeout only.
	timeout := remoteCallTimeout
	if strings.HasPrefix(endpoint, "/download") {
		timeout = 0
	}

	onRetry := func(attempt int, err error) {
		g.logger.Warn("worker call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return retry.Do(ctx, g.policy, onRetry, func(ctx context.Context) error {
		attemptCtx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, method, g.cfg.BaseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", g.cfg.APIKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			svcErr := apperrors.NewExternalService("acquisition worker", 0, "request failed", nil, err)
			if retry.IsRetryableError(err) {
				return svcErr
			}
			return retry.Permanent(svcErr)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.NewExternalService("acquisition worker", resp.StatusCode, "failed to read response", nil, err)
		}

		if resp.StatusCode >= 400 {
			msg := errorMessage(body, resp.StatusCode)
			svcErr := apperrors.NewExternalService("acquisition worker", resp.StatusCode, msg, body, nil)
			if retry.IsRetryableStatus(resp.StatusCode) {
				return svcErr
			}
			return retry.Permanent(svcErr)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(apperrors.NewExternalService("acquisition worker", resp.StatusCode, "malformed response", body, err))
		}
		return nil
	})
}

// fetchAsset streams the uploaded asset into dir.
func (g *RemoteGateway) fetchAsset(ctx context.Context, assetURL, dir string) (string, error) {
	name := "source.mp4"
	if u, err := url.Parse(assetURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			name = "source" + ext
		}
	}
	dest := filepath.Join(dir, name)

	err := retry.Do(ctx, g.policy, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			if retry.IsRetryableError(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			svcErr := apperrors.NewExternalService("asset download", resp.StatusCode, "unexpected status", body, nil)
			if retry.IsRetryableStatus(resp.StatusCode) {
				return svcErr
			}
			return retry.Permanent(svcErr)
		}

		f, err := os.Create(dest)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create %s: %w", dest, err))
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return fmt.Errorf("failed to write asset: %w", err)
		}
		return f.Close()
	})
	if err != nil {
		var svcErr *apperrors.ExternalServiceError
		if errors.As(err, &svcErr) {
			return "", err
		}
		return "", apperrors.NewExternalService("asset download", 0, "download failed", nil, err)
	}
	return dest, nil
}

func errorMessage(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return http.StatusText(status)
}
