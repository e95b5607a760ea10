package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/retry"
	"go.uber.org/zap"
)

const (
	// Upload timeout per attempt, sized for clips of a few hundred MB.
	uploadTimeout = 300 * time.Second

	downloadTimeout = 300 * time.Second
)

// Supabase talks to the Supabase Storage REST API with a service key.
type Supabase struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

func NewSupabase(url, serviceKey, bucket string, logger *zap.Logger) *Supabase {
	return &Supabase{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: retry.Default,
		logger: logging.Component(logger, "storage.supabase"),
	}
}

// WithRetryPolicy replaces the default backoff; used by tests.
func (s *Supabase) WithRetryPolicy(p retry.Policy) *Supabase {
	s.policy = p
	return s
}

func (s *Supabase) Bucket() string { return s.bucket }

func (s *Supabase) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, strings.TrimLeft(path, "/"))
}

// Upload PUTs data with x-upsert so a retried or repeated upload overwrites.
func (s *Supabase) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	return s.put(ctx, path, contentType, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// UploadFile streams a local file; it is reopened on every attempt.
func (s *Supabase) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", localPath, err)
	}
	return s.put(ctx, storagePath, contentType, info.Size(), func() (io.ReadCloser, error) {
		return os.Open(localPath)
	})
}

func (s *Supabase) put(ctx context.Context, path, contentType string, size int64, open func() (io.ReadCloser, error)) error {
	onRetry := func(attempt int, err error) {
		s.logger.Warn("upload failed, retrying", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
	}

	err := retry.Do(ctx, s.policy, onRetry, func(ctx context.Context) error {
		body, err := open()
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to open upload body: %w", err))
		}
		defer body.Close()

		// Each attempt gets its own timeout.
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, s.objectURL(path), body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.ContentLength = size
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return s.transportError("upload", err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		return s.statusError("upload", resp.StatusCode, respBody)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (s *Supabase) Download(ctx context.Context, path string) ([]byte, error) {
	var buf bytes.Buffer
	err := s.get(ctx, path, func() (io.Writer, error) {
		buf.Reset()
		return &buf, nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadToFile streams the object into localPath, truncating it on each
// attempt.
func (s *Supabase) DownloadToFile(ctx context.Context, path, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	err := s.get(ctx, path, func() (io.Writer, error) {
		if f != nil {
			f.Close()
		}
		var err error
		f, err = os.Create(localPath)
		return f, err
	})
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	f = nil
	return nil
}

func (s *Supabase) get(ctx context.Context, path string, sink func() (io.Writer, error)) error {
	onRetry := func(attempt int, err error) {
		s.logger.Warn("download failed, retrying", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
	}

	err := retry.Do(ctx, s.policy, onRetry, func(ctx context.Context) error {
		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, s.objectURL(path), nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return s.transportError("download", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return s.statusError("download", resp.StatusCode, body)
		}

		w, err := sink()
		if err != nil {
			return retry.Permanent(err)
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("failed to read download body: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	return nil
}

// Delete removes objects in one call. Missing objects are not an error.
func (s *Supabase) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	err = retry.Do(ctx, s.policy, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/storage/v1/object/%s", s.url, s.bucket), bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return s.transportError("delete", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return s.statusError("delete", resp.StatusCode, body)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d objects: %w", len(paths), err)
	}
	return nil
}

func (s *Supabase) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, path)
}

// GetSignedURL creates a signed URL for temporary access.
func (s *Supabase) GetSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.bucket, path)

	body := fmt.Sprintf(`{"expiresIn": %d}`, int(expiresIn.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperrors.NewExternalService("storage", 0, "sign request failed", nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", apperrors.NewExternalService("storage", resp.StatusCode, "sign failed", respBody, nil)
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + "/storage/v1" + result.SignedURL, nil
}

func (s *Supabase) transportError(op string, err error) error {
	svcErr := apperrors.NewExternalService("storage", 0, op+" request failed", nil, err)
	if retry.IsRetryableError(err) && !errors.Is(err, context.Canceled) {
		return svcErr
	}
	return retry.Permanent(svcErr)
}

func (s *Supabase) statusError(op string, status int, body []byte) error {
	svcErr := apperrors.NewExternalService("storage", status, fmt.Sprintf("%s failed", op), body, nil)
	if retry.IsRetryableStatus(status) {
		return svcErr
	}
	return retry.Permanent(svcErr)
}
