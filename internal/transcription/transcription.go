// Package transcription turns an audio track into a timestamped transcript
// through an OpenAI-compatible speech-to-text endpoint.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/retry"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// maxUploadBytes is the provider's upload limit.
const maxUploadBytes = 25 << 20

type Options struct {
	Language          string // ISO 639-1, empty = autodetect
	IncludeTimestamps bool
}

type Transcriber interface {
	Transcribe(ctx context.Context, filePath string, opts Options) (*models.Transcript, error)
}

// AudioClient is the part of *openai.Client used here.
type AudioClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

type Config struct {
	Model      string
	Timeout    time.Duration // per attempt
	MaxRetries int
	BaseDelay  time.Duration
}

type WhisperTranscriber struct {
	client AudioClient
	cfg    Config
	logger *zap.Logger
}

// NewClient builds the go-openai client, honouring a custom base URL for
// self-hosted compatible servers.
func NewClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func NewWhisper(client AudioClient, cfg Config, logger *zap.Logger) *WhisperTranscriber {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &WhisperTranscriber{client: client, cfg: cfg, logger: logging.Component(logger, "transcription")}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, filePath string, opts Options) (*models.Transcript, error) {
	// Read once so every retry sends the same bytes.
	audio, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, apperrors.NewValidation("audio", "file %s is empty", filepath.Base(filePath))
	}
	if len(audio) > maxUploadBytes {
		return nil, apperrors.NewValidation("audio", "file is %d MB, limit is %d MB", len(audio)>>20, maxUploadBytes>>20)
	}

	req := openai.AudioRequest{
		Model:    w.cfg.Model,
		FilePath: filepath.Base(filePath),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: opts.Language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	}
	if opts.IncludeTimestamps {
		req.TimestampGranularities = append(req.TimestampGranularities, openai.TranscriptionTimestampGranularityWord)
	}

	policy := retry.Policy{MaxRetries: w.cfg.MaxRetries, BaseDelay: w.cfg.BaseDelay, MaxDelay: 30 * time.Second}
	onRetry := func(attempt int, err error) {
		w.logger.Warn("transcription failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	started := time.Now()
	var resp openai.AudioResponse
	err = retry.Do(ctx, policy, onRetry, func(ctx context.Context) error {
		if w.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
			defer cancel()
		}
		req.Reader = bytes.NewReader(audio)

		var callErr error
		resp, callErr = w.client.CreateTranscription(ctx, req)
		if callErr == nil {
			return nil
		}
		return classify(callErr)
	})
	if err != nil {
		var svcErr *apperrors.ExternalServiceError
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, apperrors.NewExternalService("transcription", 0, "request failed", nil, err)
	}

	transcript, err := Normalize(resp)
	if err != nil {
		return nil, err
	}
	if transcript.Language == "" {
		transcript.Language = opts.Language
	}

	w.logger.Info("transcribed audio",
		zap.String("file", filepath.Base(filePath)),
		zap.Int("segments", len(transcript.Segments)),
		zap.Float64("duration", transcript.Duration),
		zap.Duration("took", time.Since(started)),
	)
	return transcript, nil
}

// classify maps a client error to an ExternalServiceError and marks the
// ones not worth retrying.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		svcErr := apperrors.NewExternalService("transcription", apiErr.HTTPStatusCode, apiErr.Message, nil, err)
		if retry.IsRetryableStatus(apiErr.HTTPStatusCode) {
			return svcErr
		}
		return retry.Permanent(svcErr)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		svcErr := apperrors.NewExternalService("transcription", reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode), nil, err)
		if retry.IsRetryableStatus(reqErr.HTTPStatusCode) {
			return svcErr
		}
		return retry.Permanent(svcErr)
	}

	svcErr := apperrors.NewExternalService("transcription", 0, "request failed", nil, err)
	if retry.IsRetryableError(err) {
		return svcErr
	}
	return retry.Permanent(svcErr)
}
