// Package materializer renders clip candidates into platform-ready files.
package materializer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/captions"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/models"
	"go.uber.org/zap"
)

const defaultThumbnailOffset = 1.0

type Options struct {
	Captions        *models.CaptionTrack
	CaptionMode     models.CaptionMode
	ThumbnailOffset float64 // seconds into the clip
	OutputDir       string
}

// Result lists the final files, all inside Options.OutputDir.
type Result struct {
	Platform      PlatformSpec
	FellBack      bool // requested platform was unknown, default preset used
	VideoPath     string
	ThumbnailPath string
	CaptionPath   string // empty when no captions were written
	ByteSize      int64
	DurationMs    int
	EncodeParams  models.JSONB
}

type Materializer struct {
	ffmpegPath  string
	ffprobePath string
	registry    *Registry
	scratchDir  string
	logger      *zap.Logger
}

func New(ffmpegPath, ffprobePath string, registry *Registry, scratchDir string, logger *zap.Logger) *Materializer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Materializer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		registry:    registry,
		scratchDir:  scratchDir,
		logger:      logging.Component(logger, "materializer"),
	}
}

func (m *Materializer) Registry() *Registry { return m.registry }

// ExtractAudio writes the source's audio track alone, for transcription.
func (m *Materializer) ExtractAudio(ctx context.Context, source, output string) error {
	return media.ExtractAudio(ctx, m.ffmpegPath, source, output)
}

// Materialize cuts the candidate out of sourceFile and encodes it for the
// named platform. Intermediates live in a private temp dir that is removed
// whether or not rendering succeeds; only final outputs are moved into
// opts.OutputDir.
func (m *Materializer) Materialize(ctx context.Context, sourceFile string, candidate models.ClipCandidate, platformName string, opts Options) (*Result, error) {
	spec, known := m.registry.Lookup(platformName)
	if !known {
		m.logger.Warn("unknown platform, using default preset",
			zap.String("platform", platformName),
			zap.String("candidate_id", candidate.ID.String()),
		)
	}

	duration := candidate.Duration()
	if duration <= 0 {
		return nil, apperrors.NewValidation("candidate", "end must be after start")
	}
	if duration > spec.MaxDuration {
		m.logger.Info("trimming clip to platform maximum",
			zap.String("platform", spec.Name),
			zap.Float64("duration", duration),
			zap.Float64("max_duration", spec.MaxDuration),
		)
		duration = spec.MaxDuration
	}

	if opts.OutputDir == "" {
		return nil, apperrors.NewValidation("output_dir", "is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.MkdirAll(m.scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	work, err := os.MkdirTemp(m.scratchDir, "materialize-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	job := renderJob{
		Source:      sourceFile,
		Start:       candidate.StartTime,
		Duration:    duration,
		Spec:        spec,
		CaptionMode: opts.CaptionMode,
		Output:      filepath.Join(work, "clip.mp4"),
	}

	var captionFile string
	if opts.Captions != nil && len(opts.Captions.Cues) > 0 {
		captionFile = filepath.Join(work, "captions.vtt")
		if err := os.WriteFile(captionFile, []byte(captions.Render(*opts.Captions)), 0644); err != nil {
			return nil, fmt.Errorf("failed to write captions: %w", err)
		}
		if opts.CaptionMode != models.CaptionModeNone {
			job.CaptionPath = captionFile
			job.CaptionStyle = captionStyle(opts.Captions.Position)
		}
	}

	if _, err := media.Run(ctx, "ffmpeg", m.ffmpegPath, "render", renderArgs(job)...); err != nil {
		return nil, err
	}

	offset := opts.ThumbnailOffset
	if offset <= 0 {
		offset = defaultThumbnailOffset
	}
	offset = min(offset, duration/2)

	thumb := filepath.Join(work, "thumb.jpg")
	if _, err := media.Run(ctx, "ffmpeg", m.ffmpegPath, "thumbnail", thumbnailArgs(job.Output, offset, thumb)...); err != nil {
		return nil, err
	}

	probe, err := media.Probe(ctx, m.ffprobePath, job.Output)
	if err != nil {
		return nil, err
	}
	if limit := int64(spec.MaxFileSizeMB) << 20; spec.MaxFileSizeMB > 0 && probe.SizeBytes > limit {
		m.logger.Warn("rendered clip exceeds platform size limit",
			zap.String("platform", spec.Name),
			zap.Int64("bytes", probe.SizeBytes),
			zap.Int("limit_mb", spec.MaxFileSizeMB),
		)
	}

	base := fmt.Sprintf("%s_%s", candidate.ID, spec.Name)
	result := &Result{
		Platform:   spec,
		FellBack:   !known,
		ByteSize:   probe.SizeBytes,
		DurationMs: int(probe.Duration * 1000),
		EncodeParams: models.JSONB{
			"platform":      spec.Name,
			"width":         spec.Width,
			"height":        spec.Height,
			"fps":           spec.FPS,
			"video_codec":   spec.VideoCodec,
			"audio_codec":   spec.AudioCodec,
			"crf":           spec.CRF,
			"caption_mode":  string(opts.CaptionMode),
			"source_start":  candidate.StartTime,
			"clip_duration": duration,
		},
	}

	if result.VideoPath, err = moveFile(job.Output, filepath.Join(opts.OutputDir, base+".mp4")); err != nil {
		return nil, err
	}
	if result.ThumbnailPath, err = moveFile(thumb, filepath.Join(opts.OutputDir, base+".jpg")); err != nil {
		return nil, err
	}
	if captionFile != "" {
		if result.CaptionPath, err = moveFile(captionFile, filepath.Join(opts.OutputDir, base+".vtt")); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) (string, error) {
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return dst, nil
}
