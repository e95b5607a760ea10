package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// FrameScore is a vision model's rating of one sampled frame.
type FrameScore struct {
	Time  float64
	Score float64
	Label string
}

// FrameScorer rates sampled frames for short-form appeal.
type FrameScorer interface {
	ScoreFrames(ctx context.Context, frames []media.Frame) ([]FrameScore, error)
}

// FrameExtractor samples n evenly spaced frames from input into dir.
type FrameExtractor func(ctx context.Context, input, dir string, duration float64, n int) ([]media.Frame, error)

// FrameStrategy samples frames, has them scored, and proposes fixed-length
// windows ranked by their mean frame score.
type FrameStrategy struct {
	scorer     FrameScorer
	extract    FrameExtractor
	samples    int
	scratchDir string
	logger     *zap.Logger
}

func NewFrameStrategy(scorer FrameScorer, extract FrameExtractor, samples int, scratchDir string, logger *zap.Logger) *FrameStrategy {
	if samples <= 0 {
		samples = 24
	}
	return &FrameStrategy{
		scorer:     scorer,
		extract:    extract,
		samples:    samples,
		scratchDir: scratchDir,
		logger:     logging.Component(logger, "analyzer.frames"),
	}
}

// FFmpegFrameExtractor binds media.ExtractFrames to an ffmpeg binary.
func FFmpegFrameExtractor(ffmpegPath string) FrameExtractor {
	return func(ctx context.Context, input, dir string, duration float64, n int) ([]media.Frame, error) {
		return media.ExtractFrames(ctx, ffmpegPath, input, dir, duration, n)
	}
}

func (s *FrameStrategy) Name() string { return "frames" }

func (s *FrameStrategy) Propose(ctx context.Context, in Input, opts models.AnalysisOptions) ([]RawCandidate, error) {
	if in.SourcePath == "" {
		return nil, apperrors.NewValidation("source_path", "is required for frame sampling")
	}

	if err := os.MkdirAll(s.scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	dir, err := os.MkdirTemp(s.scratchDir, "frames-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	frames, err := s.extract(ctx, in.SourcePath, filepath.Join(dir, "frames"), in.SourceDuration, s.samples)
	if err != nil {
		return nil, err
	}

	scores, err := s.scorer.ScoreFrames(ctx, frames)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("frames scored",
		zap.String("project_id", in.ProjectID.String()),
		zap.Int("frames", len(frames)),
		zap.Int("scores", len(scores)),
	)

	return Windows(scores, in.SourceDuration, opts), nil
}

// WindowLength is the fixed window size used for frame aggregation: the
// midpoint of the allowed duration range, capped at the source duration.
func WindowLength(sourceDuration float64, opts models.AnalysisOptions) float64 {
	length := (opts.MinDuration + opts.MaxDuration) / 2
	return min(length, sourceDuration)
}

// Windows tiles the source with fixed-length windows and scores each one by
// the mean of the frame scores that fall inside it. Windows without frames
// are skipped.
func Windows(scores []FrameScore, sourceDuration float64, opts models.AnalysisOptions) []RawCandidate {
	length := WindowLength(sourceDuration, opts)
	if length <= 0 {
		return nil
	}

	var candidates []RawCandidate
	for start := 0.0; start < sourceDuration; start += length {
		end := min(start+length, sourceDuration)

		inside := lo.Filter(scores, func(fs FrameScore, _ int) bool {
			return fs.Time >= start && fs.Time < end
		})
		if len(inside) == 0 {
			continue
		}

		mean := lo.SumBy(inside, func(fs FrameScore) float64 { return fs.Score }) / float64(len(inside))
		best := lo.MaxBy(inside, func(a, b FrameScore) bool { return a.Score > b.Score })

		candidates = append(candidates, RawCandidate{
			StartTime:      num(start),
			EndTime:        num(end),
			Title:          ptr(windowTitle(start, best.Label)),
			Reason:         best.Label,
			Score:          num(mean),
			EngagementType: "visual",
		})
	}
	return candidates
}

func windowTitle(start float64, label string) string {
	ts := fmt.Sprintf("%02d:%02d", int(start)/60, int(start)%60)
	if label == "" {
		return "Moment at " + ts
	}
	return fmt.Sprintf("%s (%s)", label, ts)
}
