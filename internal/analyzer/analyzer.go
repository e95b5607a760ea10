// Package analyzer proposes clip candidates for a source and applies the
// acceptance rules every strategy's output has to pass.
package analyzer

import (
	"context"
	"fmt"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Defaults applied to zero-valued options.
const (
	DefaultMinDuration = 15.0
	DefaultMaxDuration = 60.0
	DefaultMaxClips    = 10
	DefaultMinScore    = 60.0
)

// Input is everything a strategy may look at.
type Input struct {
	ProjectID      uuid.UUID
	Transcript     *models.Transcript
	SourcePath     string
	SourceDuration float64
	Title          string
	ContentType    string
	Language       string
}

// Strategy proposes raw candidates. Its output is untrusted: Analyzer filters
// it before anything is returned.
type Strategy interface {
	Name() string
	Propose(ctx context.Context, in Input, opts models.AnalysisOptions) ([]RawCandidate, error)
}

type Analyzer struct {
	strategy Strategy
	logger   *zap.Logger
}

func New(strategy Strategy, logger *zap.Logger) *Analyzer {
	return &Analyzer{strategy: strategy, logger: logging.Component(logger, "analyzer")}
}

// Strategy returns the name of the configured strategy.
func (a *Analyzer) Strategy() string { return a.strategy.Name() }

// WithDefaults fills zero-valued options.
func WithDefaults(opts models.AnalysisOptions) models.AnalysisOptions {
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.MaxClips <= 0 {
		opts.MaxClips = DefaultMaxClips
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	return opts
}

// Analyze runs the strategy and returns accepted candidates, best first.
// An empty result is not an error.
func (a *Analyzer) Analyze(ctx context.Context, in Input, opts models.AnalysisOptions) ([]models.ClipCandidate, error) {
	opts = WithDefaults(opts)
	if opts.MinDuration > opts.MaxDuration {
		return nil, apperrors.NewValidation("min_duration", "must not exceed max_duration (%g > %g)", opts.MinDuration, opts.MaxDuration)
	}
	if in.SourceDuration <= 0 {
		return nil, apperrors.NewValidation("source_duration", "must be positive")
	}

	raw, err := a.strategy.Propose(ctx, in, opts)
	if err != nil {
		return nil, fmt.Errorf("%s analysis failed: %w", a.strategy.Name(), err)
	}

	accepted, report := Filter(raw, in.SourceDuration, opts)
	for i := range accepted {
		accepted[i].ID = uuid.New()
		accepted[i].ProjectID = in.ProjectID
	}

	a.logger.Info("analysis finished",
		zap.String("strategy", a.strategy.Name()),
		zap.String("project_id", in.ProjectID.String()),
		zap.Int("proposed", len(raw)),
		zap.Int("accepted", len(accepted)),
		zap.Int("dropped_missing", report.Missing),
		zap.Int("dropped_bounds", report.OutOfBounds),
		zap.Int("dropped_duration", report.BadDuration),
		zap.Int("dropped_score", report.BelowScore),
		zap.Int("truncated", report.Truncated),
	)

	return accepted, nil
}

// FilterReport counts why candidates were dropped.
type FilterReport struct {
	Missing     int
	OutOfBounds int
	BadDuration int
	BelowScore  int
	Truncated   int
}

// Filter applies the acceptance rules in order: required fields, timeline
// bounds, duration range, minimum score; then clamps scores to [0,100],
// sorts best first (stable) and truncates to MaxClips. Ranks start at 1.
func Filter(raw []RawCandidate, sourceDuration float64, opts models.AnalysisOptions) ([]models.ClipCandidate, FilterReport) {
	var report FilterReport

	kept := lo.FilterMap(raw, func(rc RawCandidate, _ int) (models.ClipCandidate, bool) {
		if !rc.complete() {
			report.Missing++
			return models.ClipCandidate{}, false
		}

		start, end, score := float64(*rc.StartTime), float64(*rc.EndTime), float64(*rc.Score)
		if start < 0 || end > sourceDuration || start >= end {
			report.OutOfBounds++
			return models.ClipCandidate{}, false
		}
		if d := end - start; d < opts.MinDuration || d > opts.MaxDuration {
			report.BadDuration++
			return models.ClipCandidate{}, false
		}
		if score < opts.MinScore {
			report.BelowScore++
			return models.ClipCandidate{}, false
		}

		return models.ClipCandidate{
			StartTime:      start,
			EndTime:        end,
			Title:          *rc.Title,
			Rationale:      rc.Reason,
			Score:          lo.Clamp(score, 0, 100),
			EngagementType: rc.EngagementType,
			ContentTags:    lo.Compact(rc.ContentTags),
			HasSetup:       rc.HasSetup,
			HasPayoff:      rc.HasPayoff,
		}, true
	})

	sortByScore(kept)

	if len(kept) > opts.MaxClips {
		report.Truncated = len(kept) - opts.MaxClips
		kept = kept[:opts.MaxClips]
	}
	for i := range kept {
		kept[i].Rank = i + 1
	}

	return kept, report
}
