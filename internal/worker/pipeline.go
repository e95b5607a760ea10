package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/analyzer"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/captions"
	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/retry"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/bobarin/clipforge/internal/transcription"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ClipOutcome is the result of one (candidate, platform) materialization.
type ClipOutcome struct {
	Candidate models.ClipCandidate
	Platform  string
	Asset     *models.ClipAsset
	Err       error
}

// Report summarizes a finished pipeline run.
type Report struct {
	Candidates  int
	Outcomes    []ClipOutcome
	StoredBytes int64
	// ReservedClips is the clip allowance taken for this run.
	ReservedClips int
}

func (r *Report) Rendered() int {
	return lo.CountBy(r.Outcomes, func(o ClipOutcome) bool { return o.Err == nil })
}

// ProcessProject runs the whole pipeline for one project and moves it to a
// terminal state. Download, transcription and analysis failures fail the
// project; a failing clip only yields a failed asset.
func (w *Worker) ProcessProject(ctx context.Context, projectID uuid.UUID) error {
	project, err := w.Store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	logger := w.logger.With(zap.String("project_id", projectID.String()))
	if project.Status.IsTerminal() {
		logger.Info("project already finished, skipping", zap.String("status", string(project.Status)))
		return nil
	}

	defer w.Metrics.TrackInFlight()()

	scratch := filepath.Join(w.cfg.ScratchDir, projectID.String())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch dir", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	started := time.Now()
	report := &Report{}
	if err := w.run(ctx, logger, project, scratch, report); err != nil {
		w.fail(ctx, logger, project, report, err)
		return err
	}

	// Usage is settled even when ctx is winding down; the work is done.
	bg := context.WithoutCancel(ctx)
	if unused := report.ReservedClips - report.Rendered(); unused > 0 {
		if err := w.quota.Release(bg, project.AccountID, 0, unused); err != nil {
			logger.Error("failed to release unused clips", zap.Error(err))
		}
	}
	if err := w.quota.RecordStorage(bg, project.AccountID, report.StoredBytes); err != nil {
		logger.Error("failed to record usage", zap.Error(err))
	}

	ok, err := w.Store.CompleteProject(bg, project.ID)
	if err != nil {
		return fmt.Errorf("failed to complete project: %w", err)
	}
	if ok {
		w.Metrics.ProjectFinished(string(models.ProjectStatusCompleted))
	}

	logger.Info("project completed",
		zap.Int("candidates", report.Candidates),
		zap.Int("rendered", report.Rendered()),
		zap.Int("failed", len(report.Outcomes)-report.Rendered()),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// fail marks the project failed and hands back the video reserved at
// admission together with any clips reserved by the run.
func (w *Worker) fail(ctx context.Context, logger *zap.Logger, project *models.Project, report *Report, cause error) {
	message := apperrors.UserMessage(cause)
	switch {
	case ctx.Err() != nil, errors.Is(cause, context.Canceled):
		message = "processing cancelled"
	case errors.Is(cause, context.DeadlineExceeded):
		message = "processing timed out"
	}
	logger.Error("project failed", zap.String("message", message), zap.Error(cause))

	bg := context.WithoutCancel(ctx)
	ok, err := w.Store.FailProject(bg, project.ID, message, apperrors.Diagnostic(cause))
	if err != nil {
		logger.Error("failed to mark project failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	w.Metrics.ProjectFinished(string(models.ProjectStatusFailed))
	if err := w.quota.Release(bg, project.AccountID, 1, report.ReservedClips); err != nil {
		logger.Error("failed to release usage", zap.Error(err))
	}
}

func (w *Worker) run(ctx context.Context, logger *zap.Logger, project *models.Project, scratch string, report *Report) error {
	// Stage 1: acquisition.
	source, err := stage(w, "acquire", func() (*models.SourceVideo, error) {
		return w.acquire(ctx, project, scratch)
	})
	if err != nil {
		return err
	}
	if err := w.Store.SetProjectSource(ctx, project.ID, &source.Metadata); err != nil {
		return err
	}
	logger.Info("source acquired", zap.String("title", source.Metadata.Title), zap.Float64("duration", source.Metadata.Duration))
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 2: transcription.
	transcript, err := stage(w, "transcribe", func() (*models.Transcript, error) {
		return w.transcribe(ctx, project, source, scratch)
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 3: analysis.
	candidates, err := stage(w, "analyze", func() ([]models.ClipCandidate, error) {
		return w.analyze(ctx, project, source, transcript, report)
	})
	if err != nil {
		return err
	}
	w.Metrics.CandidatesFound(len(candidates))

	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		logger.Info("no candidates passed validation")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 4: materialization, bounded per project.
	started := time.Now()
	report.Outcomes = w.materializeAll(ctx, logger, project, source, transcript, candidates, scratch)
	w.Metrics.ObserveStage("materialize", started, nil)

	report.StoredBytes = lo.SumBy(report.Outcomes, func(o ClipOutcome) int64 {
		if o.Asset == nil || o.Asset.ByteSize == nil {
			return 0
		}
		return *o.Asset.ByteSize
	})
	return nil
}

// withTimeout bounds ctx by d; a zero d leaves it as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// stage times fn under name.
func stage[T any](w *Worker, name string, fn func() (T, error)) (T, error) {
	started := time.Now()
	v, err := fn()
	w.Metrics.ObserveStage(name, started, err)
	return v, err
}

func (w *Worker) acquire(ctx context.Context, project *models.Project, scratch string) (*models.SourceVideo, error) {
	dir := filepath.Join(scratch, "source")

	switch project.SourceOrigin {
	case models.SourceOriginUpload:
		if project.SourceStoragePath == nil {
			return nil, apperrors.NewValidation("source", "upload has no stored file")
		}
		local := filepath.Join(dir, filepath.Base(*project.SourceStoragePath))
		if err := w.Storage.DownloadToFile(ctx, *project.SourceStoragePath, local); err != nil {
			return nil, err
		}
		probe, err := w.Probe(ctx, local)
		if err != nil {
			return nil, err
		}
		meta := probe.Metadata(local, models.PlatformOther)
		if project.Title != nil {
			meta.Title = *project.Title
		}
		return &models.SourceVideo{Origin: models.SourceOriginUpload, LocalPath: local, Metadata: meta}, nil

	default:
		if project.SourceURL == nil || *project.SourceURL == "" {
			return nil, apperrors.NewValidation("source_url", "is required")
		}
		res, err := w.Gateway.Resolve(ctx, *project.SourceURL, acquisition.Options{OutputDir: dir})
		if err != nil {
			return nil, err
		}
		meta := res.Metadata
		if meta.Duration <= 0 && w.Probe != nil {
			// Remote workers do not always report a duration.
			probe, err := w.Probe(ctx, res.FilePath)
			if err != nil {
				return nil, err
			}
			meta.Duration = probe.Duration
			meta.Width, meta.Height = probe.Width, probe.Height
			meta.VideoCodec, meta.AudioCodec = probe.VideoCodec, probe.AudioCodec
		}
		return &models.SourceVideo{Origin: models.SourceOriginURL, URL: *project.SourceURL, LocalPath: res.FilePath, Metadata: meta}, nil
	}
}

func (w *Worker) transcribe(ctx context.Context, project *models.Project, source *models.SourceVideo, scratch string) (*models.Transcript, error) {
	audio := filepath.Join(scratch, "audio.mp3")
	if err := w.Renderer.ExtractAudio(ctx, source.LocalPath, audio); err != nil {
		return nil, err
	}
	defer os.Remove(audio)

	transcript, err := w.Transcriber.Transcribe(ctx, audio, transcription.Options{Language: lo.FromPtr(project.Language)})
	if err != nil {
		return nil, err
	}
	transcript.ProjectID = project.ID
	if transcript.Duration <= 0 {
		transcript.Duration = source.Metadata.Duration
	}
	if err := w.Store.SaveTranscript(ctx, transcript); err != nil {
		return nil, err
	}
	return transcript, nil
}

func (w *Worker) analyze(ctx context.Context, project *models.Project, source *models.SourceVideo, transcript *models.Transcript, report *Report) ([]models.ClipCandidate, error) {
	in := analyzer.Input{
		ProjectID:      project.ID,
		Transcript:     transcript,
		SourcePath:     source.LocalPath,
		SourceDuration: source.Metadata.Duration,
		Title:          lo.FromPtr(project.Title),
		ContentType:    lo.FromPtr(project.ContentType),
		Language:       transcript.Language,
	}
	if in.Title == "" {
		in.Title = source.Metadata.Title
	}

	actx, cancel := withTimeout(ctx, w.cfg.AnalysisTimeout)
	candidates, err := w.Analyzer.Analyze(actx, in, project.Options)
	cancel()
	if err != nil {
		return nil, err
	}

	// Each candidate renders once per platform; keep only the candidates
	// whose every rendition fits the clip allowance.
	platforms := len(resolvePlatforms(w.Renderer.Registry(), project.TargetPlatforms))
	candidates, report.ReservedClips, err = w.reserveClips(ctx, project, candidates, platforms)
	if err != nil {
		return nil, err
	}

	if len(candidates) > 0 {
		if err := w.Store.CreateCandidates(ctx, candidates); err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// reserveClips takes clip allowance for candidates rendered perCandidate
// times each, trims candidates to what was granted and returns the number
// of clips it holds.
func (w *Worker) reserveClips(ctx context.Context, project *models.Project, candidates []models.ClipCandidate, perCandidate int) ([]models.ClipCandidate, int, error) {
	if len(candidates) == 0 || perCandidate == 0 {
		return candidates, 0, nil
	}
	granted, err := w.quota.ReserveClips(ctx, project.AccountID, project.Plan, len(candidates)*perCandidate)
	if err != nil {
		return nil, 0, err
	}

	keep := granted / perCandidate
	reserved := keep * perCandidate
	if extra := granted - reserved; extra > 0 {
		if err := w.quota.Release(context.WithoutCancel(ctx), project.AccountID, 0, extra); err != nil {
			w.logger.Error("failed to release clips", zap.String("project_id", project.ID.String()), zap.Error(err))
		}
	}
	if keep < len(candidates) {
		w.logger.Info("trimming candidates to clip allowance",
			zap.String("project_id", project.ID.String()),
			zap.Int("candidates", len(candidates)),
			zap.Int("kept", keep),
			zap.Int("platforms", perCandidate),
		)
		candidates = candidates[:keep]
	}
	return candidates, reserved, nil
}

// materializeAll renders every (candidate, platform) pair with at most
// MaxParallelClips in flight. Goroutines never return an error, so one
// failing pair never cancels its siblings.
func (w *Worker) materializeAll(ctx context.Context, logger *zap.Logger, project *models.Project, source *models.SourceVideo, transcript *models.Transcript, candidates []models.ClipCandidate, scratch string) []ClipOutcome {
	platforms := resolvePlatforms(w.Renderer.Registry(), project.TargetPlatforms)

	outcomes := make([]ClipOutcome, 0, len(candidates)*len(platforms))
	for _, c := range candidates {
		for _, p := range platforms {
			outcomes = append(outcomes, ClipOutcome{Candidate: c, Platform: p})
		}
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.MaxParallelClips)
	for i := range outcomes {
		o := &outcomes[i]
		g.Go(func() error {
			o.Asset, o.Err = w.renderClip(ctx, project, source, transcript, o.Candidate, o.Platform, scratch)
			status := models.ClipStatusRendered
			if o.Err != nil {
				status = models.ClipStatusFailed
				logger.Warn("clip failed",
					zap.String("candidate_id", o.Candidate.ID.String()),
					zap.String("platform", o.Platform),
					zap.Error(o.Err),
				)
			}
			w.Metrics.ClipMaterialized(o.Platform, string(status))
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// resolvePlatforms maps requested names to presets, so unknown names that
// fall back to the default preset render once.
func resolvePlatforms(registry *materializer.Registry, requested []string) []string {
	names := lo.Map(lo.Compact(requested), func(name string, _ int) string {
		spec, _ := registry.Lookup(name)
		return spec.Name
	})
	if len(names) == 0 {
		return []string{materializer.DefaultPlatform}
	}
	return lo.Uniq(names)
}

// renderClip materializes one pair, uploads its files and records the asset.
// A failed render is recorded as a failed asset and returned as the error.
func (w *Worker) renderClip(ctx context.Context, project *models.Project, source *models.SourceVideo, transcript *models.Transcript, candidate models.ClipCandidate, platform, scratch string) (*models.ClipAsset, error) {
	asset := &models.ClipAsset{
		ID:            uuid.New(),
		ProjectID:     project.ID,
		CandidateID:   candidate.ID,
		Platform:      platform,
		StorageBucket: w.Storage.Bucket(),
	}

	result, err := w.materialize(ctx, project, source, transcript, candidate, platform, scratch)
	if err == nil {
		err = w.upload(ctx, project.ID, candidate.ID, platform, result, asset)
	}
	if result != nil {
		for _, f := range []string{result.VideoPath, result.ThumbnailPath, result.CaptionPath} {
			if f != "" {
				os.Remove(f)
			}
		}
	}

	if err != nil {
		asset.Status = models.ClipStatusFailed
		asset.ErrorMessage = lo.ToPtr(apperrors.UserMessage(err))
		asset.ByteSize = nil
		w.discardUploads(ctx, asset)
	} else {
		asset.Status = models.ClipStatusRendered
	}

	if recErr := w.Store.CreateClipAsset(context.WithoutCancel(ctx), asset); recErr != nil {
		w.logger.Error("failed to record clip asset", zap.String("asset_id", asset.ID.String()), zap.Error(recErr))
		if err == nil {
			err = recErr
		}
	}
	return asset, err
}

// discardUploads removes the objects a failed asset managed to upload. When
// the delete fails the keys stay on the asset, so retention still finds them.
func (w *Worker) discardUploads(ctx context.Context, asset *models.ClipAsset) {
	keys := lo.Compact([]string{lo.FromPtr(asset.VideoPath), lo.FromPtr(asset.ThumbnailPath), lo.FromPtr(asset.CaptionPath)})
	if len(keys) == 0 {
		return
	}
	if err := w.Storage.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		w.logger.Warn("failed to remove partial clip upload",
			zap.String("asset_id", asset.ID.String()),
			zap.Strings("keys", keys),
			zap.Error(err),
		)
		return
	}
	asset.VideoPath, asset.ThumbnailPath, asset.CaptionPath = nil, nil, nil
}

func (w *Worker) materialize(ctx context.Context, project *models.Project, source *models.SourceVideo, transcript *models.Transcript, candidate models.ClipCandidate, platform, scratch string) (*materializer.Result, error) {
	spec, _ := w.Renderer.Registry().Lookup(platform)

	opts := materializer.Options{
		CaptionMode: project.CaptionMode,
		OutputDir:   filepath.Join(scratch, "out", candidate.ID.String()+"_"+platform),
	}
	if project.CaptionMode != models.CaptionModeNone {
		// The caption window follows the trimmed clip, not the raw candidate.
		win := captions.Window{Start: candidate.StartTime, End: min(candidate.EndTime, candidate.StartTime+spec.MaxDuration)}
		track := captions.Format(transcript, win, captions.Options{Position: w.cfg.CaptionPosition})
		opts.Captions = &track
	}

	policy := retry.Policy{MaxRetries: w.cfg.MaterializeMaxAttempts - 1, BaseDelay: w.cfg.MaterializeRetryDelay, MaxDelay: 30 * time.Second}
	onRetry := func(attempt int, err error) {
		w.logger.Warn("materialization failed, retrying",
			zap.String("candidate_id", candidate.ID.String()),
			zap.String("platform", platform),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	var result *materializer.Result
	err := retry.Do(ctx, policy, onRetry, func(ctx context.Context) error {
		attemptCtx, cancel := withTimeout(ctx, w.cfg.MaterializeTimeout)
		defer cancel()
		var err error
		result, err = w.Renderer.Materialize(attemptCtx, source.LocalPath, candidate, platform, opts)
		var toolErr *apperrors.ExternalToolError
		if err != nil && !errors.As(err, &toolErr) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Worker) upload(ctx context.Context, projectID, candidateID uuid.UUID, platform string, result *materializer.Result, asset *models.ClipAsset) error {
	videoKey := storage.ClipPath(projectID, candidateID, platform, ".mp4")
	if err := w.Storage.UploadFile(ctx, videoKey, result.VideoPath, storage.ContentType(videoKey)); err != nil {
		return err
	}
	asset.VideoPath = &videoKey
	asset.ByteSize = lo.ToPtr(result.ByteSize)
	asset.RenderedDurationMs = lo.ToPtr(result.DurationMs)
	asset.EncodeParams = result.EncodeParams

	if result.ThumbnailPath != "" {
		key := storage.ClipPath(projectID, candidateID, platform, ".jpg")
		if err := w.Storage.UploadFile(ctx, key, result.ThumbnailPath, storage.ContentType(key)); err != nil {
			return err
		}
		asset.ThumbnailPath = &key
	}
	if result.CaptionPath != "" {
		key := storage.ClipPath(projectID, candidateID, platform, ".vtt")
		if err := w.Storage.UploadFile(ctx, key, result.CaptionPath, storage.ContentType(key)); err != nil {
			return err
		}
		asset.CaptionPath = &key
	}
	return nil
}
