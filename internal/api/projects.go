package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/analyzer"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/db"
	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/queue"
	"github.com/bobarin/clipforge/internal/quota"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	platform, err := acquisition.CheckPlatform(req.SourceURL, h.opts.RequireKnownPlatform)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	project, err := newProject(uuid.New(), req.ProjectSettings)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	project.SourceOrigin = models.SourceOriginURL
	project.SourceURL = lo.ToPtr(req.SourceURL)
	project.Platform = platform

	h.start(w, r, project)
}

// newProject builds a processing project from the shared settings. Missing
// analysis options take the analyzer defaults.
func newProject(id uuid.UUID, s models.ProjectSettings) (*models.Project, error) {
	opts := analyzer.WithDefaults(models.AnalysisOptions{
		MinDuration: lo.FromPtr(s.MinDuration),
		MaxDuration: lo.FromPtr(s.MaxDuration),
		MaxClips:    lo.FromPtr(s.MaxClips),
		MinScore:    lo.FromPtr(s.MinScore),
	})
	if opts.MinDuration > opts.MaxDuration {
		return nil, apperrors.NewValidation("min_duration", "must not exceed max_duration (%g > %g)", opts.MinDuration, opts.MaxDuration)
	}

	platforms := lo.Uniq(lo.Compact(s.Platforms))
	if len(platforms) == 0 {
		platforms = []string{materializer.DefaultPlatform}
	}

	return &models.Project{
		ID:              id,
		AccountID:       s.AccountID,
		Plan:            quota.PlanFor(s.Plan).Name,
		Title:           s.Title,
		ContentType:     s.ContentType,
		Language:        s.Language,
		Platform:        models.PlatformOther,
		TargetPlatforms: pq.StringArray(platforms),
		CaptionMode:     lo.Ternary(s.CaptionMode == "", models.CaptionModeBurn, models.CaptionMode(s.CaptionMode)),
		Options:         opts,
	}, nil
}

// start reserves a video from the allowance, stores the project and queues
// its run.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, project *models.Project) {
	ctx := r.Context()

	if _, err := h.quota.Admit(ctx, project.AccountID, project.Plan); err != nil {
		h.respondErr(w, err)
		return
	}

	if err := h.Store.CreateProject(ctx, project); err != nil {
		h.release(ctx, project)
		h.respondErr(w, err)
		return
	}

	job := &models.Job{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Type:      queue.JobTypeProcessProject,
		Status:    models.JobStatusQueued,
	}
	if err := h.Store.CreateJob(ctx, job); err != nil {
		h.abandon(ctx, project, err)
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.Queue.EnqueueProcessProject(ctx, project.ID, job.ID); err != nil {
		h.abandon(ctx, project, err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	h.logger.Info("project queued",
		zap.String("project_id", project.ID.String()),
		zap.String("origin", string(project.SourceOrigin)),
		zap.Strings("platforms", project.TargetPlatforms),
	)

	respondJSON(w, http.StatusCreated, models.CreateProjectResponse{
		ProjectID:         project.ID,
		Status:            project.Status,
		RetentionDeadline: project.RetentionDeadline,
	})
}

// abandon fails a project that never reached the queue so it does not sit
// in processing forever, and returns its video to the allowance.
func (h *Handler) abandon(ctx context.Context, project *models.Project, cause error) {
	id := project.ID.String()
	h.logger.Error("failed to queue project", zap.String("project_id", id), zap.Error(cause))
	ok, err := h.Store.FailProject(context.WithoutCancel(ctx), project.ID, "failed to queue project", cause.Error())
	if err != nil {
		h.logger.Error("failed to mark project failed", zap.String("project_id", id), zap.Error(err))
		return
	}
	if ok {
		h.release(ctx, project)
	}
}

func (h *Handler) release(ctx context.Context, project *models.Project) {
	if err := h.quota.Release(context.WithoutCancel(ctx), project.AccountID, 1, 0); err != nil {
		h.logger.Error("failed to release video", zap.String("project_id", project.ID.String()), zap.Error(err))
	}
}

// ListProjects handles GET /v1/projects
// Query params:
//   - status: processing, completed or failed
//   - account_id: only this account's projects
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.ProjectFilter{Limit: 20}

	if s := q.Get("status"); s != "" {
		switch status := models.ProjectStatus(s); status {
		case models.ProjectStatusProcessing, models.ProjectStatusCompleted, models.ProjectStatusFailed:
			filter.Status = status
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: processing, completed, failed")
			return
		}
	}
	if a := q.Get("account_id"); a != "" {
		id, err := uuid.Parse(a)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid account_id")
			return
		}
		filter.AccountID = &id
	}
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = min(parsed, 100)
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	total, err := h.Store.CountProjects(r.Context(), filter)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	projects, err := h.Store.ListProjects(r.Context(), filter)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.ListProjectsResponse{
		Projects: lo.Ternary(projects == nil, []models.Project{}, projects),
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	project, err := h.Store.GetProject(ctx, projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	candidates, err := h.Store.GetProjectCandidates(ctx, projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	assets, err := h.Store.GetProjectClipAssets(ctx, projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	response := models.ProjectResponse{
		Project:    *project,
		Candidates: lo.Ternary(candidates == nil, []models.ClipCandidate{}, candidates),
		Assets:     h.buildAssetResponses(ctx, assets),
	}

	transcript, err := h.Store.GetTranscript(ctx, projectID)
	switch {
	case err == nil:
		response.Transcript = &models.TranscriptSummary{
			Language:     transcript.Language,
			Duration:     transcript.Duration,
			SegmentCount: len(transcript.Segments),
		}
	case !apperrors.IsNotFound(err):
		h.respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) buildAssetResponses(ctx context.Context, assets []models.ClipAsset) []models.ClipAssetResponse {
	return lo.Map(assets, func(a models.ClipAsset, _ int) models.ClipAssetResponse {
		return models.ClipAssetResponse{
			ClipAsset:    a,
			VideoURL:     h.signedURL(ctx, a.VideoPath),
			ThumbnailURL: h.signedURL(ctx, a.ThumbnailPath),
			CaptionURL:   h.signedURL(ctx, a.CaptionPath),
		}
	})
}

func (h *Handler) signedURL(ctx context.Context, path *string) *string {
	if path == nil {
		return nil
	}
	url, err := h.Storage.GetSignedURL(ctx, *path, signedURLTTL)
	if err != nil {
		h.logger.Warn("failed to sign asset url", zap.String("path", *path), zap.Error(err))
		return nil
	}
	return &url
}

// SaveProject handles POST /v1/projects/{id}/save
func (h *Handler) SaveProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Store.SaveProject(r.Context(), projectID); err != nil {
		h.respondErr(w, err)
		return
	}
	project, err := h.Store.GetProject(r.Context(), projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// DeleteProject handles DELETE /v1/projects/{id}. Stored objects go first;
// the row is only removed once they are gone.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	project, err := h.Store.GetProject(ctx, projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if !project.Status.IsTerminal() {
		respondError(w, http.StatusConflict, "Project is still processing")
		return
	}

	assets, err := h.Store.GetProjectClipAssets(ctx, projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if paths := storage.ObjectPaths(project, assets); len(paths) > 0 {
		if err := h.Storage.Delete(ctx, paths...); err != nil {
			h.respondErr(w, err)
			return
		}
	}
	if err := h.Store.DeleteProject(ctx, projectID); err != nil {
		h.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetProjectJobs handles GET /v1/projects/{id}/jobs
func (h *Handler) GetProjectJobs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	jobs, err := h.Store.GetProjectJobs(r.Context(), projectID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lo.Ternary(jobs == nil, []models.Job{}, jobs))
}

// GetClipCaptions handles GET /v1/projects/{id}/clips/{clipId}/captions
func (h *Handler) GetClipCaptions(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	clipID, ok := parseID(w, r, "clipId")
	if !ok {
		return
	}

	asset, err := h.Store.GetClipAsset(r.Context(), projectID, clipID)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if asset.CaptionPath == nil {
		h.respondErr(w, apperrors.NewNotFound("captions for clip", clipID))
		return
	}

	data, err := h.Storage.Download(r.Context(), *asset.CaptionPath)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
