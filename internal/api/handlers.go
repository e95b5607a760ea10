package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/db"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/quota"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// signedURLTTL is how long asset links in project responses stay valid.
const signedURLTTL = time.Hour

// Store is the part of the project store the API reads and writes.
type Store interface {
	quota.UsageStore

	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, filter db.ProjectFilter) ([]models.Project, error)
	CountProjects(ctx context.Context, filter db.ProjectFilter) (int, error)
	SaveProject(ctx context.Context, id uuid.UUID) error
	DeleteProject(ctx context.Context, id uuid.UUID) error
	FailProject(ctx context.Context, id uuid.UUID, message, detail string) (bool, error)

	GetProjectCandidates(ctx context.Context, projectID uuid.UUID) ([]models.ClipCandidate, error)
	GetProjectClipAssets(ctx context.Context, projectID uuid.UUID) ([]models.ClipAsset, error)
	GetClipAsset(ctx context.Context, projectID, id uuid.UUID) (*models.ClipAsset, error)
	GetTranscript(ctx context.Context, projectID uuid.UUID) (*models.Transcript, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetProjectJobs(ctx context.Context, projectID uuid.UUID) ([]models.Job, error)
}

// Enqueuer hands a project run to the worker.
type Enqueuer interface {
	EnqueueProcessProject(ctx context.Context, projectID, jobID uuid.UUID) error
}

type Deps struct {
	Store     Store
	Queue     Enqueuer
	Storage   storage.Store
	Gateway   acquisition.Gateway
	Platforms *materializer.Registry
}

type Options struct {
	RequireKnownPlatform bool
	MaxUploadBytes       int64
	UploadDir            string // temp space for multipart uploads
}

type Handler struct {
	Deps
	opts     Options
	quota    *quota.Tracker
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(deps Deps, opts Options, logger *zap.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 2 << 30
	}
	return &Handler{
		Deps:     deps,
		opts:     opts,
		quota:    quota.NewTracker(deps.Store),
		validate: newValidator(),
		logger:   logging.Component(logger, "api"),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPlatforms handles GET /v1/platforms
func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"platforms": h.Platforms.All()})
}

// GetUsage handles GET /v1/accounts/{accountId}/usage?plan=
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseID(w, r, "accountId")
	if !ok {
		return
	}

	status, err := h.quota.Check(r.Context(), accountID, r.URL.Query().Get("plan"))
	if err != nil {
		h.respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, usageResponse{Status: status, RemainingClips: status.RemainingClips()})
}

type usageResponse struct {
	quota.Status
	RemainingClips int `json:"remaining_clips"`
}

// Probe handles POST /v1/probe. It resolves metadata without downloading.
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	var req models.ProbeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := acquisition.CheckPlatform(req.URL, h.opts.RequireKnownPlatform); err != nil {
		h.respondErr(w, err)
		return
	}

	meta, err := h.Gateway.Probe(r.Context(), req.URL)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.check(dst); err != nil {
		h.respondErr(w, err)
		return false
	}
	return true
}

// check runs struct validation and turns the first failure into a
// ValidationError.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed on the '%s' tag", fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		return apperrors.NewValidation(fe.Field(), "%s", msg)
	}
	return err
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps err onto a status. Internal errors are logged and never
// echoed.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("request failed", zap.Error(err))
		respondError(w, status, "Internal server error")
	case http.StatusBadGateway:
		h.logger.Warn("upstream failed", zap.Error(err))
		respondError(w, status, apperrors.UserMessage(err))
	default:
		respondError(w, status, err.Error())
	}
}
