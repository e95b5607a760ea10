package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to disk.
const multipartMemory = 32 << 20

// UploadProject handles POST /v1/projects/upload. The form carries a "file"
// part plus the same settings as the JSON body, as form values.
func (h *Handler) UploadProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	settings, err := settingsFromForm(r.MultipartForm.Value)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if err := h.check(&settings); err != nil {
		h.respondErr(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondErr(w, apperrors.NewValidation("file", "is required"))
		return
	}
	defer file.Close()
	if header.Size == 0 {
		h.respondErr(w, apperrors.NewValidation("file", "is empty"))
		return
	}

	project, err := newProject(uuid.New(), settings)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if project.Title == nil {
		project.Title = lo.ToPtr(strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename)))
	}
	project.SourceOrigin = models.SourceOriginUpload

	key := storage.UploadPath(project.ID, header.Filename)
	if err := h.storeUpload(r, file, key); err != nil {
		h.respondErr(w, err)
		return
	}
	project.SourceStoragePath = &key

	h.logger.Info("upload stored",
		zap.String("project_id", project.ID.String()),
		zap.String("key", key),
		zap.Int64("bytes", header.Size),
	)
	h.start(w, r, project)
}

// storeUpload spools the part to a temp file so the storage client can retry
// from disk.
func (h *Handler) storeUpload(r *http.Request, file multipart.File, key string) error {
	tmp, err := os.CreateTemp(h.opts.UploadDir, "upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return h.Storage.UploadFile(r.Context(), key, tmp.Name(), storage.ContentType(key))
}

// settingsFromForm reads ProjectSettings from form values. Platforms may be
// repeated or comma separated.
func settingsFromForm(form map[string][]string) (models.ProjectSettings, error) {
	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	var s models.ProjectSettings

	if v := get("account_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return s, apperrors.NewValidation("account_id", "must be a UUID")
		}
		s.AccountID = id
	}
	s.Plan = get("plan")
	s.CaptionMode = get("caption_mode")
	s.Title = optional(get("title"))
	s.ContentType = optional(get("content_type"))
	s.Language = optional(get("language"))

	for _, v := range form["platforms"] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.Platforms = append(s.Platforms, p)
			}
		}
	}

	var err error
	if s.MinDuration, err = optionalFloat("min_duration", get("min_duration")); err != nil {
		return s, err
	}
	if s.MaxDuration, err = optionalFloat("max_duration", get("max_duration")); err != nil {
		return s, err
	}
	if s.MinScore, err = optionalFloat("min_score", get("min_score")); err != nil {
		return s, err
	}
	if v := get("max_clips"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, apperrors.NewValidation("max_clips", "must be an integer")
		}
		s.MaxClips = &n
	}
	return s, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func optionalFloat(field, v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, apperrors.NewValidation(field, "must be a number")
	}
	return &f, nil
}
