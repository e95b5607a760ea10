package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Enums
type ProjectStatus string

const (
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed
}

type SourceOrigin string

const (
	SourceOriginURL    SourceOrigin = "url"
	SourceOriginUpload SourceOrigin = "upload"
)

type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTwitch    Platform = "twitch"
	PlatformKick      Platform = "kick"
	PlatformRumble    Platform = "rumble"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformVimeo     Platform = "vimeo"
	PlatformOther     Platform = "other"
)

type ClipStatus string

const (
	ClipStatusRendered ClipStatus = "rendered"
	ClipStatusFailed   ClipStatus = "failed"
)

type CaptionMode string

const (
	CaptionModeNone   CaptionMode = "none"
	CaptionModeBurn   CaptionMode = "burn"
	CaptionModeAttach CaptionMode = "attach"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return json.Unmarshal(data, j)
}

// jsonColumn stores any JSON-serializable value in a JSONB column.
type jsonColumn[T any] struct{ V *T }

// JSONColumn wraps a pointer for use as a query argument or Scan target.
func JSONColumn[T any](v *T) jsonColumn[T] { return jsonColumn[T]{V: v} }

func (c jsonColumn[T]) Value() (driver.Value, error) {
	if c.V == nil {
		return nil, nil
	}
	return json.Marshal(c.V)
}

func (c jsonColumn[T]) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON source type %T", value)
	}
	return json.Unmarshal(data, c.V)
}

// Models

// SourceMetadata is what acquisition learns about a source, from the
// downloader's JSON dump, the remote worker, or ffprobe.
type SourceMetadata struct {
	Title      string   `json:"title,omitempty"`
	Uploader   string   `json:"uploader,omitempty"`
	Duration   float64  `json:"duration"` // seconds
	Width      int      `json:"width,omitempty"`
	Height     int      `json:"height,omitempty"`
	VideoCodec string   `json:"video_codec,omitempty"`
	AudioCodec string   `json:"audio_codec,omitempty"`
	Container  string   `json:"container,omitempty"`
	Platform   Platform `json:"platform"`
	SourceID   string   `json:"source_id,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
}

// SourceVideo is immutable once resolved.
type SourceVideo struct {
	Origin    SourceOrigin   `json:"origin"`
	URL       string         `json:"url,omitempty"`
	LocalPath string         `json:"-"`
	Metadata  SourceMetadata `json:"metadata"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	ProjectID uuid.UUID `json:"project_id"`
	Language  string    `json:"language"`
	FullText  string    `json:"full_text"`
	Duration  float64   `json:"duration"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
}

type ClipCandidate struct {
	ID             uuid.UUID      `json:"id"`
	ProjectID      uuid.UUID      `json:"project_id"`
	Rank           int            `json:"rank"`
	StartTime      float64        `json:"start_time"`
	EndTime        float64        `json:"end_time"`
	Title          string         `json:"title"`
	Rationale      string         `json:"rationale"`
	Score          float64        `json:"engagement_score"`
	EngagementType string         `json:"engagement_type,omitempty"`
	ContentTags    pq.StringArray `json:"content_tags"`
	HasSetup       bool           `json:"has_setup"`
	HasPayoff      bool           `json:"has_payoff"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Duration is derived, never stored.
func (c ClipCandidate) Duration() float64 {
	return c.EndTime - c.StartTime
}

// ClipAsset is one rendered (candidate, platform) pair.
type ClipAsset struct {
	ID                 uuid.UUID  `json:"id"`
	ProjectID          uuid.UUID  `json:"project_id"`
	CandidateID        uuid.UUID  `json:"candidate_id"`
	Platform           string     `json:"platform"`
	Status             ClipStatus `json:"status"`
	StorageBucket      string     `json:"storage_bucket,omitempty"`
	VideoPath          *string    `json:"video_path,omitempty"`
	ThumbnailPath      *string    `json:"thumbnail_path,omitempty"`
	CaptionPath        *string    `json:"caption_path,omitempty"`
	ByteSize           *int64     `json:"byte_size,omitempty"`
	RenderedDurationMs *int       `json:"rendered_duration_ms,omitempty"`
	EncodeParams       JSONB      `json:"encode_params,omitempty"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Cue struct {
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Lines []string `json:"lines"`
}

// CaptionTrack cues are relative to the clip's own timeline.
type CaptionTrack struct {
	Position string `json:"position,omitempty"`
	Cues     []Cue  `json:"cues"`
}

// AnalysisOptions are the per-project knobs handed to the analyzer.
type AnalysisOptions struct {
	MinDuration float64 `json:"min_duration"`
	MaxDuration float64 `json:"max_duration"`
	MaxClips    int     `json:"max_clips"`
	MinScore    float64 `json:"min_score"`
}

type Project struct {
	ID                    uuid.UUID       `json:"id"`
	AccountID             uuid.UUID       `json:"account_id"`
	Plan                  string          `json:"plan"`
	Title                 *string         `json:"title,omitempty"`
	ContentType           *string         `json:"content_type,omitempty"` // "podcast", "stream", "tutorial", ...
	Language              *string         `json:"language,omitempty"`     // ISO 639-1, nil = autodetect
	SourceOrigin          SourceOrigin    `json:"source_origin"`
	SourceURL             *string         `json:"source_url,omitempty"`
	SourceStoragePath     *string         `json:"-"` // upload origin: object key of the uploaded file
	Platform              Platform        `json:"platform"`
	Source                *SourceMetadata `json:"source,omitempty"`
	TargetPlatforms       pq.StringArray  `json:"target_platforms"`
	CaptionMode           CaptionMode     `json:"caption_mode"`
	Options               AnalysisOptions `json:"options"`
	Status                ProjectStatus   `json:"status"`
	RetentionDeadline     *time.Time      `json:"retention_deadline,omitempty"`
	Saved                 bool            `json:"saved"`
	SavedAt               *time.Time      `json:"saved_at,omitempty"`
	ErrorMessage          *string         `json:"error_message,omitempty"`
	ErrorDetail           *string         `json:"-"`
	ProcessingStartedAt   *time.Time      `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time      `json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// UsageCounter is one account's consumption in one calendar month.
type UsageCounter struct {
	ID              uuid.UUID `json:"id"`
	AccountID       uuid.UUID `json:"account_id"`
	Year            int       `json:"year"`
	Month           int       `json:"month"`
	VideosProcessed int       `json:"videos_processed"`
	ClipsGenerated  int       `json:"clips_generated"`
	StorageUsedMB   float64   `json:"storage_used_mb"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API requests and responses

// ProjectSettings are the fields shared by URL and upload project creation.
type ProjectSettings struct {
	AccountID   uuid.UUID `json:"account_id" validate:"required"`
	Plan        string    `json:"plan" validate:"omitempty,oneof=free pro business"`
	Title       *string   `json:"title,omitempty" validate:"omitempty,max=300"`
	ContentType *string   `json:"content_type,omitempty" validate:"omitempty,max=50"`
	Language    *string   `json:"language,omitempty" validate:"omitempty,len=2"`
	Platforms   []string  `json:"platforms,omitempty" validate:"omitempty,max=6,dive,required"`
	CaptionMode string    `json:"caption_mode,omitempty" validate:"omitempty,oneof=none burn attach"`
	MinDuration *float64  `json:"min_duration,omitempty" validate:"omitempty,gt=0"`
	MaxDuration *float64  `json:"max_duration,omitempty" validate:"omitempty,gt=0"`
	MaxClips    *int      `json:"max_clips,omitempty" validate:"omitempty,min=1,max=50"`
	MinScore    *float64  `json:"min_score,omitempty" validate:"omitempty,gt=0,max=100"`
}

type CreateProjectRequest struct {
	ProjectSettings
	SourceURL string `json:"source_url" validate:"required,url"`
}

type ProbeRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type CreateProjectResponse struct {
	ProjectID         uuid.UUID     `json:"project_id"`
	Status            ProjectStatus `json:"status"`
	RetentionDeadline *time.Time    `json:"retention_deadline,omitempty"`
}

type ClipAssetResponse struct {
	ClipAsset
	VideoURL     *string `json:"video_url,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	CaptionURL   *string `json:"caption_url,omitempty"`
}

type ProjectResponse struct {
	Project
	Candidates []ClipCandidate     `json:"candidates"`
	Assets     []ClipAssetResponse `json:"assets"`
	Transcript *TranscriptSummary  `json:"transcript,omitempty"`
}

type TranscriptSummary struct {
	Language     string  `json:"language"`
	Duration     float64 `json:"duration"`
	SegmentCount int     `json:"segment_count"`
}

type ListProjectsResponse struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}
