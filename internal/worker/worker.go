// Package worker consumes queued projects and runs the clip pipeline:
// acquire, transcribe, analyze, then materialize every candidate for every
// target platform.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/analyzer"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/metrics"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/queue"
	"github.com/bobarin/clipforge/internal/quota"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/bobarin/clipforge/internal/transcription"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the part of the project store the worker writes to.
type Store interface {
	quota.UsageStore

	Now() time.Time
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	SetProjectSource(ctx context.Context, id uuid.UUID, meta *models.SourceMetadata) error
	SaveTranscript(ctx context.Context, t *models.Transcript) error
	CreateCandidates(ctx context.Context, candidates []models.ClipCandidate) error
	CreateClipAsset(ctx context.Context, asset *models.ClipAsset) error
	CompleteProject(ctx context.Context, id uuid.UUID) (bool, error)
	FailProject(ctx context.Context, id uuid.UUID, message, detail string) (bool, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateJobError(ctx context.Context, id uuid.UUID, errorMessage string) error

	FindExpiredProjects(ctx context.Context, now time.Time, limit int) ([]models.Project, error)
	GetProjectClipAssets(ctx context.Context, projectID uuid.UUID) ([]models.ClipAsset, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
}

type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

type ClipAnalyzer interface {
	Analyze(ctx context.Context, in analyzer.Input, opts models.AnalysisOptions) ([]models.ClipCandidate, error)
}

type Renderer interface {
	Registry() *materializer.Registry
	ExtractAudio(ctx context.Context, source, output string) error
	Materialize(ctx context.Context, sourceFile string, candidate models.ClipCandidate, platformName string, opts materializer.Options) (*materializer.Result, error)
}

// ProbeFunc inspects a local media file; uploads have no downloader metadata.
type ProbeFunc func(ctx context.Context, path string) (*media.ProbeResult, error)

type Config struct {
	ScratchDir             string
	MaxParallelClips       int
	MaterializeMaxAttempts int
	MaterializeRetryDelay  time.Duration
	MaterializeTimeout     time.Duration // per attempt; zero means none
	AnalysisTimeout        time.Duration // zero means none
	CaptionPosition        string
	DequeueTimeout         time.Duration
	RetentionBatchSize     int
}

type Deps struct {
	Store       Store
	Queue       JobSource
	Gateway     acquisition.Gateway
	Transcriber transcription.Transcriber
	Analyzer    ClipAnalyzer
	Renderer    Renderer
	Storage     storage.Store
	Probe       ProbeFunc
	Metrics     *metrics.Metrics
}

type Worker struct {
	Deps
	cfg    Config
	quota  *quota.Tracker
	logger *zap.Logger
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxParallelClips < 1 {
		cfg.MaxParallelClips = 1
	}
	if cfg.MaterializeMaxAttempts < 1 {
		cfg.MaterializeMaxAttempts = 1
	}
	if cfg.MaterializeRetryDelay <= 0 {
		cfg.MaterializeRetryDelay = time.Second
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if cfg.RetentionBatchSize <= 0 {
		cfg.RetentionBatchSize = 100
	}
	return &Worker{
		Deps:   deps,
		cfg:    cfg,
		quota:  quota.NewTracker(deps.Store),
		logger: logging.Component(logger, "worker"),
	}
}

// Start runs concurrency queue consumers until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.logger.Info("worker started", zap.Int("concurrency", concurrency))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx, queue.QueueProcessProject, w.handleProcessProject)
		}()
	}

	<-ctx.Done()
	w.logger.Info("worker shutting down")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.Queue.Dequeue(ctx, queueName, w.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.String("queue", queueName), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.runJob(ctx, job, handler)
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job, handler func(context.Context, *queue.Job) error) {
	logger := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("project_id", job.ProjectID.String()))
	logger.Info("processing job", zap.String("type", job.Type))

	if err := w.Store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		logger.Warn("failed to update job status", zap.Error(err))
	}

	// Job bookkeeping must land even when ctx was cancelled mid-run.
	bg := context.WithoutCancel(ctx)
	if err := handler(ctx, job); err != nil {
		logger.Error("job failed", zap.Error(err))
		if err := w.Store.UpdateJobError(bg, job.ID, err.Error()); err != nil {
			logger.Warn("failed to record job error", zap.Error(err))
		}
		return
	}

	logger.Info("job completed")
	if err := w.Store.UpdateJobStatus(bg, job.ID, models.JobStatusSucceeded); err != nil {
		logger.Warn("failed to update job status", zap.Error(err))
	}
}

func (w *Worker) handleProcessProject(ctx context.Context, job *queue.Job) error {
	return w.ProcessProject(ctx, job.ProjectID)
}
