package api

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/db"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu          sync.Mutex
	projects    map[uuid.UUID]*models.Project
	candidates  map[uuid.UUID][]models.ClipCandidate
	assets      map[uuid.UUID][]models.ClipAsset
	transcripts map[uuid.UUID]*models.Transcript
	jobs        []models.Job
	usage       models.UsageCounter
	filter      db.ProjectFilter
	jobErr      error
	createErr   error
}

func newMemStore() *memStore {
	return &memStore{
		projects:    map[uuid.UUID]*models.Project{},
		candidates:  map[uuid.UUID][]models.ClipCandidate{},
		assets:      map[uuid.UUID][]models.ClipAsset{},
		transcripts: map[uuid.UUID]*models.Transcript{},
	}
}

func (s *memStore) CreateProject(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	deadline := baseTime.Add(db.RetentionPeriod)
	p.Status = models.ProjectStatusProcessing
	p.RetentionDeadline = &deadline
	p.CreatedAt, p.UpdatedAt = baseTime, baseTime
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperrors.NewNotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListProjects(ctx context.Context, filter db.ProjectFilter) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	var out []models.Project
	for _, p := range s.projects {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *memStore) CountProjects(ctx context.Context, filter db.ProjectFilter) (int, error) {
	projects, _ := s.ListProjects(ctx, filter)
	return len(projects), nil
}

func (s *memStore) SaveProject(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return apperrors.NewNotFound("project", id)
	}
	if p.SavedAt == nil {
		at := baseTime.Add(24 * time.Hour)
		p.SavedAt = &at
	}
	p.Saved = true
	p.RetentionDeadline = nil
	return nil
}

func (s *memStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return apperrors.NewNotFound("project", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *memStore) FailProject(ctx context.Context, id uuid.UUID, message, detail string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return false, apperrors.NewNotFound("project", id)
	}
	p.Status = models.ProjectStatusFailed
	p.ErrorMessage = &message
	return true, nil
}

func (s *memStore) GetProjectCandidates(ctx context.Context, id uuid.UUID) ([]models.ClipCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates[id], nil
}

func (s *memStore) GetProjectClipAssets(ctx context.Context, id uuid.UUID) ([]models.ClipAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assets[id], nil
}

func (s *memStore) GetClipAsset(ctx context.Context, projectID, id uuid.UUID) (*models.ClipAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets[projectID] {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, apperrors.NewNotFound("clip asset", id)
}

func (s *memStore) GetTranscript(ctx context.Context, id uuid.UUID) (*models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, apperrors.NewNotFound("transcript", id)
	}
	return t, nil
}

func (s *memStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobErr != nil {
		return s.jobErr
	}
	job.CreatedAt = baseTime
	s.jobs = append(s.jobs, *job)
	return nil
}

func (s *memStore) GetProjectJobs(ctx context.Context, id uuid.UUID) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.ProjectID == id {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) GetOrCreateUsage(ctx context.Context, accountID uuid.UUID) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage
	u.AccountID = accountID
	return &u, nil
}

func (s *memStore) ReserveVideo(ctx context.Context, accountID uuid.UUID, limit int) (*models.UsageCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit >= 0 && s.usage.VideosProcessed >= limit {
		return nil, false, nil
	}
	s.usage.VideosProcessed++
	u := s.usage
	return &u, true, nil
}

func (s *memStore) ReserveClips(ctx context.Context, accountID uuid.UUID, want, limit int) (int, error) {
	return 0, errors.New("not used by the api")
}

func (s *memStore) ReleaseUsage(ctx context.Context, accountID uuid.UUID, videos, clips int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.VideosProcessed = max(s.usage.VideosProcessed-videos, 0)
	s.usage.ClipsGenerated = max(s.usage.ClipsGenerated-clips, 0)
	return nil
}

func (s *memStore) AddStorageUsed(ctx context.Context, accountID uuid.UUID, mb float64) (*models.UsageCounter, error) {
	return nil, errors.New("not used by the api")
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (q *fakeQueue) EnqueueProcessProject(ctx context.Context, projectID, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, projectID)
	return nil
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (s *memStorage) Bucket() string { return "clips" }

func (s *memStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

func (s *memStorage) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return s.Upload(ctx, storagePath, data, contentType)
}

func (s *memStorage) Download(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, apperrors.NewNotFound("object "+path, nil)
	}
	return data, nil
}

func (s *memStorage) DownloadToFile(ctx context.Context, path, localPath string) error {
	data, err := s.Download(ctx, path)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (s *memStorage) Delete(ctx context.Context, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.objects, p)
	}
	s.deleted = append(s.deleted, paths...)
	return nil
}

func (s *memStorage) GetPublicURL(path string) string { return "https://cdn.test/" + path }

func (s *memStorage) GetSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	return "https://cdn.test/" + path + "?token=t", nil
}

type fakeGateway struct {
	meta *models.SourceMetadata
	err  error
}

func (g *fakeGateway) Resolve(ctx context.Context, url string, opts acquisition.Options) (*acquisition.Result, error) {
	return nil, errors.New("not used by the api")
}

func (g *fakeGateway) Probe(ctx context.Context, url string) (*models.SourceMetadata, error) {
	return g.meta, g.err
}
