package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/analyzer"
	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/transcription"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu          sync.Mutex
	now         time.Time
	projects    map[uuid.UUID]*models.Project
	transcripts map[uuid.UUID]*models.Transcript
	candidates  []models.ClipCandidate
	assets      []models.ClipAsset
	usage       models.UsageCounter
	jobs        map[uuid.UUID]models.JobStatus
	jobErrors   map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:         baseTime,
		projects:    map[uuid.UUID]*models.Project{},
		transcripts: map[uuid.UUID]*models.Transcript{},
		jobs:        map[uuid.UUID]models.JobStatus{},
		jobErrors:   map[uuid.UUID]string{},
	}
}

func (s *fakeStore) add(p *models.Project) *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusProcessing
	}
	s.projects[p.ID] = p
	return p
}

func (s *fakeStore) project(id uuid.UUID) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.projects[id]
}

func (s *fakeStore) Now() time.Time { return s.now }

func (s *fakeStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperrors.NewNotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) SetProjectSource(ctx context.Context, id uuid.UUID, meta *models.SourceMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *meta
	s.projects[id].Source = &m
	return nil
}

func (s *fakeStore) SaveTranscript(ctx context.Context, t *models.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[t.ProjectID] = t
	return nil
}

func (s *fakeStore) CreateCandidates(ctx context.Context, candidates []models.ClipCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidates...)
	return nil
}

func (s *fakeStore) CreateClipAsset(ctx context.Context, asset *models.ClipAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, *asset)
	return nil
}

func (s *fakeStore) transition(id uuid.UUID, status models.ProjectStatus, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return false, apperrors.NewNotFound("project", id)
	}
	if p.Status != models.ProjectStatusProcessing {
		return false, nil
	}
	now := s.now
	p.Status = status
	p.ProcessingCompletedAt = &now
	if message != "" {
		p.ErrorMessage = &message
	}
	return true, nil
}

func (s *fakeStore) CompleteProject(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(id, models.ProjectStatusCompleted, "")
}

func (s *fakeStore) FailProject(ctx context.Context, id uuid.UUID, message, detail string) (bool, error) {
	return s.transition(id, models.ProjectStatusFailed, message)
}

func (s *fakeStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = status
	return nil
}

func (s *fakeStore) UpdateJobError(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = models.JobStatusFailed
	s.jobErrors[id] = msg
	return nil
}

// FindExpiredProjects mirrors the store query: unsaved, deadline <= now.
func (s *fakeStore) FindExpiredProjects(ctx context.Context, now time.Time, limit int) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Project
	for _, p := range s.projects {
		if !p.Saved && p.RetentionDeadline != nil && !p.RetentionDeadline.After(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetentionDeadline.Before(*out[j].RetentionDeadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetProjectClipAssets(ctx context.Context, projectID uuid.UUID) ([]models.ClipAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ClipAsset
	for _, a := range s.assets {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return apperrors.NewNotFound("project", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *fakeStore) GetOrCreateUsage(ctx context.Context, accountID uuid.UUID) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage
	return &u, nil
}

func (s *fakeStore) ReserveVideo(ctx context.Context, accountID uuid.UUID, limit int) (*models.UsageCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit >= 0 && s.usage.VideosProcessed >= limit {
		return nil, false, nil
	}
	s.usage.VideosProcessed++
	u := s.usage
	return &u, true, nil
}

func (s *fakeStore) ReserveClips(ctx context.Context, accountID uuid.UUID, want, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	granted := want
	if limit >= 0 {
		granted = min(want, max(limit-s.usage.ClipsGenerated, 0))
	}
	s.usage.ClipsGenerated += granted
	return granted, nil
}

func (s *fakeStore) ReleaseUsage(ctx context.Context, accountID uuid.UUID, videos, clips int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.VideosProcessed = max(s.usage.VideosProcessed-videos, 0)
	s.usage.ClipsGenerated = max(s.usage.ClipsGenerated-clips, 0)
	return nil
}

func (s *fakeStore) AddStorageUsed(ctx context.Context, accountID uuid.UUID, mb float64) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.StorageUsedMB += mb
	u := s.usage
	return &u, nil
}

type fakeGateway struct {
	duration  float64
	err       error
	onResolve func()
}

func (g *fakeGateway) Resolve(ctx context.Context, url string, opts acquisition.Options) (*acquisition.Result, error) {
	if g.onResolve != nil {
		g.onResolve()
	}
	if g.err != nil {
		return nil, g.err
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, err
	}
	file := filepath.Join(opts.OutputDir, "abc.mp4")
	if err := os.WriteFile(file, []byte("source"), 0644); err != nil {
		return nil, err
	}
	return &acquisition.Result{
		FilePath: file,
		Dir:      opts.OutputDir,
		Metadata: models.SourceMetadata{Title: "Episode 12", Duration: g.duration, Platform: models.PlatformYouTube},
	}, nil
}

func (g *fakeGateway) Probe(ctx context.Context, url string) (*models.SourceMetadata, error) {
	return &models.SourceMetadata{Duration: g.duration}, nil
}

type fakeTranscriber struct {
	err error
}

// Transcribe returns one sentence every 10 seconds over two minutes.
func (f *fakeTranscriber) Transcribe(ctx context.Context, filePath string, opts transcription.Options) (*models.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("audio missing: %w", err)
	}
	t := &models.Transcript{Language: "en", Duration: 120}
	for start := 0.0; start < 120; start += 10 {
		t.Segments = append(t.Segments, models.Segment{Start: start, End: start + 9.5, Text: fmt.Sprintf("Sentence at %.0f.", start)})
	}
	return t, nil
}

type staticStrategy struct {
	answer string
}

func (s staticStrategy) Name() string { return "static" }

func (s staticStrategy) Propose(ctx context.Context, in analyzer.Input, opts models.AnalysisOptions) ([]analyzer.RawCandidate, error) {
	return analyzer.ParseCandidates(s.answer)
}

// stalledStrategy never answers until its context ends.
type stalledStrategy struct{}

func (stalledStrategy) Name() string { return "stalled" }

func (stalledStrategy) Propose(ctx context.Context, in analyzer.Input, opts models.AnalysisOptions) ([]analyzer.RawCandidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeRenderer struct {
	registry *materializer.Registry

	mu       sync.Mutex
	failures map[string]int // candidate title -> remaining failures (-1 = always)
	hangs    map[string]bool
	calls    map[string]int
	inFlight int
	peak     int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		registry: materializer.DefaultRegistry(),
		failures: map[string]int{},
		hangs:    map[string]bool{},
		calls:    map[string]int{},
	}
}

func (r *fakeRenderer) Registry() *materializer.Registry { return r.registry }

func (r *fakeRenderer) ExtractAudio(ctx context.Context, source, output string) error {
	return os.WriteFile(output, []byte("audio"), 0644)
}

func (r *fakeRenderer) Materialize(ctx context.Context, sourceFile string, c models.ClipCandidate, platform string, opts materializer.Options) (*materializer.Result, error) {
	r.mu.Lock()
	r.calls[c.Title]++
	r.inFlight++
	r.peak = max(r.peak, r.inFlight)
	fail := r.failures[c.Title]
	if fail > 0 {
		r.failures[c.Title]--
	}
	hang := r.hangs[c.Title]
	r.mu.Unlock()

	if hang {
		defer func() {
			r.mu.Lock()
			r.inFlight--
			r.mu.Unlock()
		}()
		<-ctx.Done()
		return nil, apperrors.NewExternalTool("ffmpeg", "render", -1, nil, ctx.Err())
	}

	time.Sleep(5 * time.Millisecond)
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if fail != 0 {
		return nil, apperrors.NewExternalTool("ffmpeg", "render", 1, []byte("Conversion failed!"), fmt.Errorf("exit status 1"))
	}

	spec, known := r.registry.Lookup(platform)
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, err
	}
	base := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%s", c.ID, spec.Name))
	res := &materializer.Result{
		Platform:      spec,
		FellBack:      !known,
		VideoPath:     base + ".mp4",
		ThumbnailPath: base + ".jpg",
		ByteSize:      1 << 20,
		DurationMs:    int(min(c.Duration(), spec.MaxDuration) * 1000),
		EncodeParams:  models.JSONB{"platform": spec.Name},
	}
	files := []string{res.VideoPath, res.ThumbnailPath}
	if opts.Captions != nil && len(opts.Captions.Cues) > 0 {
		res.CaptionPath = base + ".vtt"
		files = append(files, res.CaptionPath)
	}
	for _, f := range files {
		if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type fakeStorage struct {
	mu        sync.Mutex
	uploads   map[string]string // live objects: key -> content type
	deleted   []string
	deleteErr error
	failExt   string // UploadFile fails for keys with this extension
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploads: map[string]string{}}
}

func (s *fakeStorage) Bucket() string { return "clips" }

func (s *fakeStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[path] = contentType
	return nil
}

func (s *fakeStorage) UploadFile(ctx context.Context, storagePath, localPath, contentType string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	if s.failExt != "" && filepath.Ext(storagePath) == s.failExt {
		return fmt.Errorf("upload %s: storage unavailable", storagePath)
	}
	return s.Upload(ctx, storagePath, nil, contentType)
}

func (s *fakeStorage) Download(ctx context.Context, path string) ([]byte, error) {
	return []byte("uploaded"), nil
}

func (s *fakeStorage) DownloadToFile(ctx context.Context, path, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, []byte("uploaded"), 0644)
}

func (s *fakeStorage) Delete(ctx context.Context, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, paths...)
	for _, p := range paths {
		delete(s.uploads, p)
	}
	return nil
}

func (s *fakeStorage) live() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.uploads)
}

func (s *fakeStorage) GetPublicURL(path string) string { return "https://cdn.test/" + path }

func (s *fakeStorage) GetSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	return "https://cdn.test/" + path + "?sig=1", nil
}

func fakeProbe(duration float64) ProbeFunc {
	return func(ctx context.Context, path string) (*media.ProbeResult, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return &media.ProbeResult{Duration: duration, Width: 1920, Height: 1080, VideoCodec: "h264", AudioCodec: "aac", Container: "mp4"}, nil
	}
}
