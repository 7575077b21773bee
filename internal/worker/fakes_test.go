package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixaworks/renderer/internal/models"
	"github.com/pixaworks/renderer/internal/services"
)

// In-memory fakes for the worker's collaborators.

type statusChange struct {
	id     uuid.UUID
	status models.JobStatus
}

type fakeStore struct {
	mu sync.Mutex

	reapIDs []uuid.UUID
	reapErr error

	active    bool
	activeErr error

	claimJob *models.Job
	claimErr error
	claims   int

	statuses     []statusChange
	setStatusErr error

	completedID  uuid.UUID
	media        *models.Media
	portrait     *models.Portrait
	completeErr  error
	completeDone bool
}

func (s *fakeStore) ReapStuckJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	return s.reapIDs, s.reapErr
}

func (s *fakeStore) HasActiveRender(ctx context.Context, cutoff time.Time) (bool, error) {
	return s.active, s.activeErr
}

func (s *fakeStore) ClaimOldestQueued(ctx context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	return s.claimJob, s.claimErr
}

func (s *fakeStore) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusChange{id: id, status: status})
	return s.setStatusErr
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id uuid.UUID, media *models.Media, portrait *models.Portrait) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completedID = id
	s.media = media
	s.portrait = portrait
	s.completeDone = true
	return nil
}

func (s *fakeStore) lastStatus() (models.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return "", false
	}
	return s.statuses[len(s.statuses)-1].status, true
}

// fakeEngine records every invocation and materializes each command's output
// file so the renderer's stat/cleanup paths behave as with real ffmpeg.
type fakeEngine struct {
	mu   sync.Mutex
	runs [][]string

	failMerge bool
	failLogo  bool
	failThumb bool

	audio map[string]bool
}

func commandKind(args []string) string {
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "-frames:v"):
		return "thumbnail"
	case strings.Contains(joined, "colorchannelmixer"):
		return "logo"
	default:
		return "merge"
	}
}

func (e *fakeEngine) Run(ctx context.Context, args []string) error {
	e.mu.Lock()
	e.runs = append(e.runs, args)
	e.mu.Unlock()

	kind := commandKind(args)
	if (kind == "merge" && e.failMerge) || (kind == "logo" && e.failLogo) || (kind == "thumbnail" && e.failThumb) {
		return fmt.Errorf("fake %s failure", kind)
	}

	// The output path is always the final argument.
	return os.WriteFile(args[len(args)-1], []byte("media"), 0644)
}

func (e *fakeEngine) HasAudio(ctx context.Context, source string) bool {
	return e.audio[source]
}

func (e *fakeEngine) runKinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]string, len(e.runs))
	for i, args := range e.runs {
		kinds[i] = commandKind(args)
	}
	return kinds
}

type uploadCall struct {
	path     string
	name     string
	saveOnDb bool
}

type fakeUploader struct {
	mu      sync.Mutex
	calls   []uploadCall
	results []*services.UploadResult
	errs    []error
}

func (u *fakeUploader) UploadFile(ctx context.Context, localPath, name string, saveOnDb bool) (*services.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	i := len(u.calls)
	u.calls = append(u.calls, uploadCall{path: localPath, name: name, saveOnDb: saveOnDb})

	var err error
	if i < len(u.errs) {
		err = u.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(u.results) {
		return u.results[i], nil
	}
	return &services.UploadResult{URL: "https://cdn.example.com/out.mp4", Key: "out.mp4"}, nil
}

type fakeRenderer struct {
	called int
	jobs   []*models.Job
	err    error
}

func (r *fakeRenderer) Render(ctx context.Context, job *models.Job) (*RenderResult, error) {
	r.called++
	r.jobs = append(r.jobs, job)
	if r.err != nil {
		return &RenderResult{Success: false, JobID: job.ID}, r.err
	}
	return &RenderResult{Success: true, JobID: job.ID}, nil
}
