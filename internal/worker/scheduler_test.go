package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/pixaworks/renderer/internal/models"
)

func queuedJob(clips []models.Clip) *models.Job {
	return &models.Job{
		ID:       uuid.New(),
		Title:    "queued",
		Status:   models.JobStatusRendering,
		Timeline: models.Timeline{Clips: clips},
	}
}

func TestRunCycleRendersClaimedJob(t *testing.T) {
	job := queuedJob([]models.Clip{{Kind: models.ClipKindVideo, SourceURL: "a.mp4", Duration: 5}})
	store := &fakeStore{claimJob: job}
	renderer := &fakeRenderer{}
	s := NewScheduler(store, renderer, "*/1 * * * *", 0)

	s.RunCycle(context.Background())

	if store.claims != 1 {
		t.Fatalf("claims = %d, want 1", store.claims)
	}
	if renderer.called != 1 {
		t.Fatalf("renderer called %d times, want 1", renderer.called)
	}
	if renderer.jobs[0].ID != job.ID {
		t.Fatalf("rendered job %s, want %s", renderer.jobs[0].ID, job.ID)
	}
}

func TestRunCycleNoQueuedJobs(t *testing.T) {
	store := &fakeStore{}
	renderer := &fakeRenderer{}
	s := NewScheduler(store, renderer, "*/1 * * * *", 0)

	s.RunCycle(context.Background())

	if store.claims != 1 {
		t.Fatalf("claims = %d, want 1", store.claims)
	}
	if renderer.called != 0 {
		t.Fatalf("renderer called %d times, want 0", renderer.called)
	}
}

func TestRunCycleSkipsWhileRenderActive(t *testing.T) {
	store := &fakeStore{active: true, claimJob: queuedJob([]models.Clip{{Kind: models.ClipKindVideo, SourceURL: "a.mp4", Duration: 5}})}
	renderer := &fakeRenderer{}
	s := NewScheduler(store, renderer, "*/1 * * * *", 0)

	s.RunCycle(context.Background())

	if store.claims != 0 {
		t.Fatalf("claims = %d, want 0", store.claims)
	}
	if renderer.called != 0 {
		t.Fatalf("renderer called %d times, want 0", renderer.called)
	}
}

func TestRunCycleReapErrorAbortsCycle(t *testing.T) {
	store := &fakeStore{
		reapErr:  testError("db down"),
		claimJob: queuedJob([]models.Clip{{Kind: models.ClipKindVideo, SourceURL: "a.mp4", Duration: 5}}),
	}
	renderer := &fakeRenderer{}
	s := NewScheduler(store, renderer, "*/1 * * * *", 0)

	s.RunCycle(context.Background())

	if store.claims != 0 {
		t.Fatalf("claims = %d, want 0", store.claims)
	}
	if renderer.called != 0 {
		t.Fatalf("renderer called %d times, want 0", renderer.called)
	}
}

func TestRunCycleFailsJobWithNoClips(t *testing.T) {
	job := queuedJob(nil)
	store := &fakeStore{claimJob: job}
	renderer := &fakeRenderer{}
	s := NewScheduler(store, renderer, "*/1 * * * *", 0)

	s.RunCycle(context.Background())

	if renderer.called != 0 {
		t.Fatalf("renderer called %d times, want 0", renderer.called)
	}
	status, ok := store.lastStatus()
	if !ok || status != models.JobStatusFailed {
		t.Fatalf("last status = %q (%v), want %q", status, ok, models.JobStatusFailed)
	}
}

func TestRunCycleSwallowsRenderError(t *testing.T) {
	job := queuedJob([]models.Clip{{Kind: models.ClipKindVideo, SourceURL: "a.mp4", Duration: 5}})
	store := &fakeStore{claimJob: job}
	renderer := &fakeRenderer{err: testError("ffmpeg exploded")}
	s := NewScheduler(store, renderer, "*/1 * * * *", 0)

	// Must not panic or propagate; the next tick retries.
	s.RunCycle(context.Background())

	if renderer.called != 1 {
		t.Fatalf("renderer called %d times, want 1", renderer.called)
	}
}
