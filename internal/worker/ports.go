package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pixaworks/renderer/internal/models"
	"github.com/pixaworks/renderer/internal/services"
)

// Narrow views of the external collaborators, so the scheduler and renderer
// can be exercised in tests with in-memory fakes.

// Store is the job-record persistence surface the worker needs. db.DB
// satisfies it.
type Store interface {
	// ReapStuckJobs force-fails rendering jobs last updated before cutoff.
	ReapStuckJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	// HasActiveRender reports a non-stuck rendering job.
	HasActiveRender(ctx context.Context, cutoff time.Time) (bool, error)
	// ClaimOldestQueued atomically moves the oldest processing job to
	// rendering, or returns (nil, nil) when none is queued.
	ClaimOldestQueued(ctx context.Context) (*models.Job, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	MarkCompleted(ctx context.Context, id uuid.UUID, media *models.Media, portrait *models.Portrait) error
}

// Engine runs media commands. services.FFmpegService satisfies it.
type Engine interface {
	Run(ctx context.Context, args []string) error
	HasAudio(ctx context.Context, source string) bool
}

// Uploader pushes a local artifact to remote storage and returns its URL and
// storage key. services.UploadClient satisfies it.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, name string, saveOnDb bool) (*services.UploadResult, error)
}
