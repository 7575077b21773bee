package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pixaworks/renderer/internal/models"
)

const jobColumns = `
	id, user_id, title, slug, status, clips, bg_audio, logo,
	media, portrait, is_deleted, deleted_at, created_at, updated_at
`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.UserID, &job.Title, &job.Slug, &job.Status,
		models.JSONB{V: &job.Timeline.Clips},
		models.JSONB{V: &job.Timeline.BgAudio},
		models.JSONB{V: &job.Timeline.Logo},
		models.JSONB{V: &job.Media},
		models.JSONB{V: &job.Portrait},
		&job.IsDeleted, &job.DeletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO render_jobs (
			id, user_id, title, slug, status, clips, bg_audio, logo
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.Title, job.Slug, job.Status,
		models.JSONB{V: job.Timeline.Clips},
		models.JSONB{V: job.Timeline.BgAudio},
		models.JSONB{V: job.Timeline.Logo},
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM render_jobs WHERE id = $1 AND is_deleted = FALSE`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs ordered newest first, with an optional status filter.
func (db *DB) ListJobs(ctx context.Context, status string, limit, offset int) ([]models.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + jobColumns + ` FROM render_jobs WHERE is_deleted = FALSE`

	if status != "" {
		query := baseSelect + ` AND status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// CountJobs returns the total for the list endpoint's pagination envelope.
func (db *DB) CountJobs(ctx context.Context, status string) (int, error) {
	var (
		total int
		err   error
	)
	if status != "" {
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM render_jobs WHERE is_deleted = FALSE AND status = $1`, status,
		).Scan(&total)
	} else {
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM render_jobs WHERE is_deleted = FALSE`,
		).Scan(&total)
	}
	return total, err
}

// ReapStuckJobs force-fails every rendering job whose last update predates
// cutoff. A job stuck past the threshold means the process died mid-render;
// a partial render cannot be resumed, only re-submitted.
func (db *DB) ReapStuckJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < $3 AND is_deleted = FALSE
		RETURNING id
	`

	rows, err := db.QueryContext(ctx, query, models.JobStatusFailed, models.JobStatusRendering, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reaped id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// HasActiveRender reports whether any non-stuck job currently holds the
// rendering status. While one does, no new claim may proceed.
func (db *DB) HasActiveRender(ctx context.Context, cutoff time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM render_jobs
			WHERE status = $1 AND updated_at >= $2 AND is_deleted = FALSE
		)
	`

	var active bool
	if err := db.QueryRowContext(ctx, query, models.JobStatusRendering, cutoff).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to check active render: %w", err)
	}
	return active, nil
}

// ClaimOldestQueued atomically transitions the oldest processing-status job to
// rendering and returns it, or (nil, nil) when the queue is empty. The claim
// is a single conditional UPDATE: two overlapping scheduler ticks can never
// both observe the same job as claimable.
func (db *DB) ClaimOldestQueued(ctx context.Context) (*models.Job, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM render_jobs
			WHERE status = $2 AND is_deleted = FALSE
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(db.QueryRowContext(ctx, query, models.JobStatusRendering, models.JobStatusProcessing))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// SetStatus updates a job's status and refreshes updated_at. Setting rendering
// on an already-rendering job is a harmless no-op refresh.
func (db *DB) SetStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	query := `UPDATE render_jobs SET status = $1, updated_at = now() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

// MarkCompleted finalizes a successful render in one write: status, output
// artifact descriptor, and preview portrait together.
func (db *DB) MarkCompleted(ctx context.Context, id uuid.UUID, media *models.Media, portrait *models.Portrait) error {
	query := `
		UPDATE render_jobs
		SET status = $1, media = $2, portrait = $3, updated_at = now()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query,
		models.JobStatusCompleted,
		models.JSONB{V: media},
		models.JSONB{V: portrait},
		id,
	)
	return err
}
