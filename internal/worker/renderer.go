package worker

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pixaworks/renderer/internal/models"
	"github.com/pixaworks/renderer/internal/services"
)

// Hard cap on a single thumbnail extraction. A thumbnail is never worth
// stalling the render pipeline for.
const thumbnailTimeout = 30 * time.Second

// RenderResult summarizes one render attempt. It is folded into the job
// record on success and otherwise only reported to the scheduler.
type RenderResult struct {
	Success  bool
	JobID    uuid.UUID
	MediaURL string
}

// Renderer executes the end-to-end render for one claimed job: probe, merge,
// optional logo pass, thumbnail, upload, finalize. Local scratch files are
// cleaned up on every exit path.
type Renderer struct {
	store    Store
	engine   Engine
	uploader Uploader

	outputDir    string
	thumbnailDir string
}

func NewRenderer(store Store, engine Engine, uploader Uploader, outputDir, thumbnailDir string) *Renderer {
	return &Renderer{
		store:        store,
		engine:       engine,
		uploader:     uploader,
		outputDir:    outputDir,
		thumbnailDir: thumbnailDir,
	}
}

// Render runs the full pipeline for a claimed job. Any error marks the job
// failed (best-effort) and is returned to the caller for logging; the job
// record always ends in completed or failed.
func (r *Renderer) Render(ctx context.Context, job *models.Job) (*RenderResult, error) {
	log.Printf("[Render] Starting render for job %s", job.ID)

	var outputPath, finalPath string

	result, err := func() (*RenderResult, error) {
		// Redundant with the scheduler's claim, but harmless: refreshes
		// updated_at so the job reads as actively rendering.
		if err := r.store.SetStatus(ctx, job.ID, models.JobStatusRendering); err != nil {
			return nil, fmt.Errorf("failed to mark job rendering: %w", err)
		}

		if err := os.MkdirAll(r.outputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}

		timeline := job.Timeline
		if err := timeline.Validate(); err != nil {
			return nil, fmt.Errorf("invalid timeline: %w", err)
		}

		timestamp := time.Now().UnixMilli()
		outputPath = filepath.Join(r.outputDir, fmt.Sprintf("%d-vid.mp4", timestamp))
		finalPath = outputPath

		// Probe every clip's source concurrently. The probe has no side
		// effects and downgrades its own failures to "no audio", so the
		// group never returns an error.
		clips := make([]models.Clip, len(timeline.Clips))
		copy(clips, timeline.Clips)

		g, gctx := errgroup.WithContext(ctx)
		for i := range clips {
			i := i
			g.Go(func() error {
				clips[i].HasAudio = r.engine.HasAudio(gctx, clips[i].SourceURL)
				return nil
			})
		}
		_ = g.Wait()

		mergeArgs, err := services.BuildMergeArgs(clips, outputPath, timeline.BgAudio)
		if err != nil {
			return nil, fmt.Errorf("failed to build merge command: %w", err)
		}

		if err := r.engine.Run(ctx, mergeArgs); err != nil {
			return nil, fmt.Errorf("clip merge failed: %w", err)
		}
		log.Printf("[Render] Clips merged successfully for job %s", job.ID)

		canvasWidth, canvasHeight := timeline.CanvasSize()

		if timeline.Logo != nil && timeline.Logo.SourceURL != "" {
			log.Printf("[Render] Adding logo to job %s", job.ID)

			withLogoPath := filepath.Join(r.outputDir, fmt.Sprintf("%d-with-logo.mp4", timestamp))
			logoArgs := services.BuildLogoArgs(outputPath, timeline.Logo, canvasWidth, canvasHeight, withLogoPath)

			if err := r.engine.Run(ctx, logoArgs); err != nil {
				return nil, fmt.Errorf("logo overlay failed: %w", err)
			}

			if err := os.Remove(outputPath); err != nil {
				log.Printf("[Render] Warning: failed to delete intermediate file %s: %v", outputPath, err)
			}
			finalPath = withLogoPath
		}

		absPath, err := filepath.Abs(finalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve output path: %w", err)
		}

		log.Printf("[Render] Uploading video for job %s", job.ID)
		upload, err := r.uploader.UploadFile(ctx, absPath, fmt.Sprintf("%d-rendered-video.mp4", timestamp), true)
		if err != nil {
			return nil, fmt.Errorf("upload failed: %w", err)
		}

		// A gateway answer without a URL is degraded but not fatal: the
		// local path stands in so the job can still complete.
		finalURL := finalPath
		var storageKey string
		if upload != nil {
			if upload.URL != "" {
				finalURL = upload.URL
			}
			storageKey = upload.Key
		}

		thumbnailURL := ""
		if len(clips) > 0 {
			thumbnailURL, err = r.generateAndUploadThumbnail(ctx, &clips[0], job.ID, absPath, canvasWidth, canvasHeight)
			if err != nil {
				log.Printf("[Render] Warning: failed to generate thumbnail for job %s: %v", job.ID, err)
				thumbnailURL = ""
			}
		}

		media := &models.Media{
			URL:       finalURL,
			Key:       storageKey,
			Thumbnail: thumbnailURL,
			Width:     canvasWidth,
			Height:    canvasHeight,
			Format:    "mp4",
			Duration:  timeline.TotalDuration(),
		}
		portrait := &models.Portrait{
			Image: thumbnailURL,
			Video: finalURL,
		}

		if err := r.store.MarkCompleted(ctx, job.ID, media, portrait); err != nil {
			return nil, fmt.Errorf("failed to finalize job: %w", err)
		}

		log.Printf("[Render] Video rendered and uploaded successfully for job %s", job.ID)

		removeIfExists(finalPath)

		return &RenderResult{Success: true, JobID: job.ID, MediaURL: finalURL}, nil
	}()

	if err != nil {
		log.Printf("[Render] Error rendering job %s: %v", job.ID, err)

		if dbErr := r.store.SetStatus(ctx, job.ID, models.JobStatusFailed); dbErr != nil {
			log.Printf("[Render] Failed to update error status for job %s: %v", job.ID, dbErr)
		}

		removeIfExists(outputPath)
		if finalPath != outputPath {
			removeIfExists(finalPath)
		}

		return &RenderResult{Success: false, JobID: job.ID}, err
	}

	return result, nil
}

// generateAndUploadThumbnail extracts a frame near the start of the rendered
// video and uploads it. Errors propagate to the caller, which logs and keeps
// the render alive — a missing thumbnail never fails a job.
func (r *Renderer) generateAndUploadThumbnail(ctx context.Context, firstClip *models.Clip, jobID uuid.UUID, videoPath string, width, height int) (string, error) {
	if err := os.MkdirAll(r.thumbnailDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail dir: %w", err)
	}

	timestamp := time.Now().UnixMilli()
	thumbnailPath := filepath.Join(r.thumbnailDir, fmt.Sprintf("%d-%s-thumbnail.jpg", timestamp, jobID))
	defer removeIfExists(thumbnailPath)

	// Grab the frame just after the start, capped for very short clips.
	clipDuration := firstClip.Duration
	if clipDuration == 0 {
		clipDuration = 10
	}
	offset := math.Min(0.5, clipDuration/2)

	args := services.BuildThumbnailArgs(videoPath, offset, width, height, thumbnailPath)

	thumbCtx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	if err := r.engine.Run(thumbCtx, args); err != nil {
		return "", fmt.Errorf("thumbnail extraction failed: %w", err)
	}

	info, err := os.Stat(thumbnailPath)
	if err != nil {
		return "", fmt.Errorf("thumbnail file not created: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("generated thumbnail file is empty")
	}

	upload, err := r.uploader.UploadFile(ctx, thumbnailPath, fmt.Sprintf("%d-%s-thumbnail.jpg", timestamp, jobID), true)
	if err != nil {
		return "", fmt.Errorf("thumbnail upload failed: %w", err)
	}

	if upload == nil || upload.URL == "" {
		return thumbnailPath, nil
	}
	return upload.URL, nil
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Render] Warning: failed to clean up file %s: %v", path, err)
	}
}
