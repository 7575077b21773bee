package worker

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pixaworks/renderer/internal/models"
)

// JobRenderer is what the scheduler hands a claimed job to. *Renderer
// satisfies it.
type JobRenderer interface {
	Render(ctx context.Context, job *models.Job) (*RenderResult, error)
}

// Scheduler is the single-flight admission gate over the render queue. Each
// cycle reaps stuck jobs, refuses to start while a render is active, then
// atomically claims at most one queued job and renders it synchronously.
// One job per tick keeps the single-active-render invariant trivially true.
type Scheduler struct {
	store    Store
	renderer JobRenderer

	cronSpec       string
	stuckThreshold time.Duration
}

func NewScheduler(store Store, renderer JobRenderer, cronSpec string, stuckThreshold time.Duration) *Scheduler {
	return &Scheduler{
		store:          store,
		renderer:       renderer,
		cronSpec:       cronSpec,
		stuckThreshold: stuckThreshold,
	}
}

// Start runs one eager cycle, then ticks on the configured cron expression
// until ctx is cancelled. Overlapping ticks are safe: the active-render check
// plus the atomic claim guarantee at most one render proceeds.
func (s *Scheduler) Start(ctx context.Context) error {
	s.RunCycle(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.cronSpec, func() { s.RunCycle(ctx) }); err != nil {
		return err
	}
	c.Start()
	log.Printf("[Scheduler] Render cycle scheduled (%s)", s.cronSpec)

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// RunCycle performs one claim-and-render pass. Every error is logged and
// swallowed — the scheduler is never fatal, the next tick retries from
// scratch.
func (s *Scheduler) RunCycle(ctx context.Context) {
	cutoff := time.Now().Add(-s.stuckThreshold)

	// 1. Reap: a job stuck in rendering past the threshold means the
	// process died mid-render. Force-fail it so the queue unblocks.
	reaped, err := s.store.ReapStuckJobs(ctx, cutoff)
	if err != nil {
		log.Printf("[Scheduler] Failed to reap stuck jobs: %v", err)
		return
	}
	for _, id := range reaped {
		log.Printf("[Scheduler] Failed stuck job: %s", id)
	}

	// 2. Admission: at most one render system-wide.
	active, err := s.store.HasActiveRender(ctx, cutoff)
	if err != nil {
		log.Printf("[Scheduler] Failed to check active render: %v", err)
		return
	}
	if active {
		log.Println("[Scheduler] Video is already rendering")
		return
	}

	// 3. Atomic claim of the oldest queued job.
	job, err := s.store.ClaimOldestQueued(ctx)
	if err != nil {
		log.Printf("[Scheduler] Failed to claim job: %v", err)
		return
	}
	if job == nil {
		log.Println("[Scheduler] No videos to process")
		return
	}

	// 4. A claimed job with an empty timeline can never render; fail it
	// without invoking the pipeline.
	if len(job.Timeline.Clips) == 0 {
		log.Printf("[Scheduler] No clips available for job %s", job.ID)
		if err := s.store.SetStatus(ctx, job.ID, models.JobStatusFailed); err != nil {
			log.Printf("[Scheduler] Failed to mark empty job %s failed: %v", job.ID, err)
		}
		return
	}

	// 5. Render synchronously; no second claim this cycle.
	if _, err := s.renderer.Render(ctx, job); err != nil {
		log.Printf("[Scheduler] Render failed for job %s: %v", job.ID, err)
	}
}
