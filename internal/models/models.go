package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRendering  JobStatus = "rendering"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

type ClipKind string

const (
	ClipKindVideo ClipKind = "video"
	ClipKindImage ClipKind = "image"
)

// Defaults applied when the corresponding field is zero in the timeline payload.
const (
	DefaultClipVolume    = 1.0
	DefaultOverlayVolume = 0.5
	DefaultBgVolume      = 0.3

	DefaultCanvasWidth  = 720
	DefaultCanvasHeight = 1280
)

// AudioOverlay is an external audio track attached to a single clip.
// Its trim window is independent of the clip's; at mix time it is capped
// to the clip's effective duration.
type AudioOverlay struct {
	SourceURL string   `json:"sourceURL"`
	Duration  float64  `json:"duration,omitempty"`
	StartTrim float64  `json:"startTrim,omitempty"`
	EndTrim   float64  `json:"endTrim,omitempty"`
	Volume    *float64 `json:"volume,omitempty"` // nil = DefaultOverlayVolume
	IsLooping bool     `json:"isLooping,omitempty"`
}

// EffectiveVolume returns the overlay volume with the 0.5 default applied.
// An explicit 0 is a mute, not an absence.
func (a *AudioOverlay) EffectiveVolume() float64 {
	if a.Volume == nil {
		return DefaultOverlayVolume
	}
	return *a.Volume
}

// Window returns the overlay's own trim window as (start, duration).
// EndTrim of 0 means "to the end of the declared duration".
func (a *AudioOverlay) Window() (start, duration float64) {
	end := a.EndTrim
	if end == 0 {
		end = a.Duration
	}
	return a.StartTrim, end - a.StartTrim
}

// Clip is one entry of a render timeline.
type Clip struct {
	SourceURL string   `json:"sourceURL"`
	Kind      ClipKind `json:"type"`
	Duration  float64  `json:"duration"`
	StartTrim float64  `json:"startTrim,omitempty"`
	EndTrim   float64  `json:"endTrim,omitempty"` // 0 = Duration
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Volume    *float64 `json:"volume,omitempty"` // nil = DefaultClipVolume

	Audio *AudioOverlay `json:"audio,omitempty"`

	// HasAudio is derived by probing the source right before the merge
	// command is built. It is never trusted from the stored payload.
	HasAudio bool `json:"hasAudio,omitempty"`
}

// EffectiveDuration is endTrim (or the nominal duration when endTrim is
// absent) minus startTrim. Every consumer of a clip's length — filter graph,
// silence segments, background-audio trim — must go through this method so
// the accounting agrees everywhere.
func (c *Clip) EffectiveDuration() float64 {
	end := c.EndTrim
	if end == 0 {
		end = c.Duration
	}
	return end - c.StartTrim
}

// EffectiveVolume returns the embedded-audio volume with the default applied.
// An explicit 0 is a mute, not an absence.
func (c *Clip) EffectiveVolume() float64 {
	if c.Volume == nil {
		return DefaultClipVolume
	}
	return *c.Volume
}

// BackgroundAudio applies to the whole rendered output, trimmed (and
// optionally looped) to the sum of all clip effective durations.
type BackgroundAudio struct {
	SourceURL string   `json:"sourceURL"`
	Volume    *float64 `json:"volume,omitempty"` // nil = DefaultBgVolume
	IsLooping bool     `json:"isLooping,omitempty"`
}

func (b *BackgroundAudio) EffectiveVolume() float64 {
	if b.Volume == nil {
		return DefaultBgVolume
	}
	return *b.Volume
}

// Logo is a percentage-positioned overlay composited onto the finished video.
// AspectRatio is carried in the payload but deliberately ignored: the rendered
// height is always derived from OriginalWidth/OriginalHeight, which reflect
// the actual image file rather than a possibly stale caller-supplied ratio.
type Logo struct {
	SourceURL      string  `json:"sourceURL"`
	X              float64 `json:"x"`     // percent of canvas width
	Y              float64 `json:"y"`     // percent of canvas height
	Width          float64 `json:"width"` // percent of canvas width
	Opacity        float64 `json:"opacity"`
	AspectRatio    float64 `json:"aspectRatio,omitempty"`
	OriginalWidth  int     `json:"originalWidth"`
	OriginalHeight int     `json:"originalHeight"`
}

// Timeline is the declarative render input: ordered clips plus optional
// background audio and logo. It is read once by the executor and never
// mutated during a run.
type Timeline struct {
	Clips   []Clip           `json:"clips"`
	BgAudio *BackgroundAudio `json:"bgAudio,omitempty"`
	Logo    *Logo            `json:"logo,omitempty"`
}

// CanvasSize returns the output dimensions: width/height of the first clip,
// falling back to the 720x1280 portrait default.
func (t *Timeline) CanvasSize() (w, h int) {
	w, h = DefaultCanvasWidth, DefaultCanvasHeight
	if len(t.Clips) > 0 {
		if t.Clips[0].Width > 0 {
			w = t.Clips[0].Width
		}
		if t.Clips[0].Height > 0 {
			h = t.Clips[0].Height
		}
	}
	return w, h
}

// TotalDuration is the sum of all clip effective durations.
func (t *Timeline) TotalDuration() float64 {
	var total float64
	for i := range t.Clips {
		total += t.Clips[i].EffectiveDuration()
	}
	return total
}

// Validate rejects timelines the command builder cannot accept.
func (t *Timeline) Validate() error {
	if len(t.Clips) == 0 {
		return fmt.Errorf("timeline has no clips")
	}
	for i := range t.Clips {
		c := &t.Clips[i]
		if c.SourceURL == "" {
			return fmt.Errorf("clip %d has no source", i)
		}
		if d := c.EffectiveDuration(); d <= 0 {
			return fmt.Errorf("clip %d has non-positive effective duration %g", i, d)
		}
	}
	return nil
}

// Media is the persisted output artifact descriptor.
type Media struct {
	URL       string  `json:"url"`
	Key       string  `json:"key"`
	Thumbnail string  `json:"thumbnail"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Format    string  `json:"format"`
	Duration  float64 `json:"duration,omitempty"`
}

// Portrait mirrors the legacy preview descriptor: thumbnail image + final video URL.
type Portrait struct {
	Image string `json:"image,omitempty"`
	Video string `json:"video,omitempty"`
}

// Job is the persisted render job record.
type Job struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Title     string     `json:"title"`
	Slug      string     `json:"slug,omitempty"`
	Status    JobStatus  `json:"status"`
	Timeline  Timeline   `json:"timeline"`
	Media     *Media     `json:"media,omitempty"`
	Portrait  *Portrait  `json:"portrait,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// JSONB adapts an arbitrary value to a PostgreSQL JSONB column.
// Wrap a pointer for scanning and a value (or pointer) for writing.
type JSONB struct {
	V interface{}
}

func (j JSONB) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	return json.Marshal(j.V)
}

func (j JSONB) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("jsonb scan: unexpected type %T", value)
	}
	return json.Unmarshal(bytes, j.V)
}

// DTOs for the HTTP surface.

type CreateJobRequest struct {
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Title    string     `json:"title"`
	Slug     *string    `json:"slug,omitempty"`
	Timeline Timeline   `json:"timeline"`
}

type CreateJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

type ListJobsResponse struct {
	Jobs   []Job `json:"jobs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
