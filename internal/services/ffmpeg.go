package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Bounded wait for the audio presence probe. On expiry the clip is treated
// as silent rather than blocking the whole render.
const probeTimeout = 5 * time.Second

// FFmpegService runs ffmpeg/ffprobe as external batch processes and owns the
// local scratch directories for render outputs and thumbnails.
type FFmpegService struct {
	OutputDir    string
	ThumbnailDir string
}

func NewFFmpegService(outputDir, thumbnailDir string) *FFmpegService {
	return &FFmpegService{
		OutputDir:    outputDir,
		ThumbnailDir: thumbnailDir,
	}
}

// Run executes one ffmpeg invocation to completion. A non-zero exit is a
// failure of the current render step.
func (s *FFmpegService) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w", err)
	}

	return nil
}

// HasAudio reports whether the source carries at least one audio stream.
// ffprobe is restricted to audio streams with JSON output; a timeout or any
// probe failure downgrades to false so a broken probe never fails a render.
// Safe to call concurrently — the executor fans this out across all clips.
func (s *FFmpegService) HasAudio(ctx context.Context, source string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_streams",
		"-select_streams", "a",
		"-of", "json",
		source,
	}

	cmd := exec.CommandContext(probeCtx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Probe] Audio check timeout for %s", source)
		} else {
			log.Printf("[Probe] Error checking audio for %s: %v", source, err)
		}
		return false
	}

	var probeData struct {
		Streams []json.RawMessage `json:"streams"`
	}
	if err := json.Unmarshal(output, &probeData); err != nil {
		log.Printf("[Probe] Malformed ffprobe output for %s: %v", source, err)
		return false
	}

	return len(probeData.Streams) > 0
}

// OutputPath returns a path inside the render scratch directory.
func (s *FFmpegService) OutputPath(filename string) string {
	return filepath.Join(s.OutputDir, filename)
}

// ThumbnailPath returns a path inside the thumbnail scratch directory.
func (s *FFmpegService) ThumbnailPath(filename string) string {
	return filepath.Join(s.ThumbnailDir, filename)
}

// Cleanup removes local scratch files, logging rather than failing on error.
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[FFmpeg] Failed to clean up %s: %v", path, err)
		}
	}
}
