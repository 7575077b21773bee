package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pixaworks/renderer/internal/models"
)

// Filter-graph compilation for the merge pass. Everything in this file is a
// pure function of its inputs: identical timelines produce byte-identical
// argument lists, which is what makes the graph testable and debuggable.
//
// Input registration order is fixed and is the sole addressing scheme into
// the graph: every clip's primary source first, then each distinct external
// per-clip audio source, then the background audio source. The 0-based index
// assigned in that order is what the per-stream labels reference.

// ffnum formats a duration or volume the shortest way ("5", "0.5", "2.75").
func ffnum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// BuildMergeArgs compiles a timeline into one ffmpeg invocation that trims,
// normalizes and concatenates every clip's video and audio into a single
// H.264/AAC mp4 at outputPath. Clips must already carry their probed
// HasAudio flag. The logo overlay is deliberately not part of this pass —
// it composites onto the flattened output in a second invocation.
func BuildMergeArgs(clips []models.Clip, outputPath string, bgAudio *models.BackgroundAudio) ([]string, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("no clips to merge")
	}

	outWidth := models.DefaultCanvasWidth
	outHeight := models.DefaultCanvasHeight
	if clips[0].Width > 0 {
		outWidth = clips[0].Width
	}
	if clips[0].Height > 0 {
		outHeight = clips[0].Height
	}

	var (
		inputs  []string
		filters []string
	)

	inputIndex := 0
	videoInput := make([]int, len(clips))
	extAudioInput := make([]int, len(clips))
	for i := range extAudioInput {
		extAudioInput[i] = -1
	}

	// 1. Inputs: clip sources first, in timeline order.
	for i := range clips {
		clip := &clips[i]
		if clip.Kind == models.ClipKindImage {
			// Loop the still for its nominal duration; the trim below cuts
			// it down to the effective duration.
			inputs = append(inputs, "-loop", "1", "-t", ffnum(clip.Duration), "-i", clip.SourceURL)
		} else {
			inputs = append(inputs, "-i", clip.SourceURL)
		}
		videoInput[i] = inputIndex
		inputIndex++
	}

	// 2. External per-clip audio sources.
	for i := range clips {
		if clips[i].Audio != nil && clips[i].Audio.SourceURL != "" {
			inputs = append(inputs, "-i", clips[i].Audio.SourceURL)
			extAudioInput[i] = inputIndex
			inputIndex++
		}
	}

	// 3. Background audio source.
	bgInput := -1
	if bgAudio != nil && bgAudio.SourceURL != "" {
		inputs = append(inputs, "-i", bgAudio.SourceURL)
		bgInput = inputIndex
		inputIndex++
	}

	// 4. Per-clip video and audio chains.
	for i := range clips {
		clip := &clips[i]
		vIn := videoInput[i]
		start := clip.StartTrim
		duration := clip.EffectiveDuration()
		if duration <= 0 {
			return nil, fmt.Errorf("clip %d has non-positive effective duration %s", i, ffnum(duration))
		}

		if clip.Kind == models.ClipKindImage {
			// Blurred backdrop compositing: a canvas-filling blurred copy
			// underneath an aspect-preserving scaled copy, so stills never
			// letterbox against black.
			filters = append(filters,
				fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,gblur=sigma=50,eq=brightness=-0.1[bg%d]",
					vIn, outWidth, outHeight, outWidth, outHeight, i),
				fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease[fg%d]",
					vIn, outWidth, outHeight, i),
				fmt.Sprintf("[bg%d][fg%d]overlay=(W-w)/2:(H-h)/2,trim=duration=%s,setpts=PTS-STARTPTS,setsar=1[v%d]",
					i, i, ffnum(duration), i),
			)
		} else {
			filters = append(filters,
				fmt.Sprintf("[%d:v]trim=start=%s:duration=%s,setpts=PTS-STARTPTS,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[v%d]",
					vIn, ffnum(start), ffnum(duration), outWidth, outHeight, outWidth, outHeight, i),
			)
		}

		// Audio layers in priority order: embedded stream, then external
		// overlay. Multiple layers are mixed without normalization so the
		// authored volume balance survives.
		var audioLayers []string

		if clip.HasAudio {
			filters = append(filters,
				fmt.Sprintf("[%d:a]atrim=start=%s:duration=%s,asetpts=PTS-STARTPTS,volume=%s[va%d]",
					vIn, ffnum(start), ffnum(duration), ffnum(clip.EffectiveVolume()), i),
			)
			audioLayers = append(audioLayers, fmt.Sprintf("[va%d]", i))
		}

		if extAudioInput[i] >= 0 {
			aStart, aDur := clip.Audio.Window()
			aDur = math.Min(aDur, duration)

			filters = append(filters,
				fmt.Sprintf("[%d:a]atrim=start=%s:duration=%s,asetpts=PTS-STARTPTS,volume=%s[ea%d]",
					extAudioInput[i], ffnum(aStart), ffnum(aDur), ffnum(clip.Audio.EffectiveVolume()), i),
			)
			audioLayers = append(audioLayers, fmt.Sprintf("[ea%d]", i))
		}

		if len(audioLayers) > 0 {
			filters = append(filters,
				fmt.Sprintf("%samix=inputs=%d:normalize=0[a%d]", strings.Join(audioLayers, ""), len(audioLayers), i),
			)
		} else {
			// Silence of exactly the effective duration. Audio concat needs
			// one segment per clip, so silent clips contribute a placeholder
			// that keeps the two concatenations in step.
			filters = append(filters,
				fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=48000:d=%s[a%d]", ffnum(duration), i),
			)
		}
	}

	// 5. Independent video-only and audio-only concatenations.
	var vLabels, aLabels strings.Builder
	for i := range clips {
		fmt.Fprintf(&vLabels, "[v%d]", i)
		fmt.Fprintf(&aLabels, "[a%d]", i)
	}
	filters = append(filters,
		fmt.Sprintf("%sconcat=n=%d:v=1:a=0[concatv]", vLabels.String(), len(clips)),
		fmt.Sprintf("%sconcat=n=%d:v=0:a=1[concata]", aLabels.String(), len(clips)),
	)

	// 6. Background audio: loop if requested, trim to the summed clip
	// durations, then mix under the concatenated clip audio.
	audioOut := "[concata]"
	if bgInput >= 0 {
		var totalDuration float64
		for i := range clips {
			totalDuration += clips[i].EffectiveDuration()
		}

		var bgChain strings.Builder
		fmt.Fprintf(&bgChain, "[%d:a]", bgInput)
		if bgAudio.IsLooping {
			bgChain.WriteString("aloop=loop=-1:size=2e9,")
		}
		fmt.Fprintf(&bgChain, "atrim=0:%s,asetpts=PTS-STARTPTS,volume=%s[bg]",
			ffnum(totalDuration), ffnum(bgAudio.EffectiveVolume()))

		filters = append(filters,
			bgChain.String(),
			"[concata][bg]amix=inputs=2:duration=longest:dropout_transition=2[mixout]",
		)
		audioOut = "[mixout]"
	}

	args := append([]string{}, inputs...)
	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[concatv]",
		"-map", audioOut,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)

	return args, nil
}

// LogoBox is the computed pixel geometry for a logo overlay.
type LogoBox struct {
	Width  int
	Height int
	X      int
	Y      int
}

// ComputeLogoBox converts the logo's percentage geometry into pixels on the
// given canvas. Height comes from the original image dimensions, never from
// the payload's aspectRatio field. The position is clamped so the whole box
// stays on-canvas.
func ComputeLogoBox(logo *models.Logo, canvasWidth, canvasHeight int) LogoBox {
	width := int(math.Round(logo.Width / 100 * float64(canvasWidth)))

	aspect := float64(logo.OriginalWidth) / float64(logo.OriginalHeight)
	height := int(math.Round(float64(width) / aspect))

	x := int(math.Round(logo.X / 100 * float64(canvasWidth)))
	y := int(math.Round(logo.Y / 100 * float64(canvasHeight)))

	maxX := canvasWidth - width
	maxY := canvasHeight - height
	x = clampInt(x, 0, maxX)
	y = clampInt(y, 0, maxY)

	return LogoBox{Width: width, Height: height, X: x, Y: y}
}

// clampInt pins v into [lo, hi]. The lower bound wins when the interval is
// empty (hi < lo), so an oversized box pins to the canvas origin instead of
// drifting off-canvas.
func clampInt(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// BuildLogoArgs compiles the overlay pass: scale the logo into its computed
// pixel box, force an alpha channel, apply the requested opacity, and overlay
// at the clamped position. The audio stream is copied through untouched.
func BuildLogoArgs(videoPath string, logo *models.Logo, canvasWidth, canvasHeight int, outputPath string) []string {
	box := ComputeLogoBox(logo, canvasWidth, canvasHeight)

	filter := fmt.Sprintf(
		"[1:v]scale=%d:%d,format=rgba,colorchannelmixer=aa=%s[logo];[0:v][logo]overlay=%d:%d",
		box.Width, box.Height, ffnum(logo.Opacity), box.X, box.Y,
	)

	return []string{
		"-i", videoPath,
		"-i", logo.SourceURL,
		"-filter_complex", filter,
		"-c:a", "copy",
		"-y",
		outputPath,
	}
}

// BuildThumbnailArgs extracts a single frame at offset, scaled to the canvas.
func BuildThumbnailArgs(videoPath string, offset float64, width, height int, outputPath string) []string {
	return []string{
		"-ss", ffnum(offset),
		"-i", videoPath,
		"-frames:v", "1",
		"-qscale:v", "2",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-y",
		outputPath,
	}
}
