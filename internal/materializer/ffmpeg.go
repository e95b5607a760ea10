package materializer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bobarin/clipforge/internal/models"
)

// renderJob is everything needed to build one ffmpeg invocation.
type renderJob struct {
	Source       string
	Start        float64
	Duration     float64
	Spec         PlatformSpec
	CaptionPath  string
	CaptionMode  models.CaptionMode
	CaptionStyle string
	Output       string
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// videoFilter scales to cover the target frame, then center-crops to it.
func videoFilter(job renderJob) string {
	w, h := job.Spec.Width, job.Spec.Height
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1", w, h, w, h)

	if job.CaptionPath != "" && job.CaptionMode == models.CaptionModeBurn {
		vf += fmt.Sprintf(",subtitles='%s'", escapeFFmpegFilterPath(job.CaptionPath))
		if job.CaptionStyle != "" {
			vf += fmt.Sprintf(":force_style='%s'", job.CaptionStyle)
		}
	}
	return vf
}

// renderArgs cuts [Start, Start+Duration) from the source with input
// seeking, so the output timeline (and any caption track) starts at zero.
func renderArgs(job renderJob) []string {
	spec := job.Spec
	attach := job.CaptionPath != "" && job.CaptionMode == models.CaptionModeAttach

	args := []string{
		"-hide_banner",
		"-ss", seconds(job.Start),
		"-i", job.Source,
	}
	if attach {
		args = append(args, "-i", job.CaptionPath)
	}

	args = append(args,
		"-t", seconds(job.Duration),
		"-map", "0:v:0",
		"-map", "0:a:0?",
	)
	if attach {
		args = append(args, "-map", "1:0", "-c:s", "mov_text")
	}

	args = append(args,
		"-vf", videoFilter(job),
		"-r", strconv.Itoa(spec.FPS),
		"-c:v", spec.VideoCodec,
		"-preset", spec.Preset,
		"-crf", strconv.Itoa(spec.CRF),
	)
	if spec.MaxBitrate != "" {
		args = append(args, "-maxrate", spec.MaxBitrate, "-bufsize", spec.MaxBitrate)
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:a", spec.AudioCodec,
		"-b:a", spec.AudioBitrate,
		"-movflags", "+faststart",
		"-y",
		job.Output,
	)
	return args
}

// thumbnailArgs grabs a single frame at offset seconds into the rendered clip.
func thumbnailArgs(clip string, offset float64, output string) []string {
	return []string{
		"-hide_banner",
		"-ss", seconds(offset),
		"-i", clip,
		"-frames:v", "1",
		"-q:v", "3",
		"-y",
		output,
	}
}

// escapeFFmpegFilterPath escapes special characters in file paths for FFmpeg filter syntax.
// FFmpeg filter strings treat colons, backslashes, and single quotes specially.
func escapeFFmpegFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

// captionStyle maps a caption position onto libass force_style overrides.
func captionStyle(position string) string {
	switch position {
	case "top":
		return "Alignment=8,MarginV=80,FontSize=14,Outline=2"
	case "middle":
		return "Alignment=5,FontSize=14,Outline=2"
	default:
		return "Alignment=2,MarginV=120,FontSize=14,Outline=2"
	}
}
