package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Frame is one still sampled from a video.
type Frame struct {
	Path string
	Time float64 // seconds from the start of the source
}

// AudioBitrate is the bitrate of extracted speech tracks in bits per second.
// At 16 kb/s a 25 MiB upload holds about three and a half hours.
const AudioBitrate = 16_000

// AudioBytes estimates the size of an extracted track lasting seconds.
func AudioBytes(seconds float64) int64 {
	return int64(seconds * AudioBitrate / 8)
}

// ExtractAudio writes a mono 16kHz mp3 of the source for transcription.
func ExtractAudio(ctx context.Context, ffmpegPath, input, output string) error {
	_, err := Run(ctx, "ffmpeg", ffmpegPath, "extract audio", audioArgs(input, output)...)
	return err
}

func audioArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", strconv.Itoa(AudioBitrate/1000) + "k",
		"-y",
		output,
	}
}

// FrameTimes returns n timestamps spread evenly over duration, each at the
// middle of its slice so the very first and last frames are never sampled.
func FrameTimes(duration float64, n int) []float64 {
	if n <= 0 || duration <= 0 {
		return nil
	}
	step := duration / float64(n)
	times := make([]float64, n)
	for i := range times {
		times[i] = step * (float64(i) + 0.5)
	}
	return times
}

// ExtractFrames grabs n evenly spaced JPEG frames into dir.
func ExtractFrames(ctx context.Context, ffmpegPath, input, dir string, duration float64, n int) ([]Frame, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}

	times := FrameTimes(duration, n)
	frames := make([]Frame, 0, len(times))
	for i, t := range times {
		out := filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i))
		_, err := Run(ctx, "ffmpeg", ffmpegPath, "extract frame",
			"-ss", strconv.FormatFloat(t, 'f', 3, 64),
			"-i", input,
			"-frames:v", "1",
			"-vf", "scale=512:-2",
			"-q:v", "4",
			"-y",
			out,
		)
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Path: out, Time: t})
	}
	return frames, nil
}
