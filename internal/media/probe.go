package media

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
)

// ProbeResult is the subset of ffprobe output the pipeline cares about.
type ProbeResult struct {
	Duration   float64 // seconds
	SizeBytes  int64
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	Container  string
}

// HasVideo reports whether a video stream was found.
func (p *ProbeResult) HasVideo() bool { return p.VideoCodec != "" }

// HasAudio reports whether an audio stream was found.
func (p *ProbeResult) HasAudio() bool { return p.AudioCodec != "" }

// Metadata converts the probe into source metadata, using the file name as
// the title.
func (p *ProbeResult) Metadata(path string, platform models.Platform) models.SourceMetadata {
	name := filepath.Base(path)
	return models.SourceMetadata{
		Title:      strings.TrimSuffix(name, filepath.Ext(name)),
		Duration:   p.Duration,
		Width:      p.Width,
		Height:     p.Height,
		VideoCodec: p.VideoCodec,
		AudioCodec: p.AudioCodec,
		Container:  p.Container,
		Platform:   platform,
	}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
}

// Probe runs ffprobe on a local file.
func Probe(ctx context.Context, ffprobePath, path string) (*ProbeResult, error) {
	out, err := Run(ctx, "ffprobe", ffprobePath, "probe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}
	return ParseProbe(out)
}

// ParseProbe decodes `ffprobe -print_format json -show_format -show_streams`.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &apperrors.ParseError{What: "ffprobe output", Raw: string(data), Err: err}
	}

	res := &ProbeResult{Container: out.Format.FormatName}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, &apperrors.ParseError{What: "ffprobe duration", Raw: out.Format.Duration, Err: err}
		}
		res.Duration = d
	}
	if out.Format.Size != "" {
		if n, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
			res.SizeBytes = n
		}
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.VideoCodec == "" {
				res.VideoCodec = s.CodecName
				res.Width, res.Height = s.Width, s.Height
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}

	if res.Duration <= 0 {
		return nil, fmt.Errorf("ffprobe reported no duration")
	}
	return res, nil
}
