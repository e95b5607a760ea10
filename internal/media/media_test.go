package media

import (
	"context"
	"errors"
	"testing"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
    {"index": 1, "codec_name": "aac", "codec_type": "audio"},
    {"index": 2, "codec_name": "mov_text", "codec_type": "subtitle"}
  ],
  "format": {
    "filename": "/tmp/x/episode.mp4",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "3605.480000",
    "size": "734003200"
  }
}`

func TestParseProbe(t *testing.T) {
	res, err := ParseProbe([]byte(sampleProbe))
	require.NoError(t, err)

	assert.InDelta(t, 3605.48, res.Duration, 1e-6)
	assert.Equal(t, int64(734003200), res.SizeBytes)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 1080, res.Height)
	assert.Equal(t, "h264", res.VideoCodec)
	assert.Equal(t, "aac", res.AudioCodec)
	assert.True(t, res.HasVideo())
	assert.True(t, res.HasAudio())

	meta := res.Metadata("/tmp/x/episode.mp4", models.PlatformOther)
	assert.Equal(t, "episode", meta.Title)
	assert.Equal(t, models.PlatformOther, meta.Platform)
}

func TestParseProbeAudioOnly(t *testing.T) {
	res, err := ParseProbe([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"12.5"}}`))
	require.NoError(t, err)
	assert.False(t, res.HasVideo())
	assert.Equal(t, 12.5, res.Duration)
}

func TestParseProbeErrors(t *testing.T) {
	_, err := ParseProbe([]byte("not json"))
	var parseErr *apperrors.ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = ParseProbe([]byte(`{"streams":[],"format":{}}`))
	assert.Error(t, err)
}

func TestFrameTimes(t *testing.T) {
	assert.Equal(t, []float64{12.5, 37.5, 62.5, 87.5}, FrameTimes(100, 4))
	assert.Nil(t, FrameTimes(100, 0))
	assert.Nil(t, FrameTimes(0, 4))
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), "ffmpeg", "/nonexistent/ffmpeg-binary", "cut")

	var toolErr *apperrors.ExternalToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "ffmpeg", toolErr.Tool)
	assert.Equal(t, "cut", toolErr.Op)
	assert.Equal(t, -1, toolErr.ExitCode)
}

func TestAudioArgsUseSpeechBitrate(t *testing.T) {
	args := audioArgs("in.mp4", "out.mp3")
	assert.Equal(t, []string{"-i", "in.mp4", "-vn", "-ac", "1", "-ar", "16000", "-b:a", "16k", "-y", "out.mp3"}, args)
}

func TestAudioBytes(t *testing.T) {
	assert.Equal(t, int64(2000), AudioBytes(1))
	assert.Equal(t, int64(7_200_000), AudioBytes(3600))
}
