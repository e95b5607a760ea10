package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const transcriptJSON = `{
  "language": "en",
  "duration": 60,
  "segments": [
    {"start": 0, "end": 8, "text": "intro nobody needs"},
    {"start": 8, "end": 14, "text": "here is the trick"},
    {"start": 14, "end": 20, "text": "and it works"}
  ]
}`

func TestCaptionsRender(t *testing.T) {
	path := writeFile(t, "transcript.json", transcriptJSON)

	out, err := execute(t, "captions", "render", path, "--start", "10", "--end", "20", "--position", "top")
	require.NoError(t, err)

	assert.Equal(t, "WEBVTT\n"+
		"\n1\n00:00:00.000 --> 00:00:04.000 line:10%\nhere is the trick\n"+
		"\n2\n00:00:04.000 --> 00:00:10.000 line:10%\nand it works\n", out)
}

func TestCaptionsRenderAcceptsSegmentList(t *testing.T) {
	path := writeFile(t, "segments.json", `[{"start": 1, "end": 3, "text": "hello"}]`)

	out, err := execute(t, "captions", "render", path, "--start", "0", "--end", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "00:00:01.000 --> 00:00:03.000")
	assert.Contains(t, out, "hello")
}

func TestCaptionsRenderRejectsBadInput(t *testing.T) {
	path := writeFile(t, "transcript.json", transcriptJSON)

	_, err := execute(t, "captions", "render", path, "--start", "20", "--end", "10")
	assert.ErrorContains(t, err, "must be after")

	garbage := writeFile(t, "garbage.json", `"not a transcript"`)
	_, err = execute(t, "captions", "render", garbage, "--start", "0", "--end", "10")
	assert.ErrorContains(t, err, "not a transcript")

	_, err = execute(t, "captions", "render")
	assert.Error(t, err)
}

func TestCaptionsParse(t *testing.T) {
	path := writeFile(t, "clip.vtt", "WEBVTT\n\n1\n00:00:00.000 --> 00:00:02.500 line:90%\nfirst line\nsecond line\n")

	out, err := execute(t, "captions", "parse", path)
	require.NoError(t, err)

	var track models.CaptionTrack
	require.NoError(t, json.Unmarshal([]byte(out), &track))
	assert.Equal(t, "bottom", track.Position)
	require.Len(t, track.Cues, 1)
	assert.Equal(t, 2.5, track.Cues[0].End)
	assert.Equal(t, []string{"first line", "second line"}, track.Cues[0].Lines)

	bad := writeFile(t, "bad.vtt", "not vtt")
	_, err = execute(t, "captions", "parse", bad)
	assert.Error(t, err)
}

func TestPlatformsTable(t *testing.T) {
	out, err := execute(t, "platforms", "--specs", "")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	for _, name := range materializer.DefaultRegistry().Names() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "1080x1920")
}

func TestPlatformsJSONWithOverrides(t *testing.T) {
	specs := writeFile(t, "platforms.yaml", "platforms:\n  tiktok:\n    max_duration: 180\n  threads:\n    max_duration: 300\n")

	out, err := execute(t, "platforms", "--specs", specs, "--json")
	require.NoError(t, err)

	var got []materializer.PlatformSpec
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	byName := map[string]materializer.PlatformSpec{}
	for _, s := range got {
		byName[s.Name] = s
	}
	assert.Equal(t, 180.0, byName["tiktok"].MaxDuration)
	assert.Equal(t, 300.0, byName["threads"].MaxDuration)
	assert.Equal(t, byName[materializer.DefaultPlatform].Width, byName["threads"].Width)
}

func TestProbeMissingFile(t *testing.T) {
	_, err := execute(t, "probe", filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, isURL("http://twitch.tv/videos/1"))
	assert.False(t, isURL("/tmp/video.mp4"))
	assert.False(t, isURL("ftp://host/file"))
	assert.False(t, isURL("https://"))
}
