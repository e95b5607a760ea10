package materializer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLookupFallsBackToDefault(t *testing.T) {
	r := DefaultRegistry()

	spec, ok := r.Lookup("myspace")
	assert.False(t, ok)
	assert.Equal(t, DefaultPlatform, spec.Name)
	assert.Equal(t, "9:16", spec.AspectRatio)
	assert.Equal(t, 1080, spec.Width)
	assert.Equal(t, 1920, spec.Height)
	assert.Equal(t, 60.0, spec.MaxDuration)
	assert.Equal(t, 100, spec.MaxFileSizeMB)

	spec, ok = r.Lookup("tiktok")
	assert.True(t, ok)
	assert.Equal(t, "tiktok", spec.Name)
}

func TestBuiltinPlatformsHaveDistinctCeilings(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"default", "instagram_reels", "linkedin", "tiktok", "x", "youtube_shorts"}, r.Names())

	seen := map[float64]string{}
	for _, spec := range r.All() {
		require.NoError(t, spec.validate())
		if spec.Name == DefaultPlatform {
			continue
		}
		if other, dup := seen[spec.MaxDuration]; dup {
			assert.NotEqual(t, r.specs[other].MaxFileSizeMB, spec.MaxFileSizeMB, "%s and %s share ceilings", other, spec.Name)
		}
		seen[spec.MaxDuration] = spec.Name
	}
}

func TestLoadRegistryOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platforms:
  tiktok:
    max_duration: 180
  threads:
    max_duration: 300
    max_file_size_mb: 500
`), 0644))

	r, err := LoadRegistry(path)
	require.NoError(t, err)

	tiktok, _ := r.Lookup("tiktok")
	assert.Equal(t, 180.0, tiktok.MaxDuration)
	assert.Equal(t, 287, tiktok.MaxFileSizeMB)

	threads, ok := r.Lookup("threads")
	require.True(t, ok)
	assert.Equal(t, "threads", threads.Name)
	assert.Equal(t, 1080, threads.Width)
	assert.Equal(t, 500, threads.MaxFileSizeMB)
}

func TestLoadRegistryRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platforms:\n  broken:\n    width: 0\n"), 0644))

	_, err := LoadRegistry(path)
	assert.ErrorContains(t, err, "width and height must be positive")

	r, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Len(t, r.Names(), 6)
}

func TestRenderArgsBurn(t *testing.T) {
	spec, _ := DefaultRegistry().Lookup("default")
	args := renderArgs(renderJob{
		Source:       "/in/source.mp4",
		Start:        12.5,
		Duration:     30,
		Spec:         spec,
		CaptionPath:  "/tmp/work:1/captions.vtt",
		CaptionMode:  models.CaptionModeBurn,
		CaptionStyle: "Alignment=2",
		Output:       "/tmp/work/clip.mp4",
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-ss 12.500 -i /in/source.mp4 -t 30.000")
	assert.Contains(t, joined, "scale=1080:1920:force_original_aspect_ratio=increase,crop=1080:1920,setsar=1")
	assert.Contains(t, joined, `subtitles='/tmp/work\:1/captions.vtt':force_style='Alignment=2'`)
	assert.NotContains(t, joined, "mov_text")
	assert.Equal(t, "/tmp/work/clip.mp4", args[len(args)-1])
}

func TestRenderArgsAttach(t *testing.T) {
	spec, _ := DefaultRegistry().Lookup("instagram_reels")
	args := renderArgs(renderJob{
		Source:      "/in/source.mp4",
		Duration:    20,
		Spec:        spec,
		CaptionPath: "/tmp/captions.vtt",
		CaptionMode: models.CaptionModeAttach,
		Output:      "/out/clip.mp4",
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /in/source.mp4 -i /tmp/captions.vtt")
	assert.Contains(t, joined, "-map 1:0 -c:s mov_text")
	assert.Contains(t, joined, "-maxrate 8M")
	assert.NotContains(t, joined, "subtitles=")
}

func TestEscapeFFmpegFilterPath(t *testing.T) {
	assert.Equal(t, `C\:\\clips\\it'\''s.vtt`, escapeFFmpegFilterPath(`C:\clips\it's.vtt`))
}

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

const fakeFFmpeg = `eval out=\${$#}
echo rendered > "$out"
`

const fakeFFprobe = `echo '{"streams":[{"codec_type":"video","codec_name":"h264","width":1080,"height":1920}],"format":{"duration":"30.0","size":"9"}}'
`

func TestMaterializeCleansUpAndMovesOutputs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	bin := t.TempDir()
	scratch := t.TempDir()
	out := t.TempDir()

	m := New(writeScript(t, bin, "ffmpeg", fakeFFmpeg), writeScript(t, bin, "ffprobe", fakeFFprobe), nil, scratch, zap.NewNop())
	candidate := models.ClipCandidate{ID: uuid.New(), StartTime: 10, EndTime: 40}
	track := &models.CaptionTrack{Cues: []models.Cue{{Start: 0, End: 2, Lines: []string{"hi"}}}}

	res, err := m.Materialize(context.Background(), "/in/source.mp4", candidate, "myspace", Options{
		Captions:    track,
		CaptionMode: models.CaptionModeBurn,
		OutputDir:   out,
	})
	require.NoError(t, err)

	assert.True(t, res.FellBack)
	assert.Equal(t, DefaultPlatform, res.Platform.Name)
	assert.Equal(t, 30000, res.DurationMs)
	assert.Equal(t, int64(9), res.ByteSize)
	assert.Equal(t, filepath.Join(out, candidate.ID.String()+"_default.mp4"), res.VideoPath)
	assert.FileExists(t, res.VideoPath)
	assert.FileExists(t, res.ThumbnailPath)
	assert.FileExists(t, res.CaptionPath)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "work dir must be removed")
}

func TestMaterializeFailureCleansUp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	bin := t.TempDir()
	scratch := t.TempDir()

	failing := writeScript(t, bin, "ffmpeg", "echo 'Conversion failed!' >&2\nexit 1\n")
	m := New(failing, writeScript(t, bin, "ffprobe", fakeFFprobe), nil, scratch, nil)

	_, err := m.Materialize(context.Background(), "/in/source.mp4",
		models.ClipCandidate{ID: uuid.New(), StartTime: 0, EndTime: 20}, "tiktok",
		Options{OutputDir: t.TempDir()})

	var toolErr *apperrors.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "ffmpeg", toolErr.Tool)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Contains(t, toolErr.Output, "Conversion failed!")

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMaterializeRejectsEmptyWindow(t *testing.T) {
	m := New("ffmpeg", "ffprobe", nil, t.TempDir(), nil)
	_, err := m.Materialize(context.Background(), "x", models.ClipCandidate{StartTime: 5, EndTime: 5}, "default", Options{OutputDir: t.TempDir()})

	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}
