package acquisition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedAll(p *OutputParser, lines ...string) {
	for _, l := range lines {
		p.Feed(l)
	}
}

func TestParserDestination(t *testing.T) {
	var p OutputParser
	feedAll(&p,
		"[youtube] Extracting URL: https://www.youtube.com/watch?v=abc",
		"[info] abc: Downloading 1 format(s): 22",
		"[download] Destination: /tmp/x/abc.mp4",
		"[download]   0.0% of   10.00MiB at  Unknown B/s ETA Unknown",
		"[download]  55.3% of   10.00MiB at    2.00MiB/s ETA 00:02",
		"[download] 100% of   10.00MiB in 00:00:05 at 2.00MiB/s",
	)

	assert.Equal(t, "/tmp/x/abc.mp4", p.Destination())
	assert.Equal(t, 100.0, p.Progress())
}

func TestParserMergeOverridesDestination(t *testing.T) {
	var p OutputParser
	feedAll(&p,
		"[download] Destination: /tmp/x/abc.f137.mp4",
		"[download] 100% of  100.00MiB",
		"[download] Destination: /tmp/x/abc.f140.m4a",
		`[Merger] Merging formats into "/tmp/x/abc.mp4"`,
		"Deleting original file /tmp/x/abc.f137.mp4 (pass -k to keep)",
	)
	assert.Equal(t, "/tmp/x/abc.mp4", p.Destination())

	// A stray destination line after the merge does not win.
	ev := p.Feed("[download] Destination: /tmp/x/other.mp4")
	assert.Equal(t, EventDestination, ev.Kind)
	assert.Equal(t, "/tmp/x/abc.mp4", p.Destination())
}

func TestParserAlreadyDownloaded(t *testing.T) {
	var p OutputParser
	ev := p.Feed("[download] /tmp/x/my video.mp4 has already been downloaded")

	assert.Equal(t, EventAlreadyDownloaded, ev.Kind)
	assert.Equal(t, "/tmp/x/my video.mp4", p.Destination())
}

func TestParserError(t *testing.T) {
	var p OutputParser
	ev := p.Feed("ERROR: [youtube] abc: Video unavailable\r\n")

	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "[youtube] abc: Video unavailable", p.LastError())
	assert.Empty(t, p.Destination())
}

func TestParserIgnoresNoise(t *testing.T) {
	var p OutputParser
	for _, line := range []string{"", "[info] Writing video metadata as JSON to: x.info.json", "[download] Resuming download"} {
		assert.Equal(t, EventNone, p.Feed(line).Kind, line)
	}
}
