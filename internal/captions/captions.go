// Package captions turns a transcript into a clip-relative caption track and
// reads/writes it in WebVTT.
package captions

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/clipforge/internal/models"
)

const (
	DefaultMaxLineLength = 42

	// Last cue is stretched to the clip end when it stops more than this
	// many seconds early.
	gapFillThreshold = 2.0
)

// Window is a clip's span on the source timeline, in seconds.
type Window struct {
	Start float64
	End   float64
}

func (w Window) Duration() float64 { return w.End - w.Start }

type Options struct {
	MaxLineLength int
	Position      string // "top", "middle", "bottom" or a raw cue setting
}

// Format selects every transcript segment that overlaps the window, clamps it
// to the window, rebases it to zero and wraps its text. No overlap yields a
// valid track with no cues.
func Format(transcript *models.Transcript, win Window, opts Options) models.CaptionTrack {
	track := models.CaptionTrack{Position: opts.Position, Cues: []models.Cue{}}
	if transcript == nil || win.Duration() <= 0 {
		return track
	}

	maxLen := opts.MaxLineLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}

	for _, seg := range transcript.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if !(seg.Start < win.End && seg.End > win.Start) {
			continue
		}

		start := max(seg.Start, win.Start) - win.Start
		end := min(seg.End, win.End) - win.Start
		if end <= start {
			continue
		}

		lines := Wrap(text, maxLen)
		for i := range lines {
			lines[i] = Escape(lines[i])
		}
		track.Cues = append(track.Cues, models.Cue{Start: start, End: end, Lines: lines})
	}

	sort.SliceStable(track.Cues, func(i, j int) bool {
		return track.Cues[i].Start < track.Cues[j].Start
	})

	if n := len(track.Cues); n > 0 {
		last := &track.Cues[n-1]
		if win.Duration()-last.End > gapFillThreshold {
			last.End = win.Duration()
		}
	}

	return track
}

// Wrap breaks text into lines of at most maxLen characters, greedily, on word
// boundaries. A single word longer than maxLen gets a line of its own.
func Wrap(text string, maxLen int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		lines   []string
		current strings.Builder
		width   int // runes in current
	)
	for _, word := range words {
		n := utf8.RuneCountInString(word)
		if width > 0 && width+1+n > maxLen {
			lines = append(lines, current.String())
			current.Reset()
			width = 0
		}
		if width > 0 {
			current.WriteByte(' ')
			width++
		}
		current.WriteString(word)
		width += n
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape replaces the characters WebVTT cue text treats specially.
func Escape(s string) string {
	return escaper.Replace(s)
}
