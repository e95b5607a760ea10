package captions

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
)

var positionSettings = map[string]string{
	"top":    "line:10%",
	"middle": "line:50%",
	"bottom": "line:90%",
}

func positionSetting(position string) string {
	if s, ok := positionSettings[position]; ok {
		return s
	}
	return position
}

func positionName(setting string) string {
	for name, s := range positionSettings {
		if s == setting {
			return name
		}
	}
	return setting
}

// Timestamp formats seconds as HH:MM:SS.mmm.
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// Render writes the track as WebVTT: header, numbered cues, blank-line
// separated.
func Render(track models.CaptionTrack) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")

	setting := positionSetting(track.Position)
	for i, cue := range track.Cues {
		fmt.Fprintf(&b, "\n%d\n%s --> %s", i+1, Timestamp(cue.Start), Timestamp(cue.End))
		if setting != "" {
			b.WriteString(" " + setting)
		}
		b.WriteByte('\n')
		for _, line := range cue.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ParseTimestamp reads HH:MM:SS.mmm or MM:SS.mmm.
func ParseTimestamp(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	var total float64
	for _, p := range parts[:len(parts)-1] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + float64(n)
	}
	sec, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return total*60 + sec, nil
}

// Parse reads a track produced by Render (or any simple WebVTT file without
// styling blocks). Cue text is kept as written.
func Parse(data string) (models.CaptionTrack, error) {
	track := models.CaptionTrack{Cues: []models.Cue{}}
	scanner := bufio.NewScanner(strings.NewReader(data))

	if !scanner.Scan() || !strings.HasPrefix(strings.TrimPrefix(scanner.Text(), "\ufeff"), "WEBVTT") {
		return track, &apperrors.ParseError{What: "caption track", Raw: head(data), Err: fmt.Errorf("missing WEBVTT header")}
	}

	var cue *models.Cue
	flush := func() {
		if cue != nil {
			track.Cues = append(track.Cues, *cue)
			cue = nil
		}
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case cue == nil && strings.Contains(line, "-->"):
			c, position, err := parseTiming(line)
			if err != nil {
				return track, &apperrors.ParseError{What: "caption timing", Raw: line, Err: err}
			}
			if position != "" {
				track.Position = position
			}
			cue = &c
		case cue == nil:
			// cue identifier
		default:
			cue.Lines = append(cue.Lines, line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return track, &apperrors.ParseError{What: "caption track", Err: err}
	}
	return track, nil
}

func parseTiming(line string) (models.Cue, string, error) {
	left, right, _ := strings.Cut(line, "-->")
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return models.Cue{}, "", fmt.Errorf("missing end timestamp")
	}

	start, err := ParseTimestamp(left)
	if err != nil {
		return models.Cue{}, "", err
	}
	end, err := ParseTimestamp(fields[0])
	if err != nil {
		return models.Cue{}, "", err
	}
	if end < start {
		return models.Cue{}, "", fmt.Errorf("cue ends before it starts")
	}

	position := ""
	if len(fields) > 1 {
		position = positionName(strings.Join(fields[1:], " "))
	}
	return models.Cue{Start: start, End: end}, position, nil
}

func head(s string) string {
	return apperrors.Truncate(s, 200)
}
