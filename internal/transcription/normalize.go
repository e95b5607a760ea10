package transcription

import (
	"sort"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// Word-only responses are grouped into segments at sentence ends, at pauses
// longer than maxWordGap, or once a segment spans maxGroupSeconds.
const (
	maxWordGap      = 1.0
	maxGroupSeconds = 10.0
)

// Normalize converts a verbose_json response into a Transcript. Segments are
// sorted by start, blank ones dropped. A response with neither segments nor
// words is an ExternalServiceError.
func Normalize(resp openai.AudioResponse) (*models.Transcript, error) {
	segments := make([]models.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, models.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if len(segments) == 0 && len(resp.Words) > 0 {
		segments = groupWords(resp)
	}

	segments = lo.Filter(segments, func(s models.Segment, _ int) bool {
		return s.Text != "" && s.End >= s.Start
	})
	if len(segments) == 0 {
		return nil, apperrors.NewExternalService("transcription", 0, "response has no usable segments", []byte(resp.Text), nil)
	}
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })

	fullText := strings.TrimSpace(resp.Text)
	if fullText == "" {
		fullText = strings.Join(lo.Map(segments, func(s models.Segment, _ int) string { return s.Text }), " ")
	}

	duration := resp.Duration
	if last := lo.MaxBy(segments, func(a, b models.Segment) bool { return a.End > b.End }); last.End > duration {
		duration = last.End
	}

	return &models.Transcript{
		Language: normalizeLanguage(resp.Language),
		FullText: fullText,
		Duration: duration,
		Segments: segments,
	}, nil
}

func groupWords(resp openai.AudioResponse) []models.Segment {
	var (
		segments []models.Segment
		current  *models.Segment
		words    []string
	)
	flush := func() {
		if current != nil {
			current.Text = strings.Join(words, " ")
			segments = append(segments, *current)
		}
		current, words = nil, nil
	}

	for _, w := range resp.Words {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		if current != nil && (w.Start-current.End > maxWordGap || w.End-current.Start > maxGroupSeconds) {
			flush()
		}
		if current == nil {
			current = &models.Segment{Start: w.Start}
		}
		current.End = w.End
		words = append(words, word)
		if strings.HasSuffix(word, ".") || strings.HasSuffix(word, "?") || strings.HasSuffix(word, "!") {
			flush()
		}
	}
	flush()
	return segments
}

// Whisper reports full language names ("english"); store ISO codes where
// the common ones are known.
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[lang]; ok {
		return code
	}
	return lang
}
