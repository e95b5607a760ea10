package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/media"
	"google.golang.org/genai"
)

// GeminiScorer rates frames with a Gemini vision model in a single request.
type GeminiScorer struct {
	client *genai.Client
	model  string
}

func NewGeminiScorer(ctx context.Context, apiKey, model string) (*GeminiScorer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiScorer{client: client, model: model}, nil
}

type frameRating struct {
	Frame int     `json:"frame"`
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

const framePrompt = `You are shown numbered frames sampled evenly from one video.
Rate each frame from 0 to 100 for how likely the moment around it is to hold attention as a short vertical clip
(faces, action, reactions, on-screen text, visual change). Give each a label of a few words.
Answer with a JSON array only: [{"frame": <number>, "score": <0-100>, "label": "<few words>"}]`

func (g *GeminiScorer) ScoreFrames(ctx context.Context, frames []media.Frame) ([]FrameScore, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	parts := []*genai.Part{genai.NewPartFromText(framePrompt)}
	for i, f := range frames {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", i, err)
		}
		parts = append(parts,
			genai.NewPartFromText(fmt.Sprintf("Frame %d (t=%.1fs):", i, f.Time)),
			genai.NewPartFromBytes(data, "image/jpeg"),
		)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0.2),
		},
	)
	if err != nil {
		return nil, apperrors.NewExternalService("vision scoring", 0, "request failed", nil, err)
	}

	return parseFrameRatings(resp.Text(), frames)
}

// parseFrameRatings maps ratings back onto frame times. Ratings pointing at
// unknown frames are ignored.
func parseFrameRatings(raw string, frames []media.Frame) ([]FrameScore, error) {
	var ratings []frameRating
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ratings); err != nil {
		recovered, ok := ExtractFirstArray(raw)
		if !ok {
			return nil, &apperrors.ParseError{What: "frame ratings", Raw: excerpt(raw), Err: err}
		}
		if err := json.Unmarshal([]byte(recovered), &ratings); err != nil {
			return nil, &apperrors.ParseError{What: "frame ratings", Raw: excerpt(raw), Err: err}
		}
	}

	scores := make([]FrameScore, 0, len(ratings))
	for _, r := range ratings {
		if r.Frame < 0 || r.Frame >= len(frames) {
			continue
		}
		scores = append(scores, FrameScore{Time: frames[r.Frame].Time, Score: r.Score, Label: r.Label})
	}
	return scores, nil
}
