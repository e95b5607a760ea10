package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatCompleter is the part of *openai.Client the transcript strategy uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// TranscriptStrategy asks a language model to pick moments from the
// timestamped transcript.
type TranscriptStrategy struct {
	client ChatCompleter
	model  string
	logger *zap.Logger
}

func NewTranscriptStrategy(client ChatCompleter, model string, logger *zap.Logger) *TranscriptStrategy {
	return &TranscriptStrategy{
		client: client,
		model:  model,
		logger: logging.Component(logger, "analyzer.transcript"),
	}
}

func (s *TranscriptStrategy) Name() string { return "transcript" }

func (s *TranscriptStrategy) Propose(ctx context.Context, in Input, opts models.AnalysisOptions) ([]RawCandidate, error) {
	if in.Transcript == nil || len(in.Transcript.Segments) == 0 {
		return nil, apperrors.NewValidation("transcript", "has no segments")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(opts)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(in)},
		},
		Temperature: 0.4,
	})
	if err != nil {
		return nil, openAIError("analysis", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewExternalService("analysis", 0, "no choices in response", nil, nil)
	}

	content := resp.Choices[0].Message.Content
	candidates, err := ParseCandidates(content)
	if err != nil {
		s.logger.Warn("could not parse model response",
			zap.Error(err),
			zap.String("raw", excerpt(content)),
		)
		return nil, err
	}
	return candidates, nil
}

func buildSystemPrompt(opts models.AnalysisOptions) string {
	var b strings.Builder
	b.WriteString("You are an editor who finds the moments of a long video that work as standalone short-form clips.\n\n")
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Each clip lasts between %.0f and %.0f seconds.\n", opts.MinDuration, opts.MaxDuration)
	fmt.Fprintf(&b, "- Return at most %d clips, best first.\n", opts.MaxClips)
	b.WriteString("- A clip must make sense without the rest of the video: it needs a hook, and ideally a setup and a payoff.\n")
	b.WriteString("- Start and end on sentence boundaries taken from the transcript timestamps.\n")
	b.WriteString("- Clips must not overlap.\n\n")
	b.WriteString("Answer with a JSON array only, no prose and no code fences. Each element:\n")
	b.WriteString(`{"startTime": seconds, "endTime": seconds, "title": "short hook title", "reason": "why it works", ` +
		`"viralityScore": 0-100, "engagementType": "funny|insightful|emotional|controversial|educational|surprising", ` +
		`"hasSetup": bool, "hasPayoff": bool, "contentTags": ["tag"]}`)
	b.WriteString("\n")
	return b.String()
}

func buildUserPrompt(in Input) string {
	var b strings.Builder
	if in.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", in.Title)
	}
	if in.ContentType != "" {
		fmt.Fprintf(&b, "Content type: %s\n", in.ContentType)
	}
	language := in.Language
	if language == "" && in.Transcript != nil {
		language = in.Transcript.Language
	}
	if language != "" {
		fmt.Fprintf(&b, "Language: %s\n", language)
	}
	fmt.Fprintf(&b, "Duration: %.1f seconds\n\nTranscript:\n", in.SourceDuration)

	for _, seg := range in.Transcript.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%.1f - %.1f] %s\n", seg.Start, seg.End, text)
	}
	return b.String()
}

// openAIError turns a go-openai failure into an ExternalServiceError with the
// HTTP status when there is one.
func openAIError(service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewExternalService(service, apiErr.HTTPStatusCode, apiErr.Message, nil, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperrors.NewExternalService(service, reqErr.HTTPStatusCode, "request failed", nil, err)
	}
	return apperrors.NewExternalService(service, 0, "request failed", nil, err)
}
