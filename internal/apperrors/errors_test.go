package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidation("source_url", "is required"), http.StatusBadRequest},
		{"unsupported", &UnsupportedPlatformError{Host: "example.com"}, http.StatusBadRequest},
		{"not found wrapped", fmt.Errorf("load: %w", NewNotFound("project", uuid.Nil)), http.StatusNotFound},
		{"quota", &QuotaExceededError{Resource: "videos", Used: 10, Limit: 10}, http.StatusPaymentRequired},
		{"service", NewExternalService("transcription", 503, "unavailable", nil, nil), http.StatusBadGateway},
		{"tool", NewExternalTool("ffmpeg", "cut", 1, nil, errors.New("exit status 1")), http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestUserMessageHidesDiagnostics(t *testing.T) {
	output := []byte("frame=1 fps=0\n[libx264] error: something deep\nConversion failed!")
	err := fmt.Errorf("materialize clip: %w", NewExternalTool("ffmpeg", "cut", 1, output, errors.New("exit status 1")))

	msg := UserMessage(err)
	assert.Equal(t, "ffmpeg cut failed", msg)
	assert.NotContains(t, msg, "libx264")

	diag := Diagnostic(err)
	assert.Contains(t, diag, "Conversion failed!")
	assert.Contains(t, diag, "materialize clip")
}

func TestExternalToolOutputKeepsTail(t *testing.T) {
	long := strings.Repeat("x", maxDiagnosticLen) + "the real error"
	err := NewExternalTool("yt-dlp", "download", 1, []byte(long), nil)

	assert.True(t, strings.HasSuffix(err.Output, "the real error"))
	assert.LessOrEqual(t, len(err.Output), maxDiagnosticLen+3)
}

func TestTruncateKeepsCharactersWhole(t *testing.T) {
	s := "x" + strings.Repeat("é", 10) // 21 bytes, every é is two

	for maxLen := 0; maxLen <= len(s); maxLen++ {
		got := Truncate(s, maxLen)
		assert.True(t, utf8.ValidString(got), "maxLen %d", maxLen)
		assert.LessOrEqual(t, len(strings.TrimSuffix(got, "...")), maxLen)
	}
	assert.Equal(t, "xé...", Truncate(s, 4))
	assert.Equal(t, s, Truncate(s, len(s)))
}

func TestTailKeepsCharactersWhole(t *testing.T) {
	s := strings.Repeat("ü", 10) + "!"

	for maxLen := 1; maxLen < len(s); maxLen++ {
		got := tail(s, maxLen)
		assert.True(t, utf8.ValidString(got), "maxLen %d", maxLen)
		assert.True(t, strings.HasSuffix(got, "!"))
	}
	assert.Equal(t, "...ü!", tail(s, 4))
}

func TestDiagnosticIsValidUTF8(t *testing.T) {
	output := append([]byte("Fehler: Datei übersprungen "), 0xff, 0xfe)
	err := NewExternalTool("ffmpeg", "render", 1, output, errors.New("exit status 1"))
	assert.True(t, utf8.ValidString(Diagnostic(err)))
	assert.Contains(t, Diagnostic(err), "übersprungen")

	long := strings.Repeat("日本語", maxDiagnosticLen)
	svcErr := NewExternalService("analysis", 500, "bad answer", []byte(long), nil)
	assert.True(t, utf8.ValidString(svcErr.Body))
	assert.True(t, utf8.ValidString(UserMessage(errors.New(long))))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", &NotFoundError{Resource: "project"})))
	assert.False(t, IsNotFound(errors.New("project not found")))
}

func TestNotFoundMessage(t *testing.T) {
	id := uuid.MustParse("6f1c1c8e-9f2e-4a59-9f5e-2d7f1b0a1c11")
	assert.Equal(t, "project 6f1c1c8e-9f2e-4a59-9f5e-2d7f1b0a1c11 not found", NewNotFound("project", id).Error())
	assert.Equal(t, "usage counter not found", NewNotFound("usage counter", nil).Error())
}
