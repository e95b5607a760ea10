package analyzer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidatesDirect(t *testing.T) {
	got, err := ParseCandidates(`  [{"startTime": 1.5, "endTime": "00:31", "title": "x", "viralityScore": "77"}]  `)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Number(1.5), *got[0].StartTime)
	assert.Equal(t, Number(31), *got[0].EndTime)
	assert.Equal(t, Number(77), *got[0].Score)
}

func TestParseCandidatesMissingFieldsStayNil(t *testing.T) {
	got, err := ParseCandidates(`[{"title": "only a title"}]`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].StartTime)
	assert.Nil(t, got[0].Score)
}

func TestParseCandidatesRecovery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"code fence", "```json\n[{\"title\":\"a\"}]\n```", 1},
		{"wrapping object", `{"clips": [{"title": "a"}, {"title": "b"}]}`, 2},
		{"bracket in prose first", "Note [sic]: here you go [{\"title\":\"a ] tricky\"}]", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCandidates(tt.raw)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseCandidatesFails(t *testing.T) {
	for _, raw := range []string{"", "no array here", `[{"title": "unterminated"`, `[1, 2, 3]`} {
		_, err := ParseCandidates(raw)
		var parseErr *apperrors.ParseError
		assert.ErrorAs(t, err, &parseErr, "input %q", raw)
	}
}

func TestExtractFirstArray(t *testing.T) {
	got, ok := ExtractFirstArray(`x ["a]", ["b"]] y [1]`)
	require.True(t, ok)
	assert.Equal(t, `["a]", ["b"]]`, got)

	_, ok = ExtractFirstArray(`[unclosed`)
	assert.False(t, ok)
}

func TestParseCandidatesFailureKeepsValidUTF8(t *testing.T) {
	_, err := ParseCandidates("x" + strings.Repeat("é", 1500))
	require.Error(t, err)

	var parseErr *apperrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.True(t, utf8.ValidString(parseErr.Raw))
	assert.True(t, utf8.ValidString(apperrors.Diagnostic(err)))
}
