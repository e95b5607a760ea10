package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
)

const maxRawExcerpt = 2000

// ParseCandidates decodes a model answer into raw candidates. The answer
// should be a bare JSON array; if it is not, one recovery pass looks for the
// first well-formed array inside it (prose, code fences, a wrapping object).
func ParseCandidates(raw string) ([]RawCandidate, error) {
	trimmed := strings.TrimSpace(raw)

	var candidates []RawCandidate
	if err := json.Unmarshal([]byte(trimmed), &candidates); err == nil {
		return candidates, nil
	}

	recovered, ok := ExtractFirstArray(trimmed)
	if !ok {
		return nil, &apperrors.ParseError{
			What: "analysis response",
			Raw:  excerpt(raw),
			Err:  fmt.Errorf("no JSON array found"),
		}
	}

	if err := json.Unmarshal([]byte(recovered), &candidates); err != nil {
		return nil, &apperrors.ParseError{What: "analysis response", Raw: excerpt(raw), Err: err}
	}
	return candidates, nil
}

// ExtractFirstArray returns the first substring of s that starts with '[',
// ends at its matching ']' and is valid JSON. Brackets inside JSON strings
// are ignored while matching.
func ExtractFirstArray(s string) (string, bool) {
	for start := strings.IndexByte(s, '['); start >= 0; {
		if end, ok := matchBracket(s, start); ok {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}

		next := strings.IndexByte(s[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBracket(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func excerpt(s string) string {
	return apperrors.Truncate(s, maxRawExcerpt)
}
