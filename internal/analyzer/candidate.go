package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bobarin/clipforge/internal/models"
)

// RawCandidate is one element of a strategy's answer. Required fields are
// pointers so a missing key can be told apart from a zero.
type RawCandidate struct {
	StartTime      *Number  `json:"startTime"`
	EndTime        *Number  `json:"endTime"`
	Title          *string  `json:"title"`
	Reason         string   `json:"reason"`
	Score          *Number  `json:"viralityScore"`
	EngagementType string   `json:"engagementType"`
	HasSetup       bool     `json:"hasSetup"`
	HasPayoff      bool     `json:"hasPayoff"`
	ContentTags    []string `json:"contentTags"`
}

func (rc RawCandidate) complete() bool {
	return rc.StartTime != nil && rc.EndTime != nil && rc.Score != nil &&
		rc.Title != nil && strings.TrimSpace(*rc.Title) != ""
}

// Number accepts a JSON number, a numeric string, or a "MM:SS(.ms)" /
// "HH:MM:SS(.ms)" timestamp. Models produce all three.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := parseNumber(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*n = Number(v)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

func parseNumber(s string) (float64, error) {
	if !strings.Contains(s, ":") {
		return strconv.ParseFloat(s, 64)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

func ptr[T any](v T) *T { return &v }

func num(v float64) *Number { return ptr(Number(v)) }

// sortByScore orders best first; equal scores keep their proposal order.
func sortByScore(candidates []models.ClipCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}
