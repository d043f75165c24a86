// Package oracle rates still frames. The Gemini analyzer asks a vision model
// for a title, description and 0-100 score; the heuristic analyzer scores
// frames locally when no credentials are configured.
package oracle

import (
	"context"
	"errors"
	"math"
	"strings"
)

const (
	DefaultExplanation = "Interesting visual content."
	DefaultTag         = "#viral"
	maxTitleRunes      = 120
)

// ErrMalformedResponse is returned when the oracle's reply is missing or is
// not the expected JSON document.
var ErrMalformedResponse = errors.New("malformed oracle response")

// Analyzer scores one encoded frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame []byte, mimeType string) (Analysis, error)
	Name() string
}

// Analysis is what the oracle says about a frame.
type Analysis struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Score       int      `json:"score"`
	Explanation string   `json:"explanation"`
	Tags        []string `json:"tags"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// Normalize clamps the score and fills the fields a sparse reply may omit.
func (a Analysis) Normalize() Analysis {
	if a.Score < 0 {
		a.Score = 0
	}
	if a.Score > 100 {
		a.Score = 100
	}
	a.Title = strings.TrimSpace(a.Title)
	if r := []rune(a.Title); len(r) > maxTitleRunes {
		a.Title = string(r[:maxTitleRunes])
	}
	a.Description = strings.TrimSpace(a.Description)
	if strings.TrimSpace(a.Explanation) == "" {
		a.Explanation = DefaultExplanation
	}

	tags := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		tags = []string{DefaultTag}
	}
	a.Tags = tags
	return a
}

// Degraded is the placeholder recorded for a window whose analysis failed.
func Degraded() Analysis {
	return Analysis{
		Title:       "Clip Analysis Failed",
		Description: "Could not analyze this specific frame.",
		Score:       0,
		Explanation: "AI Error",
		Tags:        []string{"#error"},
		Degraded:    true,
	}
}

// roundScore converts a model-reported score, which may be fractional.
func roundScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(v))
}
