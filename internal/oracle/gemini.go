package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/instasplit/instasplit-agent/internal/gemini"
)

const analyzePrompt = `Act as a Google Veo Vision Engine. Analyze this video frame based on cinematic standards (composition, lighting, motion blur, engagement).

Strictly Output JSON with these fields:
1. title: A super clickbait/viral title (max 6 words).
2. description: One exciting sentence summarizing the action.
3. viralScore: An integer (0-100). Be strict. Only give >90 for perfect "Veo-quality" shots. Average shots should be 40-60.
4. explanation: 5-word reason for the rank (e.g. "Perfect lighting and composition").
5. hashtags: 5 relevant tags.`

var analysisSchema = &gemini.Schema{
	Type: "OBJECT",
	Properties: map[string]*gemini.Schema{
		"title":       {Type: "STRING"},
		"description": {Type: "STRING"},
		"viralScore":  {Type: "NUMBER"},
		"explanation": {Type: "STRING"},
		"hashtags":    {Type: "ARRAY", Items: &gemini.Schema{Type: "STRING"}},
	},
}

// GeminiAnalyzer rates frames with a Gemini vision model.
type GeminiAnalyzer struct {
	client *gemini.Client
	model  string
	logger *slog.Logger
}

func NewGeminiAnalyzer(client *gemini.Client, model string, logger *slog.Logger) *GeminiAnalyzer {
	return &GeminiAnalyzer{client: client, model: model, logger: logger}
}

func (a *GeminiAnalyzer) Name() string { return "gemini:" + a.model }

type geminiAnalysis struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ViralScore  *float64 `json:"viralScore"`
	Explanation string   `json:"explanation"`
	Hashtags    []string `json:"hashtags"`
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, frame []byte, mimeType string) (Analysis, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	resp, err := a.client.GenerateContent(ctx, a.model, &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{
			Parts: []gemini.Part{
				gemini.BytesPart(frame, mimeType),
				gemini.TextPart(analyzePrompt),
			},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   analysisSchema,
		},
	})
	if err != nil {
		return Analysis{}, err
	}
	analysis, err := parseAnalysis(resp.Text())
	if err != nil {
		return Analysis{}, err
	}
	a.logger.Debug("frame analyzed", "model", a.model, "score", analysis.Score)
	return analysis, nil
}

func parseAnalysis(text string) (Analysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return Analysis{}, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	var raw geminiAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.ViralScore == nil {
		return Analysis{}, fmt.Errorf("%w: missing viralScore", ErrMalformedResponse)
	}

	return Analysis{
		Title:       raw.Title,
		Description: raw.Description,
		Score:       roundScore(*raw.ViralScore),
		Explanation: raw.Explanation,
		Tags:        raw.Hashtags,
	}.Normalize(), nil
}
