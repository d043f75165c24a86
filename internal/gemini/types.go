package gemini

import (
	"encoding/base64"
	"strings"
)

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is a base64 payload embedded in a request or response.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Text: text} }

// BytesPart builds an inline-data part from raw bytes.
func BytesPart(data []byte, mimeType string) Part {
	return Part{InlineData: &InlineData{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

// Bytes decodes the inline payload.
func (d *InlineData) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Data)
}

// Schema is the OpenAPI subset used for structured output.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type GenerationConfig struct {
	ResponseMIMEType   string       `json:"responseMimeType,omitempty"`
	ResponseSchema     *Schema      `json:"responseSchema,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *ImageConfig `json:"imageConfig,omitempty"`
}

type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Text concatenates the text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// InlineData returns the first inline payload of any candidate.
func (r *GenerateContentResponse) InlineData() *InlineData {
	if r == nil {
		return nil
	}
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return p.InlineData
			}
		}
	}
	return nil
}

type ImageInput struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MIMEType           string `json:"mimeType"`
}

type PredictInstance struct {
	Prompt string      `json:"prompt"`
	Image  *ImageInput `json:"image,omitempty"`
}

type PredictParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	SampleCount int    `json:"sampleCount,omitempty"`
}

type PredictRequest struct {
	Instances  []PredictInstance `json:"instances"`
	Parameters PredictParameters `json:"parameters"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type GeneratedVideo struct {
	Video struct {
		URI string `json:"uri"`
	} `json:"video"`
}

// Operation is a long-running job. Video results are reported under
// generateVideoResponse.generatedSamples; older responses use
// generatedVideos.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *OperationError `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []GeneratedVideo `json:"generatedSamples"`
		} `json:"generateVideoResponse,omitempty"`
		GeneratedVideos []GeneratedVideo `json:"generatedVideos,omitempty"`
	} `json:"response,omitempty"`
}

// VideoURI returns the first generated video's URI, or "".
func (o *Operation) VideoURI() string {
	if o == nil || o.Response == nil {
		return ""
	}
	if r := o.Response.GenerateVideoResponse; r != nil && len(r.GeneratedSamples) > 0 {
		return r.GeneratedSamples[0].Video.URI
	}
	if len(o.Response.GeneratedVideos) > 0 {
		return o.Response.GeneratedVideos[0].Video.URI
	}
	return ""
}
