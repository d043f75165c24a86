// Package generate drives the generative media provider: text-to-video and
// text-to-image jobs plus the prompt helpers built on the text model.
package generate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/instasplit/instasplit-agent/internal/gemini"
	"github.com/instasplit/instasplit-agent/internal/logging"
)

var (
	// ErrInvalidCredential means the API key was rejected or is missing. It
	// is kept apart from other failures because the caller must re-authenticate.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNoImage           = errors.New("no image data returned")
	ErrNoVideo           = errors.New("no video URI returned")
	ErrEmptyPrompt       = errors.New("prompt is empty")
)

// notFoundMessage is how the provider reports a key without access to the
// requested model.
const notFoundMessage = "Requested entity was not found"

// GenerationError is a job that reached a terminal error state.
type GenerationError struct {
	Operation string
	Code      int
	Message   string
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error during video generation"
	}
	if e.Operation == "" {
		return "generation failed: " + msg
	}
	return fmt.Sprintf("generation %s failed: %s", e.Operation, msg)
}

var (
	// ImageAspectRatios are accepted by the image model.
	ImageAspectRatios = []string{"9:16", "16:9", "1:1", "4:3", "3:4"}
	// VideoAspectRatios are accepted by the video model.
	VideoAspectRatios = []string{"16:9", "9:16"}
)

const (
	defaultAspect = "9:16"
	noStyle       = "None"
	videoQuality  = "720p"
)

// Request is one generation.
type Request struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style,omitempty"`
	// Image optionally seeds the generation.
	Image         []byte `json:"-"`
	ImageMIMEType string `json:"image_mime_type,omitempty"`
}

// FinalPrompt applies the style prefix.
func (r Request) FinalPrompt() string {
	if r.Style == "" || r.Style == noStyle {
		return r.Prompt
	}
	return r.Style + " style. " + r.Prompt
}

// Video is a finished video job.
type Video struct {
	Operation   string `json:"operation"`
	URI         string `json:"uri"`
	AspectRatio string `json:"aspect_ratio"`
}

// Image is a finished image payload.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type Models struct {
	Text  string
	Image string
	Video string
}

type Provider struct {
	client *gemini.Client
	models Models
	poller Poller
	logger *slog.Logger
}

func NewProvider(client *gemini.Client, models Models, poller Poller, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		models: models,
		poller: poller,
		logger: logging.WithComponent(logger, "generate"),
	}
}

// GenerateVideo starts a video job and polls it to completion.
func (p *Provider) GenerateVideo(ctx context.Context, req Request) (*Video, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	aspect := req.AspectRatio
	if !slices.Contains(VideoAspectRatios, aspect) {
		aspect = defaultAspect
	}

	inst := gemini.PredictInstance{Prompt: req.FinalPrompt()}
	if len(req.Image) > 0 {
		mimeType := req.ImageMIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		inst.Image = &gemini.ImageInput{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Image),
			MIMEType:           mimeType,
		}
	}

	op, err := p.client.PredictLongRunning(ctx, p.models.Video, &gemini.PredictRequest{
		Instances: []gemini.PredictInstance{inst},
		Parameters: gemini.PredictParameters{
			AspectRatio: aspect,
			Resolution:  videoQuality,
			SampleCount: 1,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	logger := p.logger.With("operation", op.Name, "aspect_ratio", aspect)
	logger.Info("video generation started", "seeded", inst.Image != nil)

	if !op.Done {
		name := op.Name
		err = p.poller.Poll(ctx, func(ctx context.Context) (bool, error) {
			next, err := p.client.GetOperation(ctx, name)
			if err != nil {
				return false, classify(err)
			}
			op = next
			return op.Done, nil
		})
		if err != nil {
			logger.Warn("video generation polling failed", "error", err)
			return nil, err
		}
	}

	if op.Error != nil {
		gerr := &GenerationError{Operation: op.Name, Code: op.Error.Code, Message: op.Error.Message}
		logger.Warn("video generation failed", "code", gerr.Code, "message", gerr.Message)
		if strings.Contains(gerr.Message, notFoundMessage) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, gerr)
		}
		return nil, gerr
	}

	uri := op.VideoURI()
	if uri == "" {
		return nil, ErrNoVideo
	}
	logger.Info("video generation finished")
	return &Video{Operation: op.Name, URI: uri, AspectRatio: aspect}, nil
}

// GenerateImage renders one image.
func (p *Provider) GenerateImage(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	aspect := req.AspectRatio
	if !slices.Contains(ImageAspectRatios, aspect) {
		aspect = defaultAspect
	}

	parts := []gemini.Part{gemini.TextPart(req.FinalPrompt())}
	if len(req.Image) > 0 {
		mimeType := req.ImageMIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append([]gemini.Part{gemini.BytesPart(req.Image, mimeType)}, parts...)
	}
	resp, err := p.client.GenerateContent(ctx, p.models.Image, &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Parts: parts}},
		GenerationConfig: &gemini.GenerationConfig{
			ImageConfig: &gemini.ImageConfig{AspectRatio: aspect},
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	inline := resp.InlineData()
	if inline == nil {
		return nil, ErrNoImage
	}
	data, err := inline.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Image{MIMEType: inline.MIMEType, Data: data}, nil
}

const enhanceTemplate = `Rewrite the following prompt to be highly detailed, cinematic, and visual.
Keep it under 60 words. Focus on lighting, camera angle, and texture.
Original: "%s"`

const describePrompt = "Describe the visual style, subject, lighting, and camera angle of this image in a single paragraph (max 50 words). Write it as a prompt for a video/image generation model."

// EnhancePrompt rewrites prompt into a richer one. Any failure returns the
// original prompt; an empty prompt returns "".
func (p *Provider) EnhancePrompt(ctx context.Context, prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return ""
	}
	resp, err := p.client.GenerateContent(ctx, p.models.Text, &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Parts: []gemini.Part{gemini.TextPart(fmt.Sprintf(enhanceTemplate, prompt))}}},
	})
	if err != nil {
		p.logger.Warn("prompt enhancement failed", "error", err)
		return prompt
	}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		return text
	}
	return prompt
}

// PromptFromImage describes an image as a generation prompt.
func (p *Provider) PromptFromImage(ctx context.Context, img []byte, mimeType string) (string, error) {
	if len(img) == 0 {
		return "", ErrNoImage
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	resp, err := p.client.GenerateContent(ctx, p.models.Text, &gemini.GenerateContentRequest{
		Contents: []gemini.Content{{Parts: []gemini.Part{
			gemini.BytesPart(img, mimeType),
			gemini.TextPart(describePrompt),
		}}},
	})
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Download saves a generated video to dst. The file appears only once it is
// complete.
func (p *Provider) Download(ctx context.Context, uri, dst string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := p.client.Download(ctx, uri, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, classify(err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("move download: %w", err)
	}
	p.logger.Info("generated media downloaded", "path", logging.SanitizePath(dst), "bytes", n)
	return n, nil
}

// classify maps credential failures onto ErrInvalidCredential.
func classify(err error) error {
	if errors.Is(err, gemini.ErrNoAPIKey) {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) && (apiErr.IsAuth() || strings.Contains(apiErr.Message, notFoundMessage)) {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return err
}
