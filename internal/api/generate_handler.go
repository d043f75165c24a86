package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/generate"
	"github.com/instasplit/instasplit-agent/internal/sampler"
)

const maxGenerateBody = 20 << 20

func generatorOrFail(cfg ServerConfig, w http.ResponseWriter) bool {
	if cfg.Generator == nil {
		WriteError(w, http.StatusServiceUnavailable, "generation is not configured", "GENERATION_UNAVAILABLE")
		return false
	}
	return true
}

func decodeGenerateBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

// loadReference reads path through the configured reference loader.
func loadReference(cfg ServerConfig, r *http.Request, path string) ([]byte, string, error) {
	if cfg.References == nil {
		return nil, "", fmt.Errorf("%w: reference files are not supported", sampler.ErrUnsupportedReference)
	}
	data, mimeType, err := cfg.References.CaptureReference(r.Context(), filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s not found", sampler.ErrUnsupportedReference, filepath.Base(path))
	}
	return data, mimeType, err
}

// applyReference replaces the inline image with the reference file, if any.
func applyReference(cfg ServerConfig, w http.ResponseWriter, r *http.Request, req *GenerateRequest) bool {
	if req.ReferencePath == "" {
		return true
	}
	data, mimeType, err := loadReference(cfg, r, req.ReferencePath)
	if err != nil {
		writeServiceError(w, err, cfg.Logger)
		return false
	}
	req.Image, req.ImageMIMEType = data, mimeType
	return true
}

func (req GenerateRequest) toRequest() generate.Request {
	return generate.Request{
		Prompt:        req.Prompt,
		AspectRatio:   req.AspectRatio,
		Style:         req.Style,
		Image:         req.Image,
		ImageMIMEType: req.ImageMIMEType,
	}
}

// generateVideoHandler blocks until the video job finishes. When output_dir
// is set the video is also downloaded there.
func generateVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !generatorOrFail(cfg, w) {
			return
		}
		var req GenerateRequest
		if !decodeGenerateBody(w, r, &req) || !applyReference(cfg, w, r, &req) {
			return
		}
		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				writeServiceError(w, err, cfg.Logger)
				return
			}
		}

		video, err := cfg.Generator.GenerateVideo(r.Context(), req.toRequest())
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		resp := GenerateVideoResponse{Operation: video.Operation, URI: video.URI, AspectRatio: video.AspectRatio}
		if req.OutputDir != "" {
			name := export.SingleFilename("generated "+uuid.NewString()[:8], ".mp4")
			dst := filepath.Join(req.OutputDir, name)
			n, err := cfg.Generator.Download(r.Context(), video.URI, dst)
			if err != nil {
				writeServiceError(w, err, cfg.Logger)
				return
			}
			resp.Path, resp.Size = dst, n
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func generateImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !generatorOrFail(cfg, w) {
			return
		}
		var req GenerateRequest
		if !decodeGenerateBody(w, r, &req) || !applyReference(cfg, w, r, &req) {
			return
		}

		img, err := cfg.Generator.GenerateImage(r.Context(), req.toRequest())
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusOK, GenerateImageResponse{MIMEType: img.MIMEType, Data: img.Data})
	}
}

func enhancePromptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !generatorOrFail(cfg, w) {
			return
		}
		var req PromptRequest
		if !decodeGenerateBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeServiceError(w, generate.ErrEmptyPrompt, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusOK, PromptResponse{Prompt: cfg.Generator.EnhancePrompt(r.Context(), req.Prompt)})
	}
}

func describeImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !generatorOrFail(cfg, w) {
			return
		}
		var req DescribeRequest
		if !decodeGenerateBody(w, r, &req) {
			return
		}
		if len(req.Image) == 0 && req.Path != "" {
			data, mimeType, err := loadReference(cfg, r, req.Path)
			if err != nil {
				writeServiceError(w, err, cfg.Logger)
				return
			}
			req.Image, req.MIMEType = data, mimeType
		}
		if len(req.Image) == 0 {
			WriteError(w, http.StatusBadRequest, "image or path is required", "BAD_REQUEST")
			return
		}
		mimeType := req.MIMEType
		if mimeType == "" {
			mimeType = http.DetectContentType(req.Image)
		}

		prompt, err := cfg.Generator.PromptFromImage(r.Context(), req.Image, mimeType)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusOK, PromptResponse{Prompt: prompt})
	}
}
