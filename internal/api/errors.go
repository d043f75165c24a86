package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/generate"
	"github.com/instasplit/instasplit-agent/internal/playback"
	"github.com/instasplit/instasplit-agent/internal/render"
	"github.com/instasplit/instasplit-agent/internal/sampler"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/session"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{segment.ErrInvalidConfiguration, http.StatusBadRequest, "INVALID_CONFIGURATION"},
	{export.ErrInvalidOutputDir, http.StatusBadRequest, "INVALID_OUTPUT_DIR"},
	{generate.ErrEmptyPrompt, http.StatusBadRequest, "BAD_REQUEST"},
	{sampler.ErrUnsupportedReference, http.StatusBadRequest, "UNSUPPORTED_REFERENCE"},
	{session.ErrNoSession, http.StatusConflict, "NO_SESSION"},
	{session.ErrBusy, http.StatusConflict, "BUSY"},
	{session.ErrNotAnalyzed, http.StatusConflict, "NOT_ANALYZED"},
	{session.ErrSegmentNotFound, http.StatusNotFound, "NOT_FOUND"},
	{session.ErrClipNotFound, http.StatusNotFound, "NOT_FOUND"},
	{playback.ErrUnknownPlayer, http.StatusNotFound, "NOT_FOUND"},
	{generate.ErrInvalidCredential, http.StatusFailedDependency, "INVALID_CREDENTIAL"},
	{generate.ErrNoVideo, http.StatusBadGateway, "GENERATION_FAILED"},
	{generate.ErrNoImage, http.StatusBadGateway, "GENERATION_FAILED"},
	{generate.ErrPollExhausted, http.StatusGatewayTimeout, "GENERATION_TIMEOUT"},
	{context.Canceled, http.StatusConflict, "CANCELLED"},
}

// writeServiceError maps a domain error onto a status and error code.
func writeServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			WriteError(w, m.status, err.Error(), m.code)
			return
		}
	}

	if kind, ok := render.KindOf(err); ok {
		WriteError(w, http.StatusInternalServerError, err.Error(), "RENDER_"+strings.ToUpper(string(kind)))
		return
	}

	var genErr *generate.GenerationError
	if errors.As(err, &genErr) {
		WriteError(w, http.StatusBadGateway, err.Error(), "GENERATION_FAILED")
		return
	}

	logger.Error("request failed", "error", err)
	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}
