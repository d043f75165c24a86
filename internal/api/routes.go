package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/session"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.jobs == nil {
		cfg.jobs = newJobs(cfg.Logger)
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/session", loadSessionHandler(cfg))
		r.Put("/session/options", setOptionsHandler(cfg))
		r.Delete("/session", resetSessionHandler(cfg))
		r.Post("/analyze", analyzeHandler(cfg))
		r.Post("/cancel", cancelHandler(cfg))
		r.Get("/segments", listSegmentsHandler(cfg))
		r.Get("/segments/{index}/thumbnail", thumbnailHandler(cfg))
		r.Post("/segments/{index}/render", renderSegmentHandler(cfg))
		r.With(LoopbackGuard()).Get("/clips/{handle}", clipHandler(cfg))
		r.Post("/export", exportHandler(cfg))
		r.Post("/export/edl", exportEDLHandler(cfg))
		r.Get("/events", eventsHandler(cfg))
		r.Put("/players/{id}", registerPlayerHandler(cfg))
		r.Delete("/players/{id}", unregisterPlayerHandler(cfg))
		r.Post("/players/{id}/activate", activatePlayerHandler(cfg))
		r.Post("/generate/video", generateVideoHandler(cfg))
		r.Post("/generate/image", generateImageHandler(cfg))
		r.Post("/generate/enhance", enhancePromptHandler(cfg))
		r.Post("/generate/describe", describeImageHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			Analyzer: cfg.Sessions.Status().Analyzer,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Status:     cfg.Sessions.Status(),
			Generation: cfg.Generator != nil,
		}
		if cfg.Players != nil {
			resp.ActivePlayer = cfg.Players.Active()
			resp.Players = cfg.Players.Len()
		}
		if cfg.Events != nil {
			resp.LatestEvent = cfg.Events.Latest()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func loadSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		sess, err := cfg.Sessions.Load(r.Context(), req.Path)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusCreated, SessionToResponse(sess))
	}
}

func setOptionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := cfg.Sessions.Status()
		if !st.Loaded {
			writeServiceError(w, session.ErrNoSession, cfg.Logger)
			return
		}

		var req OptionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		opts, err := req.apply(*st.Options)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		sess, err := cfg.Sessions.SetOptions(r.Context(), opts)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusOK, SessionToResponse(sess))
	}
}

func resetSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Sessions.Reset(r.Context()); err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		if cfg.Players != nil {
			cfg.Players.Reset()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// analyzeHandler starts an analysis. The body may override split options.
// With ?wait=true the request blocks until the analysis finishes; otherwise
// it returns 202 and progress is reported through /events.
func analyzeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := cfg.Sessions.Status()
		if !st.Loaded {
			writeServiceError(w, session.ErrNoSession, cfg.Logger)
			return
		}
		if st.Op != session.OpNone {
			writeServiceError(w, session.ErrBusy, cfg.Logger)
			return
		}

		var req OptionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		opts, err := req.apply(*st.Options)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		if r.URL.Query().Get("wait") == "true" {
			summary, err := cfg.Sessions.Analyze(r.Context(), &opts)
			if err != nil {
				writeServiceError(w, err, cfg.Logger)
				return
			}
			WriteJSON(w, http.StatusOK, AnalyzeResponse{Status: "done", Summary: summary})
			return
		}

		cfg.jobs.run("analyze", func(ctx context.Context) error {
			_, err := cfg.Sessions.Analyze(ctx, &opts)
			return err
		})
		WriteJSON(w, http.StatusAccepted, AnalyzeResponse{Status: "started"})
	}
}

func cancelHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": cfg.Sessions.Cancel()})
	}
}

func listSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := segment.ParseSortOrder(r.URL.Query().Get("sort"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		segs, err := cfg.Sessions.Segments(r.Context(), order)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		resp := SegmentsResponse{Sort: order, Segments: make([]SegmentResponse, len(segs))}
		for i, s := range segs {
			resp.Segments[i] = SegmentToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func thumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := segmentIndex(w, r)
		if !ok {
			return
		}
		seg, err := cfg.Sessions.Segment(r.Context(), index)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		if len(seg.Thumbnail) == 0 {
			WriteError(w, http.StatusNotFound, "segment has no thumbnail", "NOT_FOUND")
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(seg.Thumbnail)))
		w.Write(seg.Thumbnail)
	}
}

func renderSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := segmentIndex(w, r)
		if !ok {
			return
		}
		clip, err := cfg.Sessions.RenderSegment(r.Context(), index)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

// clipHandler streams a rendered clip. ?download=true adds an attachment
// disposition named after the segment title.
func clipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "handle")
		clip, err := cfg.Sessions.Clip(r.Context(), handle)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		if r.URL.Query().Get("download") == "true" {
			title := ""
			if seg, err := cfg.Sessions.Segment(r.Context(), clip.SegmentIndex); err == nil {
				title = seg.Title
			}
			name := export.SingleFilename(title, filepath.Ext(clip.Path))
			w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		}

		if err := cfg.Clips.ServeFile(w, r, clip.Path, clip.MIMEType); err != nil {
			cfg.Logger.Error("clip playback error", "error", err, "handle", handle)
		}
	}
}

func segmentIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		WriteError(w, http.StatusBadRequest, "segment index must be a non-negative integer", "BAD_REQUEST")
		return 0, false
	}
	return index, true
}
