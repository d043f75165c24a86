package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/session"
)

// exportHandler renders every segment into output_dir. Like analysis it
// runs in the background unless ?wait=true is given.
func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		order := segment.SortByScore
		if req.Sort != "" {
			o, err := segment.ParseSortOrder(req.Sort)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			order = o
		}

		st := cfg.Sessions.Status()
		switch {
		case !st.Loaded:
			writeServiceError(w, session.ErrNoSession, cfg.Logger)
			return
		case st.Op != session.OpNone:
			writeServiceError(w, session.ErrBusy, cfg.Logger)
			return
		case st.Segments == 0:
			writeServiceError(w, session.ErrNotAnalyzed, cfg.Logger)
			return
		}

		if r.URL.Query().Get("wait") == "true" {
			sum, err := cfg.Sessions.ExportAll(r.Context(), req.OutputDir, order)
			if err != nil {
				writeServiceError(w, err, cfg.Logger)
				return
			}
			WriteJSON(w, http.StatusOK, ExportResponse{Status: "done", Summary: sum})
			return
		}

		cfg.jobs.run("export", func(ctx context.Context) error {
			_, err := cfg.Sessions.ExportAll(ctx, req.OutputDir, order)
			return err
		})
		WriteJSON(w, http.StatusAccepted, ExportResponse{Status: "started"})
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		path, err := cfg.Sessions.ExportEDL(r.Context(), req.OutputDir, req.Title)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}

		WriteJSON(w, http.StatusOK, EDLResponse{
			Status:     "ok",
			Format:     "edl",
			OutputPath: path,
		})
	}
}
