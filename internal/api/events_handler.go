package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/playback"
)

const maxEventWait = 30 * time.Second

// eventsHandler returns events newer than ?since. With ?wait=<ms> it long
// polls until something arrives or the wait elapses.
func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Events == nil {
			WriteJSON(w, http.StatusOK, EventsResponse{Events: []events.Event{}})
			return
		}

		q := r.URL.Query()
		var since int64
		if v := q.Get("since"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "since must be a non-negative integer", "BAD_REQUEST")
				return
			}
			since = n
		}

		var wait time.Duration
		if v := q.Get("wait"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms < 0 {
				WriteError(w, http.StatusBadRequest, "wait must be milliseconds", "BAD_REQUEST")
				return
			}
			wait = min(time.Duration(ms)*time.Millisecond, maxEventWait)
		}

		var evs []events.Event
		if wait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			evs = cfg.Events.Wait(ctx, since)
			cancel()
		} else {
			evs = cfg.Events.Since(since)
		}
		if evs == nil {
			evs = []events.Event{}
		}
		WriteJSON(w, http.StatusOK, EventsResponse{Events: evs, Latest: cfg.Events.Latest()})
	}
}

// registerPlayerHandler adds a remote preview player. Pausing it publishes a
// player.paused event the client is expected to act on.
func registerPlayerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Players == nil {
			WriteError(w, http.StatusServiceUnavailable, "player registry unavailable", "UNAVAILABLE")
			return
		}
		id := chi.URLParam(r, "id")
		cfg.Players.Register(id, playback.PauserFunc(func() error {
			if cfg.Events != nil {
				cfg.Events.Publish(events.Event{Type: events.TypePlayerPaused, Message: id})
			}
			return nil
		}))
		w.WriteHeader(http.StatusNoContent)
	}
}

func unregisterPlayerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Players != nil {
			cfg.Players.Unregister(chi.URLParam(r, "id"))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func activatePlayerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Players == nil {
			WriteError(w, http.StatusServiceUnavailable, "player registry unavailable", "UNAVAILABLE")
			return
		}
		id := chi.URLParam(r, "id")
		paused, err := cfg.Players.Activate(id)
		if err != nil {
			writeServiceError(w, err, cfg.Logger)
			return
		}
		WriteJSON(w, http.StatusOK, ActivateResponse{Active: id, Paused: paused})
	}
}
