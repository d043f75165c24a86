package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// LocalRuntime is the ffmpeg-backed Runtime.
type LocalRuntime struct {
	exec   *Executor
	doctor *CachedDoctor
	tracks *Tracks
	tmpDir string
	logger *slog.Logger
}

// NewLocalRuntime creates a runtime whose temporary files live under tmpDir.
func NewLocalRuntime(exec *Executor, doctor *CachedDoctor, tmpDir string, logger *slog.Logger) (*LocalRuntime, error) {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create media temp dir: %w", err)
	}
	return &LocalRuntime{
		exec:   exec,
		doctor: doctor,
		tracks: NewTracks(),
		tmpDir: tmpDir,
		logger: logger.With("component", "media"),
	}, nil
}

func (r *LocalRuntime) Executor() *Executor { return r.exec }

func (r *LocalRuntime) OpenPlayer(ctx context.Context, src string) (Player, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("cannot open source: %w", err)
	}
	return newFFmpegPlayer(r.exec, src, r.tmpDir, r.tracks, r.logger), nil
}

func (r *LocalRuntime) NewSurface(width, height int) Surface {
	return NewCanvas(width, height, r.tracks)
}

// Supports consults the cached capability report. A failed probe means no
// format is supported.
func (r *LocalRuntime) Supports(f Format) bool {
	caps, err := r.doctor.Get(context.Background())
	if err != nil {
		r.logger.Warn("capability probe failed", "error", err)
		return false
	}
	return caps.Supports(f)
}

func (r *LocalRuntime) NewRecorder(stream Stream, opts RecorderOptions) (Recorder, error) {
	return newVidioRecorder(stream, opts, r.logger)
}

func (r *LocalRuntime) ActiveTracks() []Track {
	return r.tracks.Active()
}
