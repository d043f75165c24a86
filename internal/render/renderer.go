// Package render re-encodes a time range of a source video into a cropped
// clip by playing it in real time, compositing frames onto a surface and
// recording the surface together with the source audio.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/segment"
)

const (
	DefaultFPS          = 30
	DefaultDrawRate     = 30
	DefaultBitrate      = 4_000_000
	DefaultStallTimeout = 15 * time.Second

	deadlineSlack      = 30 * time.Second
	deadlineMultiplier = 3
)

type Options struct {
	FPS          float64
	DrawRate     float64
	Bitrate      int
	StallTimeout time.Duration
	// OutputDir receives clips whose request has no OutputPath.
	OutputDir string
}

func DefaultOptions() Options {
	return Options{
		FPS:          DefaultFPS,
		DrawRate:     DefaultDrawRate,
		Bitrate:      DefaultBitrate,
		StallTimeout: DefaultStallTimeout,
		OutputDir:    os.TempDir(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FPS <= 0 {
		o.FPS = d.FPS
	}
	if o.DrawRate <= 0 {
		o.DrawRate = d.DrawRate
	}
	if o.Bitrate <= 0 {
		o.Bitrate = d.Bitrate
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = d.StallTimeout
	}
	if o.OutputDir == "" {
		o.OutputDir = d.OutputDir
	}
	return o
}

type Request struct {
	Source string
	Start  float64
	End    float64
	Aspect segment.AspectRatio
	// OutputPath is optional; its extension is replaced by the chosen
	// format's.
	OutputPath string
}

// ProgressFunc receives increasing percentages; 100 is sent exactly once,
// on success.
type ProgressFunc func(percent int)

type Renderer struct {
	rt     media.Runtime
	opts   Options
	logger *slog.Logger
}

func New(rt media.Runtime, opts Options, logger *slog.Logger) *Renderer {
	return &Renderer{
		rt:     rt,
		opts:   opts.withDefaults(),
		logger: logging.WithComponent(logger, "render"),
	}
}

// Deadline bounds a render of the given length.
func Deadline(start, end float64) time.Duration {
	return time.Duration((end-start)*deadlineMultiplier*float64(time.Second)) + deadlineSlack
}

// render is the state for one Render call.
type render struct {
	*Renderer
	req        Request
	onProgress ProgressFunc
	machine    *Machine
	logger     *slog.Logger

	cleanup  []func()
	player   media.Player
	meta     media.Metadata
	surface  media.Surface
	recorder media.Recorder
	recErr   <-chan error
	width    int
	height   int
	progress int
}

// Render produces the clip for req. Every resource it acquires is released
// before it returns, whatever the outcome.
func (r *Renderer) Render(ctx context.Context, req Request, onProgress ProgressFunc) (*media.Blob, error) {
	if req.End <= req.Start || req.Start < 0 {
		return nil, fmt.Errorf("%w: render range %.3f-%.3f", segment.ErrInvalidConfiguration, req.Start, req.End)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, Deadline(req.Start, req.End))
	defer cancel()

	rd := &render{
		Renderer:   r,
		req:        req,
		onProgress: onProgress,
		machine:    NewMachine(),
		logger:     r.logger.With("source", logging.SanitizePath(req.Source), "start", req.Start, "end", req.End, "aspect", string(req.Aspect)),
		progress:   -1,
	}
	defer rd.release()

	blob, err := rd.run(ctx)
	if err != nil {
		rd.machine.Stop(OutcomeFailure)
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = newError(KindPlaybackFailed, fmt.Errorf("render exceeded %s deadline: %w", Deadline(req.Start, req.End), err))
		}
		rd.logger.Warn("render failed", "state", rd.machine.State().String(), "error", err)
		return nil, err
	}
	return blob, nil
}

func (rd *render) onRelease(fn func()) {
	rd.cleanup = append(rd.cleanup, fn)
}

func (rd *render) release() {
	for i := len(rd.cleanup) - 1; i >= 0; i-- {
		rd.cleanup[i]()
	}
	rd.cleanup = nil
}

func (rd *render) run(ctx context.Context) (*media.Blob, error) {
	player, err := rd.rt.OpenPlayer(ctx, rd.req.Source)
	if err != nil {
		return nil, newError(KindPlaybackFailed, err)
	}
	rd.player = player
	rd.onRelease(func() { player.Close() })

	meta, err := player.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindPlaybackFailed, fmt.Errorf("load metadata: %w", err))
	}
	rd.meta = meta
	if err := rd.advance(StateMetadataLoaded); err != nil {
		return nil, err
	}

	rd.width, rd.height = TargetSize(meta.Width, meta.Height, rd.req.Aspect)
	surface := rd.rt.NewSurface(rd.width, rd.height)
	rd.surface = surface
	rd.onRelease(surface.Release)

	if err := player.Seek(rd.req.Start); err != nil {
		return nil, newError(KindPlaybackFailed, fmt.Errorf("seek: %w", err))
	}
	if err := rd.advance(StateSeeking); err != nil {
		return nil, err
	}
	rd.logger.Debug("seeking", "width", rd.width, "height", rd.height)

	stall := time.NewTimer(rd.opts.StallTimeout)
	defer stall.Stop()

	events := player.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-stall.C:
			return nil, newError(KindPlaybackFailed, fmt.Errorf("%w: no progress for %s in state %s",
				ErrPlaybackStalled, rd.opts.StallTimeout, rd.machine.State()))

		case err := <-rd.recErr:
			return nil, newError(KindEncodingFailed, err)

		case ev, ok := <-events:
			if !ok {
				return nil, newError(KindPlaybackFailed, errors.New("player closed unexpectedly"))
			}
			stall.Reset(rd.opts.StallTimeout)

			switch ev.Type {
			case media.EventSeeked:
				if err := rd.machine.Transition(StateRecording); err != nil {
					rd.logger.Debug("ignoring seek completion", "error", err)
					continue
				}
				if err := rd.startRecording(ctx); err != nil {
					return nil, err
				}
				stall.Reset(rd.opts.StallTimeout)

			case media.EventTimeUpdate:
				if rd.machine.State() != StateRecording {
					continue
				}
				if ev.Time >= rd.req.End {
					return rd.finish(ctx)
				}
				rd.report(progressAt(ev.Time, rd.req.Start, rd.req.End))

			case media.EventEnded:
				if rd.machine.State() == StateRecording {
					return rd.finish(ctx)
				}
				return nil, newError(KindPlaybackFailed, errors.New("source ended before recording started"))

			case media.EventError:
				err := ev.Err
				if err == nil {
					err = errors.New("unknown playback error")
				}
				return nil, newError(KindPlaybackFailed, err)
			}
		}
	}
}

func (rd *render) startRecording(ctx context.Context) error {
	format, ok := media.ChooseFormat(rd.rt.Supports)
	if !ok {
		return newError(KindEncodingUnsupported, errors.New("no supported recording format"))
	}

	var stream media.Stream
	if rd.meta.HasAudio {
		audio, err := rd.player.CaptureAudio(ctx, media.AudioRequest{
			Start: rd.req.Start,
			End:   rd.req.End,
			Codec: format.AudioCodec,
		})
		switch {
		case err == nil:
			stream.Audio = audio
			rd.onRelease(audio.Stop)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, media.ErrNoAudio):
			rd.logger.Debug("source has no audio, recording video only")
		default:
			rd.logger.Warn("audio capture failed, recording video only", "error", err)
		}
	}

	// The first captured frame must already show the seek position.
	rd.surface.DrawCover(rd.player.Frame())

	video, err := rd.surface.CaptureStream(rd.opts.FPS)
	if err != nil {
		return newError(KindCaptureUnsupported, err)
	}
	rd.onRelease(video.Stop)
	stream.Video = video

	recorder, err := rd.rt.NewRecorder(stream, media.RecorderOptions{
		Format:     format,
		Width:      rd.width,
		Height:     rd.height,
		Bitrate:    rd.opts.Bitrate,
		FPS:        rd.opts.FPS,
		OutputPath: rd.outputPath(format),
	})
	if err != nil {
		return newError(KindEncodingFailed, err)
	}
	rd.recorder = recorder
	rd.recErr = recorder.Err()
	rd.onRelease(recorder.Abort)

	stopDraw := rd.drawLoop()
	rd.onRelease(stopDraw)

	if err := recorder.Start(); err != nil {
		return newError(KindEncodingFailed, err)
	}
	if err := rd.player.Play(); err != nil {
		return newError(KindPlaybackFailed, fmt.Errorf("play: %w", err))
	}
	rd.logger.Debug("recording", "format", format.Name, "audio", stream.Audio != nil)
	return nil
}

// advance moves the state machine, reporting a rejected move as a playback
// failure.
func (rd *render) advance(to State) error {
	if err := rd.machine.Transition(to); err != nil {
		return newError(KindPlaybackFailed, err)
	}
	return nil
}

// drawLoop composites the current frame at the draw rate until the returned
// stop function is called.
func (rd *render) drawLoop() func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(float64(time.Second) / rd.opts.DrawRate))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rd.surface.DrawCover(rd.player.Frame())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (rd *render) finish(ctx context.Context) (*media.Blob, error) {
	if err := rd.player.Pause(); err != nil {
		rd.logger.Debug("pause failed", "error", err)
	}
	blob, err := rd.recorder.Stop(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindEncodingFailed, err)
	}
	if err := rd.machine.Stop(OutcomeSuccess); err != nil {
		return nil, newError(KindPlaybackFailed, err)
	}
	rd.report(100)
	rd.logger.Info("clip rendered", "bytes", blob.Size, "mime_type", blob.MIMEType)
	return blob, nil
}

func (rd *render) outputPath(format media.Format) string {
	if rd.req.OutputPath == "" {
		return filepath.Join(rd.opts.OutputDir, "clip-"+uuid.NewString()+format.Ext)
	}
	return strings.TrimSuffix(rd.req.OutputPath, filepath.Ext(rd.req.OutputPath)) + format.Ext
}

func (rd *render) report(p int) {
	if p <= rd.progress {
		return
	}
	rd.progress = p
	if rd.onProgress != nil {
		rd.onProgress(p)
	}
}

// progressAt maps a playback time to 0..99.
func progressAt(t, start, end float64) int {
	f := (t - start) / (end - start)
	f = math.Max(0, math.Min(f, 0.99))
	return int(math.Round(f * 100))
}
