package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FFmpegPlayer plays a file by streaming raw RGBA frames out of an ffmpeg
// decoder and presenting them against a wall clock.
type FFmpegPlayer struct {
	exec   *Executor
	src    string
	tmpDir string
	tracks *Tracks
	logger *slog.Logger

	events chan Event

	mu      sync.Mutex
	meta    Metadata
	loaded  bool
	closed  bool
	frame   image.Image
	current float64
	playing bool
	wake    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newFFmpegPlayer(exec *Executor, src, tmpDir string, tracks *Tracks, logger *slog.Logger) *FFmpegPlayer {
	return &FFmpegPlayer{
		exec:   exec,
		src:    src,
		tmpDir: tmpDir,
		tracks: tracks,
		logger: logger,
		events: make(chan Event, 64),
		wake:   make(chan struct{}, 1),
	}
}

func (p *FFmpegPlayer) Load(ctx context.Context) (Metadata, error) {
	probe, err := p.exec.Probe(ctx, p.src)
	if err != nil {
		return Metadata{}, err
	}
	p.mu.Lock()
	p.meta = probe.Metadata()
	p.loaded = true
	p.mu.Unlock()
	return p.meta, nil
}

func (p *FFmpegPlayer) Events() <-chan Event { return p.events }

func (p *FFmpegPlayer) Frame() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Seek restarts the decoder at t. The first decoded frame produces
// EventSeeked; playback stays paused until Play.
func (p *FFmpegPlayer) Seek(t float64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("player closed")
	}
	if !p.loaded {
		p.mu.Unlock()
		return errors.New("player not loaded")
	}
	if p.cancel != nil {
		p.cancel()
	}
	meta := p.meta
	p.playing = false
	p.current = t
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	// Wait for the previous decoder to exit before starting a new one.
	p.wg.Wait()
	p.wg.Add(1)
	go p.decode(ctx, t, meta)
	return nil
}

func (p *FFmpegPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("player closed")
	}
	p.playing = true
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *FFmpegPlayer) Pause() error {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return nil
}

func (p *FFmpegPlayer) isPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *FFmpegPlayer) decode(ctx context.Context, start float64, meta Metadata) {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := p.exec.decodeCommand(ctx, p.src, start)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.emit(ctx, Event{Type: EventError, Err: fmt.Errorf("decoder pipe: %w", err)})
		return
	}
	if err := cmd.Start(); err != nil {
		p.emit(ctx, Event{Type: EventError, Err: fmt.Errorf("start decoder: %w", err)})
		return
	}
	defer func() {
		cancel()
		cmd.Wait()
	}()

	frameSize := meta.Width * meta.Height * 4
	interval := time.Duration(float64(time.Second) / meta.FPS)

	n := 0
	var clockStart time.Time
	for {
		img := image.NewRGBA(image.Rect(0, 0, meta.Width, meta.Height))
		if _, err := io.ReadFull(stdout, img.Pix[:frameSize]); err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if n == 0 {
					p.emit(ctx, Event{Type: EventError, Err: fmt.Errorf("%w: %.3fs", ErrNoFrame, start)})
					return
				}
				p.emit(ctx, Event{Type: EventEnded, Time: p.position()})
				return
			}
			p.emit(ctx, Event{Type: EventError, Err: fmt.Errorf("decode: %w", err)})
			return
		}

		pos := start + float64(n)/meta.FPS
		if n == 0 {
			p.present(img, pos)
			p.emit(ctx, Event{Type: EventSeeked, Time: pos})
			n++
			continue
		}

		// Hold the frame until playback is running and its presentation
		// time on the clock has arrived.
		for !p.isPlaying() {
			clockStart = time.Time{}
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
		}
		if clockStart.IsZero() {
			clockStart = time.Now().Add(-time.Duration(n-1) * interval)
		}
		due := clockStart.Add(time.Duration(n) * interval)
		if wait := time.Until(due); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		p.present(img, pos)
		p.emit(ctx, Event{Type: EventTimeUpdate, Time: pos})
		n++
	}
}

func (p *FFmpegPlayer) present(img image.Image, pos float64) {
	p.mu.Lock()
	p.frame = img
	p.current = pos
	p.mu.Unlock()
}

func (p *FFmpegPlayer) position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *FFmpegPlayer) emit(ctx context.Context, ev Event) {
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}

// CaptureAudio extracts [start, end) of the source audio into a temporary
// file encoded with req.Codec.
func (p *FFmpegPlayer) CaptureAudio(ctx context.Context, req AudioRequest) (AudioTrack, error) {
	p.mu.Lock()
	meta := p.meta
	p.mu.Unlock()
	if !meta.HasAudio {
		return nil, ErrNoAudio
	}

	ext := ".m4a"
	if req.Codec == "libopus" {
		ext = ".ogg"
	}
	f, err := os.CreateTemp(p.tmpDir, "audio-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create audio temp file: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := p.exec.ExtractAudio(ctx, p.src, req.Start, req.End, req.Codec, path); err != nil {
		os.Remove(path)
		return nil, err
	}

	tr := &fileAudioTrack{path: path, codec: req.Codec}
	tr.baseTrack = newBaseTrack(TrackAudio, p.tracks, func() { os.Remove(path) })
	if p.tracks != nil {
		p.tracks.add(tr)
	}
	p.logger.Debug("audio track captured", "path", filepath.Base(path), "codec", req.Codec)
	return tr, nil
}

// Close stops the decoder. Pending events are dropped.
func (p *FFmpegPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

type fileAudioTrack struct {
	*baseTrack
	path  string
	codec string
}

func (t *fileAudioTrack) Path() string  { return t.path }
func (t *fileAudioTrack) Codec() string { return t.codec }
