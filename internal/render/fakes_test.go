package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/instasplit/instasplit-agent/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var trackSeq atomic.Int64

type fakeTrack struct {
	id      string
	kind    media.TrackKind
	stopped atomic.Bool
	frames  chan *image.RGBA
	once    sync.Once
}

func newFakeTrack(kind media.TrackKind) *fakeTrack {
	return &fakeTrack{
		id:     fmt.Sprintf("%s-%d", kind, trackSeq.Add(1)),
		kind:   kind,
		frames: make(chan *image.RGBA),
	}
}

func (t *fakeTrack) ID() string                 { return t.id }
func (t *fakeTrack) Kind() media.TrackKind      { return t.kind }
func (t *fakeTrack) Live() bool                 { return !t.stopped.Load() }
func (t *fakeTrack) Frames() <-chan *image.RGBA { return t.frames }
func (t *fakeTrack) Path() string               { return "/tmp/audio.m4a" }
func (t *fakeTrack) Codec() string              { return "aac" }
func (t *fakeTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.frames)
	})
}

type fakeSurface struct {
	w, h       int
	captureErr error
	rt         *fakeRuntime
	released   atomic.Bool
	draws      atomic.Int64
}

func (s *fakeSurface) Width() int            { return s.w }
func (s *fakeSurface) Height() int           { return s.h }
func (s *fakeSurface) Snapshot() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, s.w, s.h)) }
func (s *fakeSurface) Release()              { s.released.Store(true) }

func (s *fakeSurface) DrawCover(img image.Image) {
	if s.draws.Add(1) == 1 {
		s.rt.note("draw")
	}
}

func (s *fakeSurface) CaptureStream(fps float64) (media.VideoTrack, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	s.rt.note("capture")
	tr := newFakeTrack(media.TrackVideo)
	s.rt.addTrack(tr)
	return tr, nil
}

// playScript drives the fake player after Play.
type playScript struct {
	step      float64 // seconds between time updates
	errorAt   float64 // emit EventError at this time, if > 0
	endedAt   float64 // emit EventEnded at this time, if > 0
	silent    bool    // emit nothing after Play
	dupSeeked bool    // emit EventSeeked twice
}

type fakePlayer struct {
	meta    media.Metadata
	loadErr error
	script  playScript
	rt      *fakeRuntime

	events chan media.Event
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool

	mu        sync.Mutex
	seekPos   float64
	plays     int
	pauses    int
	audioReqs []media.AudioRequest
}

func newFakePlayer(rt *fakeRuntime, meta media.Metadata, script playScript) *fakePlayer {
	if script.step == 0 {
		script.step = 1
	}
	return &fakePlayer{
		meta:   meta,
		script: script,
		rt:     rt,
		events: make(chan media.Event, 256),
		done:   make(chan struct{}),
	}
}

func (p *fakePlayer) Load(ctx context.Context) (media.Metadata, error) {
	if p.loadErr != nil {
		return media.Metadata{}, p.loadErr
	}
	return p.meta, nil
}

func (p *fakePlayer) Seek(t float64) error {
	p.mu.Lock()
	p.seekPos = t
	p.mu.Unlock()
	p.events <- media.Event{Type: media.EventSeeked, Time: t}
	if p.script.dupSeeked {
		p.events <- media.Event{Type: media.EventSeeked, Time: t}
	}
	return nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	p.plays++
	start := p.seekPos
	p.mu.Unlock()
	if p.script.silent {
		return nil
	}
	go func() {
		for t := start; t < start+1000; t += p.script.step {
			ev := media.Event{Type: media.EventTimeUpdate, Time: t}
			if p.script.errorAt > 0 && t >= p.script.errorAt {
				ev = media.Event{Type: media.EventError, Time: t, Err: errors.New("decode error")}
			} else if p.script.endedAt > 0 && t >= p.script.endedAt {
				ev = media.Event{Type: media.EventEnded, Time: t}
			}
			select {
			case p.events <- ev:
			case <-p.done:
				return
			}
			if ev.Type != media.EventTimeUpdate {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	p.pauses++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Frame() image.Image { return image.NewRGBA(image.Rect(0, 0, 4, 4)) }

func (p *fakePlayer) CaptureAudio(ctx context.Context, req media.AudioRequest) (media.AudioTrack, error) {
	p.mu.Lock()
	p.audioReqs = append(p.audioReqs, req)
	p.mu.Unlock()
	p.rt.note("audio")
	if p.rt.audioDelay > 0 {
		time.Sleep(p.rt.audioDelay)
	}
	if !p.meta.HasAudio {
		return nil, media.ErrNoAudio
	}
	tr := newFakeTrack(media.TrackAudio)
	p.rt.addTrack(tr)
	return tr, nil
}

func (p *fakePlayer) Events() <-chan media.Event { return p.events }

func (p *fakePlayer) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.done)
	})
	return nil
}

type fakeRecorder struct {
	rt       *fakeRuntime
	opts     media.RecorderOptions
	stream   media.Stream
	startErr error
	asyncErr error
	errCh    chan error
	started  atomic.Bool
	stopped  atomic.Bool
	aborted  atomic.Bool
}

func (r *fakeRecorder) Start() error {
	r.rt.note("start")
	if r.startErr != nil {
		return r.startErr
	}
	r.started.Store(true)
	if r.asyncErr != nil {
		go func() {
			time.Sleep(5 * time.Millisecond)
			r.errCh <- r.asyncErr
		}()
	}
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (*media.Blob, error) {
	r.stopped.Store(true)
	return &media.Blob{Path: r.opts.OutputPath, MIMEType: r.opts.Format.ContentType(), Size: 42}, nil
}

func (r *fakeRecorder) Abort() {
	if !r.stopped.Load() {
		r.aborted.Store(true)
	}
}

func (r *fakeRecorder) Err() <-chan error { return r.errCh }

type fakeRuntime struct {
	meta        media.Metadata
	script      playScript
	loadErr     error
	openErr     error
	captureErr  error
	supports    func(media.Format) bool
	recStartErr error
	recAsyncErr error
	audioDelay  time.Duration

	mu        sync.Mutex
	steps     []string
	tracks    []media.Track
	players   []*fakePlayer
	surfaces  []*fakeSurface
	recorders []*fakeRecorder
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		meta:     media.Metadata{Duration: 60, Width: 1920, Height: 1080, FPS: 30, HasAudio: true},
		supports: func(media.Format) bool { return true },
	}
}

// note records a step of the recording setup in call order.
func (rt *fakeRuntime) note(step string) {
	rt.mu.Lock()
	rt.steps = append(rt.steps, step)
	rt.mu.Unlock()
}

func (rt *fakeRuntime) setupSteps() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.steps...)
}

func (rt *fakeRuntime) addTrack(t media.Track) {
	rt.mu.Lock()
	rt.tracks = append(rt.tracks, t)
	rt.mu.Unlock()
}

func (rt *fakeRuntime) OpenPlayer(ctx context.Context, src string) (media.Player, error) {
	if rt.openErr != nil {
		return nil, rt.openErr
	}
	p := newFakePlayer(rt, rt.meta, rt.script)
	p.loadErr = rt.loadErr
	rt.mu.Lock()
	rt.players = append(rt.players, p)
	rt.mu.Unlock()
	return p, nil
}

func (rt *fakeRuntime) NewSurface(w, h int) media.Surface {
	s := &fakeSurface{w: w, h: h, rt: rt, captureErr: rt.captureErr}
	rt.mu.Lock()
	rt.surfaces = append(rt.surfaces, s)
	rt.mu.Unlock()
	return s
}

func (rt *fakeRuntime) Supports(f media.Format) bool { return rt.supports(f) }

func (rt *fakeRuntime) NewRecorder(stream media.Stream, opts media.RecorderOptions) (media.Recorder, error) {
	r := &fakeRecorder{
		rt:       rt,
		opts:     opts,
		stream:   stream,
		startErr: rt.recStartErr,
		asyncErr: rt.recAsyncErr,
		errCh:    make(chan error, 1),
	}
	rt.mu.Lock()
	rt.recorders = append(rt.recorders, r)
	rt.mu.Unlock()
	return r, nil
}

func (rt *fakeRuntime) ActiveTracks() []media.Track {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var live []media.Track
	for _, t := range rt.tracks {
		if t.Live() {
			live = append(live, t)
		}
	}
	return live
}
