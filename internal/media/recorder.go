package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	vidio "github.com/AlexEidt/Vidio"
)

var errRecorderState = errors.New("recorder in wrong state")

// VidioRecorder pipes captured frames into a Vidio writer. The audio track,
// when present, is muxed in from its file on close.
type VidioRecorder struct {
	stream Stream
	opts   RecorderOptions
	width  int
	height int
	logger *slog.Logger

	mu      sync.Mutex
	writer  *vidio.VideoWriter
	started bool
	done    bool
	stop    chan struct{}
	exited  chan struct{}
	errCh   chan error
}

func newVidioRecorder(stream Stream, opts RecorderOptions, logger *slog.Logger) (*VidioRecorder, error) {
	width, height := opts.Width, opts.Height
	if stream.Video == nil {
		return nil, errors.New("recorder requires a video track")
	}
	if opts.OutputPath == "" {
		return nil, errors.New("recorder requires an output path")
	}
	if width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("recorder dimensions must be even, got %dx%d", width, height)
	}
	return &VidioRecorder{
		stream: stream,
		opts:   opts,
		width:  width,
		height: height,
		logger: logger,
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
		errCh:  make(chan error, 1),
	}, nil
}

func (r *VidioRecorder) Err() <-chan error { return r.errCh }

func (r *VidioRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.done {
		return errRecorderState
	}

	options := &vidio.Options{
		FPS:     r.opts.FPS,
		Bitrate: r.opts.Bitrate,
		Codec:   r.opts.Format.VideoCodec,
	}
	if r.stream.Audio != nil {
		options.StreamFile = r.stream.Audio.Path()
	}
	writer, err := vidio.NewVideoWriter(r.opts.OutputPath, r.width, r.height, options)
	if err != nil {
		return fmt.Errorf("create video writer: %w", err)
	}
	r.writer = writer
	r.started = true

	go r.pump(writer)
	return nil
}

func (r *VidioRecorder) pump(writer *vidio.VideoWriter) {
	defer close(r.exited)
	frames := r.stream.Video.Frames()
	for {
		select {
		case <-r.stop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if frame.Rect.Dx() != r.width || frame.Rect.Dy() != r.height {
				r.fail(fmt.Errorf("frame size %dx%d does not match recorder %dx%d",
					frame.Rect.Dx(), frame.Rect.Dy(), r.width, r.height))
				return
			}
			if err := writer.Write(frame.Pix); err != nil {
				r.fail(fmt.Errorf("encode frame: %w", err))
				return
			}
		}
	}
}

func (r *VidioRecorder) fail(err error) {
	select {
	case r.errCh <- err:
	default:
	}
}

// Stop stops consuming frames, waits for the frame in flight, closes the encoder and
// returns the finished file.
func (r *VidioRecorder) Stop(ctx context.Context) (*Blob, error) {
	r.mu.Lock()
	if !r.started || r.done {
		r.mu.Unlock()
		return nil, errRecorderState
	}
	r.done = true
	writer := r.writer
	close(r.stop)
	r.mu.Unlock()

	select {
	case <-r.exited:
	case <-ctx.Done():
		writer.Close()
		os.Remove(r.opts.OutputPath)
		return nil, ctx.Err()
	}
	writer.Close()

	select {
	case err := <-r.errCh:
		os.Remove(r.opts.OutputPath)
		return nil, err
	default:
	}

	info, err := os.Stat(r.opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("stat recording: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(r.opts.OutputPath)
		return nil, errors.New("recording is empty")
	}

	r.logger.Debug("recording finished", "path", r.opts.OutputPath, "bytes", info.Size(), "format", r.opts.Format.Name)
	return &Blob{
		Path:     r.opts.OutputPath,
		MIMEType: r.opts.Format.ContentType(),
		Size:     info.Size(),
	}, nil
}

func (r *VidioRecorder) Abort() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	started := r.started
	writer := r.writer
	if started {
		close(r.stop)
	}
	r.mu.Unlock()

	if started {
		<-r.exited
		writer.Close()
	}
	os.Remove(r.opts.OutputPath)
}
