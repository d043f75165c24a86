package media

import (
	"context"
	"errors"
	"image"
	"sync"
)

// ErrNotSeeked is returned by Frame before the first successful Seek.
var ErrNotSeeked = errors.New("element has not been seeked")

// Element is a hidden decode target used for still-frame sampling. It holds
// at most one decoded frame: the one at the last seek position.
type Element struct {
	exec *Executor
	path string
	meta Metadata

	mu    sync.Mutex
	frame *image.RGBA
	pos   float64
}

// OpenElement probes path and returns an element ready for seeking.
func OpenElement(ctx context.Context, exec *Executor, path string) (*Element, error) {
	probe, err := exec.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Element{exec: exec, path: path, meta: probe.Metadata()}, nil
}

func (e *Element) Metadata() Metadata { return e.meta }
func (e *Element) Width() int         { return e.meta.Width }
func (e *Element) Height() int        { return e.meta.Height }

// Seek decodes the frame at t. Concurrent seeks are serialized.
func (e *Element) Seek(ctx context.Context, t float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	img, err := e.exec.DecodeFrame(ctx, e.path, t, e.meta.Width, e.meta.Height)
	if err != nil {
		return err
	}
	e.frame = img
	e.pos = t
	return nil
}

// Frame returns the frame decoded by the last Seek.
func (e *Element) Frame() (image.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frame == nil {
		return nil, ErrNotSeeked
	}
	return e.frame, nil
}

// Position is the time of the last successful Seek.
func (e *Element) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}
