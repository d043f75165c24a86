package media

import (
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// Canvas is an in-memory RGBA surface.
type Canvas struct {
	mu       sync.RWMutex
	img      *image.RGBA
	tracks   *Tracks
	released bool
	captures []*canvasTrack
}

// NewCanvas allocates a black surface of the given size. Captured tracks are
// registered with tracks, which may be nil.
func NewCanvas(width, height int, tracks *Tracks) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return &Canvas{img: img, tracks: tracks}
}

func (c *Canvas) Width() int  { return c.img.Bounds().Dx() }
func (c *Canvas) Height() int { return c.img.Bounds().Dy() }

// DrawCover composites img with a cover scale, centred.
func (c *Canvas) DrawCover(img image.Image) {
	if img == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	sb := img.Bounds()
	dr := CoverRect(sb.Dx(), sb.Dy(), c.img.Bounds().Dx(), c.img.Bounds().Dy())
	draw.ApproxBiLinear.Scale(c.img, dr, img, sb, draw.Src, nil)
}

// Snapshot copies the current surface contents.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// CaptureStream starts a video track that snapshots the surface at fps.
func (c *Canvas) CaptureStream(fps float64) (VideoTrack, error) {
	if fps <= 0 {
		return nil, ErrCaptureUnsupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrReleased
	}

	tr := &canvasTrack{
		frames: make(chan *image.RGBA, 2),
		done:   make(chan struct{}),
	}
	tr.baseTrack = newBaseTrack(TrackVideo, c.tracks, func() { close(tr.done) })
	if c.tracks != nil {
		c.tracks.add(tr)
	}
	c.captures = append(c.captures, tr)

	go tr.run(c, time.Duration(float64(time.Second)/fps))
	return tr, nil
}

// Release stops any capture tracks and drops the pixel buffer.
func (c *Canvas) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	captures := c.captures
	c.captures = nil
	c.mu.Unlock()

	for _, tr := range captures {
		tr.Stop()
	}
}

type canvasTrack struct {
	*baseTrack
	frames chan *image.RGBA
	done   chan struct{}
}

func (t *canvasTrack) Frames() <-chan *image.RGBA { return t.frames }

func (t *canvasTrack) run(c *Canvas, interval time.Duration) {
	defer close(t.frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			frame := c.Snapshot()
			select {
			case t.frames <- frame:
			case <-t.done:
				return
			}
		}
	}
}
