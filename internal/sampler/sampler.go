// Package sampler seeks a video element and encodes the settled frame as a
// JPEG still.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/instasplit/instasplit-agent/internal/media"
	"golang.org/x/image/draw"
)

const (
	// DefaultQuality is used for analysis frames.
	DefaultQuality = 60
	// ReferenceQuality is used for user-supplied reference stills.
	ReferenceQuality = 80
	// ReferenceOffset is where reference videos are sampled, in seconds.
	ReferenceOffset = 0.5
	// DefaultFraction places the analysis frame 20% into a window.
	DefaultFraction = 0.2

	endGuard = 0.1
)

// ErrUnsupportedReference is returned for reference files that are neither
// an image nor a decodable video.
var ErrUnsupportedReference = errors.New("unsupported reference media")

// Element is a seekable video source. Seek returns after the new position
// has been decoded, so Frame never returns a stale picture.
type Element interface {
	Seek(ctx context.Context, t float64) error
	Frame() (image.Image, error)
	Width() int
	Height() int
}

// ElementOpener opens a video file as an Element.
type ElementOpener func(ctx context.Context, path string) (Element, error)

// Sampler captures still frames. One Sampler should be shared by every
// caller of a given element.
type Sampler struct {
	mu      sync.Mutex
	quality int
	open    ElementOpener
	logger  *slog.Logger
}

// New creates a sampler encoding at quality (DefaultQuality when <= 0).
func New(quality int, open ElementOpener, logger *slog.Logger) *Sampler {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Sampler{quality: quality, open: open, logger: logger}
}

func (s *Sampler) Quality() int { return s.quality }

// CaptureFrame seeks el to at and returns the frame as JPEG.
func (s *Sampler) CaptureFrame(ctx context.Context, el Element, at float64) ([]byte, error) {
	return s.capture(ctx, el, at, s.quality)
}

func (s *Sampler) capture(ctx context.Context, el Element, at float64, quality int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := el.Seek(ctx, at); err != nil {
		return nil, fmt.Errorf("seek to %.3fs: %w", at, err)
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("read frame at %.3fs: %w", at, err)
	}
	return encodeJPEG(rasterize(frame, el.Width(), el.Height()), quality)
}

// CaptureReference loads a reference image or video and returns it as JPEG
// together with its MIME type.
func (s *Sampler) CaptureReference(ctx context.Context, path string) ([]byte, string, error) {
	kind, err := sniff(path)
	if err != nil {
		return nil, "", err
	}

	switch {
	case strings.HasPrefix(kind, "image/"):
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open reference: %w", err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
		}
		data, err := encodeJPEG(img, ReferenceQuality)
		return data, "image/jpeg", err

	case strings.HasPrefix(kind, "video/") || kind == "application/octet-stream":
		if s.open == nil {
			return nil, "", ErrUnsupportedReference
		}
		el, err := s.open(ctx, path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
		}
		data, err := s.capture(ctx, el, ReferenceOffset, ReferenceQuality)
		if err != nil {
			return nil, "", err
		}
		s.logger.Debug("reference frame captured", "path", filepath.Base(path), "bytes", len(data))
		return data, "image/jpeg", nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedReference, kind)
}

// AnalysisPoint is the sampling time for [start, end): fraction of the way
// in, never closer than 0.1s to the end of the source.
func AnalysisPoint(start, end, fraction, total float64) float64 {
	if fraction < 0 || fraction > 1 {
		fraction = DefaultFraction
	}
	at := start + fraction*(end-start)
	if limit := total - endGuard; at > limit {
		at = limit
	}
	if at < 0 {
		at = 0
	}
	return at
}

// MediaElement adapts a media.Element to the sampler's Element.
func MediaElement(exec *media.Executor) ElementOpener {
	return func(ctx context.Context, path string) (Element, error) {
		el, err := media.OpenElement(ctx, exec, path)
		if err != nil {
			return nil, err
		}
		return el, nil
	}
}

func rasterize(src image.Image, width, height int) image.Image {
	b := src.Bounds()
	if width <= 0 || height <= 0 || (b.Dx() == width && b.Dy() == height) {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open reference: %w", err)
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return "", fmt.Errorf("read reference: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}
