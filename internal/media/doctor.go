package media

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities reports what the local media toolchain can do.
type Capabilities struct {
	FFmpeg      bool            `json:"ffmpeg"`
	FFprobe     bool            `json:"ffprobe"`
	FFmpegPath  string          `json:"ffmpeg_path,omitempty"`
	FFprobePath string          `json:"ffprobe_path,omitempty"`
	Encoders    map[string]bool `json:"-"`
	Formats     []string        `json:"formats"`
	ProbedAt    time.Time       `json:"probed_at"`
}

// Supports reports whether both codecs of f can be encoded.
func (c *Capabilities) Supports(f Format) bool {
	if c == nil || !c.FFmpeg {
		return false
	}
	return c.Encoders[f.VideoCodec] && c.Encoders[f.AudioCodec]
}

// CanRender reports whether at least one recorder format is available.
func (c *Capabilities) CanRender() bool {
	_, ok := ChooseFormat(c.Supports)
	return ok
}

// CapabilityProber produces a fresh capability report.
type CapabilityProber interface {
	ProbeCapabilities(ctx context.Context) (*Capabilities, error)
}

// ProbeCapabilities lists encoders and derives the supported formats.
func (e *Executor) ProbeCapabilities(ctx context.Context) (*Capabilities, error) {
	encoders, err := e.Encoders(ctx)
	if err != nil {
		return nil, err
	}
	caps := &Capabilities{
		FFmpeg:      true,
		FFprobe:     e.ffprobePath != "",
		FFmpegPath:  e.ffmpegPath,
		FFprobePath: e.ffprobePath,
		Encoders:    encoders,
		ProbedAt:    time.Now(),
	}
	for _, f := range Formats {
		if caps.Supports(f) {
			caps.Formats = append(caps.Formats, f.Name)
		}
	}

	e.logger.Info("media capabilities probed",
		"formats", caps.Formats,
		"encoders", len(encoders),
	)
	return caps, nil
}

// CachedDoctor caches capability probes with a TTL. When a refresh fails the
// last good report is returned.
type CachedDoctor struct {
	prober CapabilityProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around capability probes.
func NewCachedDoctor(prober CapabilityProber, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the cached report without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.ProbeCapabilities(ctx)
	if err != nil {
		d.logger.Warn("capability probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
