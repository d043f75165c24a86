// Package media is the local media runtime: it provides the playback,
// raster-surface, capture-track and recorder primitives that the clip
// renderer and the frame sampler drive. The production implementation
// shells out to ffmpeg/ffprobe and writes clips through Vidio.
package media

import (
	"context"
	"errors"
	"image"
	"strings"
)

var (
	// ErrNoAudio is returned by CaptureAudio when the source has no audio stream.
	ErrNoAudio = errors.New("source has no audio track")
	// ErrNoFrame is returned when a seek lands past the last decodable frame.
	ErrNoFrame = errors.New("no frame at position")
	// ErrReleased is returned when a released surface is asked to capture.
	ErrReleased = errors.New("surface released")
	// ErrCaptureUnsupported is returned when the runtime cannot derive a
	// capture stream from a surface.
	ErrCaptureUnsupported = errors.New("capture stream unsupported")
)

// Metadata is what a loaded player or element reports about its source.
type Metadata struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	HasAudio bool    `json:"has_audio"`
}

type EventType int

const (
	EventSeeked EventType = iota + 1
	EventTimeUpdate
	EventEnded
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSeeked:
		return "seeked"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a playback notification. Time is the playback position in
// seconds; Err is set for EventError.
type Event struct {
	Type EventType
	Time float64
	Err  error
}

// Player is a temporary playback element bound to one source file.
type Player interface {
	Load(ctx context.Context) (Metadata, error)
	// Seek moves the playback position. Completion is signalled
	// asynchronously with EventSeeked.
	Seek(t float64) error
	Play() error
	Pause() error
	// Frame returns the most recently presented frame, or nil. The image
	// must be treated as read-only.
	Frame() image.Image
	// CaptureAudio derives an audio-only track covering [start, end).
	CaptureAudio(ctx context.Context, req AudioRequest) (AudioTrack, error)
	Events() <-chan Event
	Close() error
}

type AudioRequest struct {
	Start float64
	End   float64
	Codec string
}

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is a live media track. Stop is idempotent.
type Track interface {
	ID() string
	Kind() TrackKind
	Live() bool
	Stop()
}

// VideoTrack delivers captured frames until it is stopped, then closes
// Frames.
type VideoTrack interface {
	Track
	Frames() <-chan *image.RGBA
}

// AudioTrack is backed by an encoded audio file.
type AudioTrack interface {
	Track
	Path() string
	Codec() string
}

// Surface is an off-screen raster target.
type Surface interface {
	Width() int
	Height() int
	// DrawCover scales img to cover the whole surface and centres it,
	// cropping the overflow.
	DrawCover(img image.Image)
	Snapshot() *image.RGBA
	CaptureStream(fps float64) (VideoTrack, error)
	Release()
}

// Stream combines one video track with an optional audio track.
type Stream struct {
	Video VideoTrack
	Audio AudioTrack
}

type RecorderOptions struct {
	Format     Format
	Width      int
	Height     int
	Bitrate    int
	FPS        float64
	OutputPath string
}

// Recorder encodes a Stream into a file.
type Recorder interface {
	Start() error
	// Stop finishes the file and returns it.
	Stop(ctx context.Context) (*Blob, error)
	// Abort tears the recorder down and discards any output. It is a no-op
	// after Stop.
	Abort()
	// Err delivers at most one asynchronous encoding failure.
	Err() <-chan error
}

// Blob is an encoded clip on disk.
type Blob struct {
	Path     string `json:"path"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Runtime provides the primitives for one render at a time per source.
type Runtime interface {
	OpenPlayer(ctx context.Context, src string) (Player, error)
	NewSurface(width, height int) Surface
	Supports(f Format) bool
	NewRecorder(stream Stream, opts RecorderOptions) (Recorder, error)
	ActiveTracks() []Track
}

// Format is a container/codec combination a recorder can produce.
type Format struct {
	Name       string
	MIMEType   string
	Ext        string
	VideoCodec string
	AudioCodec string
}

// ContentType is the MIME type without codec parameters.
func (f Format) ContentType() string {
	if i := strings.Index(f.MIMEType, ";"); i >= 0 {
		return f.MIMEType[:i]
	}
	return f.MIMEType
}

// Formats is the recorder preference order: H.264/AAC MP4 first, then a
// plain MP4, then WebM.
var Formats = []Format{
	{Name: "mp4-avc", MIMEType: `video/mp4;codecs="avc1.42E01E,mp4a.40.2"`, Ext: ".mp4", VideoCodec: "libx264", AudioCodec: "aac"},
	{Name: "mp4", MIMEType: "video/mp4", Ext: ".mp4", VideoCodec: "mpeg4", AudioCodec: "aac"},
	{Name: "webm", MIMEType: `video/webm;codecs="vp9,opus"`, Ext: ".webm", VideoCodec: "libvpx-vp9", AudioCodec: "libopus"},
}

// ChooseFormat returns the first supported format in preference order.
func ChooseFormat(supports func(Format) bool) (Format, bool) {
	for _, f := range Formats {
		if supports(f) {
			return f, true
		}
	}
	return Format{}, false
}
