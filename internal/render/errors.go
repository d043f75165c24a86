package render

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindPlaybackFailed      Kind = "playback_failed"
	KindCaptureUnsupported  Kind = "capture_unsupported"
	KindEncodingUnsupported Kind = "encoding_unsupported"
	KindEncodingFailed      Kind = "encoding_failed"
)

// ErrPlaybackStalled is wrapped in a PlaybackFailed error when the player
// stops reporting progress.
var ErrPlaybackStalled = errors.New("playback stalled")

// RenderError is a failed render. Renders are not retried.
type RenderError struct {
	Kind Kind
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err == nil {
		return "render: " + string(e.Kind)
	}
	return fmt.Sprintf("render: %s: %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *RenderError {
	return &RenderError{Kind: kind, Err: err}
}

// KindOf reports the kind of a RenderError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
