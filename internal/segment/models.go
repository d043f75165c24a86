// Package segment holds the split domain types and the Segment Planner.
package segment

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidConfiguration is returned when split inputs violate planner
// invariants, most commonly overlap >= segment duration.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// AspectRatio is the output framing of a rendered clip.
type AspectRatio string

const (
	AspectOriginal AspectRatio = "Original"
	AspectPortrait AspectRatio = "9:16"
	AspectWide     AspectRatio = "16:9"
	AspectSquare   AspectRatio = "1:1"
)

// AspectRatios lists the supported ratios in menu order.
var AspectRatios = []AspectRatio{AspectOriginal, AspectPortrait, AspectWide, AspectSquare}

// ParseAspectRatio accepts the canonical names, case-insensitively for
// "original".
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, string(AspectOriginal)) {
		return AspectOriginal, nil
	}
	for _, a := range AspectRatios {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown aspect ratio %q", ErrInvalidConfiguration, s)
}

// SegmentDurations are the clip lengths offered to users, in seconds.
var SegmentDurations = []int{15, 30, 60, 90}

const (
	// MinTailSeconds is the shortest trailing window worth emitting.
	MinTailSeconds = 5.0

	MaxSegmentsFree       = 40
	MaxSegmentsPrivileged = 200
)

// MaxSegments returns the per-analysis window cap for an account tier.
func MaxSegments(privileged bool) int {
	if privileged {
		return MaxSegmentsPrivileged
	}
	return MaxSegmentsFree
}

// SourceVideo describes the loaded media. It is replaced, never mutated.
type SourceVideo struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	HasAudio bool    `json:"has_audio"`
}

func (v SourceVideo) IsLandscape() bool {
	return v.Width > v.Height
}

// SplitOptions configures one analysis run.
type SplitOptions struct {
	SegmentDuration int         `json:"segment_duration"`
	Overlap         float64     `json:"overlap"`
	MinScore        int         `json:"min_score"`
	AspectRatio     AspectRatio `json:"aspect_ratio"`
}

// Validate checks the option invariants.
func (o SplitOptions) Validate() error {
	if !slices.Contains(SegmentDurations, o.SegmentDuration) {
		return fmt.Errorf("%w: segment duration must be one of %v, got %d", ErrInvalidConfiguration, SegmentDurations, o.SegmentDuration)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative", ErrInvalidConfiguration)
	}
	if o.Overlap >= float64(o.SegmentDuration) {
		return fmt.Errorf("%w: overlap must be smaller than duration", ErrInvalidConfiguration)
	}
	if o.MinScore < 0 || o.MinScore > 100 {
		return fmt.Errorf("%w: min score must be between 0 and 100", ErrInvalidConfiguration)
	}
	if _, err := ParseAspectRatio(string(o.AspectRatio)); err != nil {
		return err
	}
	return nil
}

// Window is a planned analysis range [Start, End) in seconds.
type Window struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Segment is a window enriched by the scoring oracle.
type Segment struct {
	Index             int      `json:"index"`
	Start             float64  `json:"start"`
	End               float64  `json:"end"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Score             int      `json:"score"`
	Explanation       string   `json:"explanation"`
	Tags              []string `json:"tags"`
	Thumbnail         []byte   `json:"-"`
	SourceIsLandscape bool     `json:"source_is_landscape"`
	Degraded          bool     `json:"degraded"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

func (s Segment) Window() Window {
	return Window{Index: s.Index, Start: s.Start, End: s.End}
}

// SortOrder selects how a segment collection is displayed.
type SortOrder string

const (
	SortByTime  SortOrder = "time"
	SortByScore SortOrder = "score"
)

// ParseSortOrder defaults to chronological order.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "time":
		return SortByTime, nil
	case "score":
		return SortByScore, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// Sorted returns a copy of segs in the given order. Index breaks ties so the
// result is deterministic.
func Sorted(segs []Segment, order SortOrder) []Segment {
	out := slices.Clone(segs)
	switch order {
	case SortByScore:
		slices.SortStableFunc(out, func(a, b Segment) int {
			if a.Score != b.Score {
				return b.Score - a.Score
			}
			return a.Index - b.Index
		})
	default:
		slices.SortStableFunc(out, func(a, b Segment) int {
			if a.Start != b.Start {
				if a.Start < b.Start {
					return -1
				}
				return 1
			}
			return a.Index - b.Index
		})
	}
	return out
}
