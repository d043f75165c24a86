package export

import (
	"github.com/instasplit/instasplit-agent/internal/segment"
)

// Batch is one multi-clip export request.
type Batch struct {
	Source    string
	Segments  []segment.Segment
	Aspect    segment.AspectRatio
	OutputDir string
}

// ItemResult is reported after each batch item, successful or not.
type ItemResult struct {
	Position     int    `json:"position"`
	SegmentIndex int    `json:"segment_index"`
	Title        string `json:"title"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	Path         string `json:"path,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Err          error  `json:"-"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Failed reports whether the item was attempted and did not produce a file.
func (r ItemResult) Failed() bool {
	return r.Err != nil && !r.Skipped
}

// Summary is the outcome of a whole batch.
type Summary struct {
	Total    int      `json:"total"`
	Exported int      `json:"exported"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Files    []string `json:"files"`
}

// EDLRequest describes an edit decision list over a session's segments.
type EDLRequest struct {
	Title     string
	Source    string
	FrameRate float64
	Segments  []segment.Segment
	OutputDir string
}

// EDLClip is one event of an edit decision list.
type EDLClip struct {
	ClipName  string
	MediaPath string
	Start     float64
	End       float64
}
