package store

import (
	"time"

	"github.com/instasplit/instasplit-agent/internal/segment"
)

const (
	StatusIdle      = "idle"
	StatusAnalyzing = "analyzing"
	StatusAnalyzed  = "analyzed"
	StatusRendering = "rendering"
	StatusExporting = "exporting"
)

// Session is one loaded source and its current split options. Generation
// increments whenever the options change so cached clips can be told apart.
type Session struct {
	ID         string               `json:"id"`
	Source     segment.SourceVideo  `json:"source"`
	Options    segment.SplitOptions `json:"options"`
	Generation int                  `json:"generation"`
	Status     string               `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// RenderedClip is an encoded clip cached for a segment and aspect ratio.
type RenderedClip struct {
	Handle       string              `json:"handle"`
	SessionID    string              `json:"session_id"`
	Generation   int                 `json:"generation"`
	SegmentIndex int                 `json:"segment_index"`
	Aspect       segment.AspectRatio `json:"aspect_ratio"`
	Path         string              `json:"-"`
	MIMEType     string              `json:"mime_type"`
	Size         int64               `json:"size"`
	CreatedAt    time.Time           `json:"created_at"`
}
