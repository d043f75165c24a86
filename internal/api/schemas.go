package api

import (
	"time"

	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/scoring"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/session"
	"github.com/instasplit/instasplit-agent/internal/store"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	Analyzer string `json:"analyzer"`
}

type StatusResponse struct {
	session.Status
	ActivePlayer string `json:"active_player,omitempty"`
	Players      int    `json:"players"`
	LatestEvent  int64  `json:"latest_event"`
	Generation   bool   `json:"generation_available"`
}

type LoadRequest struct {
	Path string `json:"path"`
}

type SessionResponse struct {
	ID         string               `json:"id"`
	Source     segment.SourceVideo  `json:"source"`
	Options    segment.SplitOptions `json:"options"`
	Generation int                  `json:"generation"`
	Status     string               `json:"status"`
	CreatedAt  string               `json:"created_at"`
}

// OptionsRequest carries split options. Omitted fields keep their current
// value.
type OptionsRequest struct {
	SegmentDuration *int     `json:"segment_duration,omitempty"`
	Overlap         *float64 `json:"overlap,omitempty"`
	MinScore        *int     `json:"min_score,omitempty"`
	AspectRatio     *string  `json:"aspect_ratio,omitempty"`
}

type AnalyzeResponse struct {
	Status  string          `json:"status"`
	Summary scoring.Summary `json:"summary"`
}

type SegmentResponse struct {
	segment.Segment
	Thumbnail []byte `json:"thumbnail,omitempty"`
	ShareText string `json:"share_text"`
}

type SegmentsResponse struct {
	Sort     segment.SortOrder `json:"sort"`
	Segments []SegmentResponse `json:"segments"`
}

type ClipResponse struct {
	Handle       string `json:"handle"`
	SegmentIndex int    `json:"segment_index"`
	AspectRatio  string `json:"aspect_ratio"`
	MIMEType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

type ExportRequest struct {
	OutputDir string `json:"output_dir"`
	Sort      string `json:"sort,omitempty"`
}

type ExportResponse struct {
	Status  string         `json:"status"`
	Summary export.Summary `json:"summary"`
}

type EDLRequest struct {
	OutputDir string `json:"output_dir"`
	Title     string `json:"title,omitempty"`
}

type EDLResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
}

type EventsResponse struct {
	Events []events.Event `json:"events"`
	Latest int64          `json:"latest"`
}

type GenerateRequest struct {
	Prompt        string `json:"prompt"`
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	Style         string `json:"style,omitempty"`
	Image         []byte `json:"image,omitempty"`
	ImageMIMEType string `json:"image_mime_type,omitempty"`
	ReferencePath string `json:"reference_path,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`
}

type GenerateVideoResponse struct {
	Operation   string `json:"operation"`
	URI         string `json:"uri"`
	AspectRatio string `json:"aspect_ratio"`
	Path        string `json:"path,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type GenerateImageResponse struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type PromptRequest struct {
	Prompt string `json:"prompt"`
}

type DescribeRequest struct {
	Image    []byte `json:"image,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Path     string `json:"path,omitempty"`
}

type PromptResponse struct {
	Prompt string `json:"prompt"`
}

type ActivateResponse struct {
	Active string   `json:"active"`
	Paused []string `json:"paused"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s *store.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID,
		Source:     s.Source,
		Options:    s.Options,
		Generation: s.Generation,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
	}
}

func SegmentToResponse(s segment.Segment) SegmentResponse {
	return SegmentResponse{
		Segment:   s,
		Thumbnail: s.Thumbnail,
		ShareText: export.ShareText(s.Title),
	}
}

func ClipToResponse(c *store.RenderedClip) ClipResponse {
	return ClipResponse{
		Handle:       c.Handle,
		SegmentIndex: c.SegmentIndex,
		AspectRatio:  string(c.Aspect),
		MIMEType:     c.MIMEType,
		Size:         c.Size,
		URL:          "/clips/" + c.Handle,
	}
}

// apply overlays the set fields of req onto base.
func (req OptionsRequest) apply(base segment.SplitOptions) (segment.SplitOptions, error) {
	if req.SegmentDuration != nil {
		base.SegmentDuration = *req.SegmentDuration
	}
	if req.Overlap != nil {
		base.Overlap = *req.Overlap
	}
	if req.MinScore != nil {
		base.MinScore = *req.MinScore
	}
	if req.AspectRatio != nil {
		a, err := segment.ParseAspectRatio(*req.AspectRatio)
		if err != nil {
			return base, err
		}
		base.AspectRatio = a
	}
	return base, base.Validate()
}
