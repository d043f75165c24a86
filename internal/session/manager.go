// Package session owns the single live editing session: the loaded source,
// its split options, the scored segments and the clip cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/render"
	"github.com/instasplit/instasplit-agent/internal/sampler"
	"github.com/instasplit/instasplit-agent/internal/scoring"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/store"
)

var (
	ErrNoSession       = errors.New("no video loaded")
	ErrBusy            = errors.New("another operation is in progress")
	ErrNotAnalyzed     = errors.New("video has not been analyzed")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrClipNotFound    = errors.New("clip not found")
)

// Source is the loaded video as the sampler sees it.
type Source interface {
	sampler.Element
	Metadata() media.Metadata
}

// SourceOpener opens path for frame sampling.
type SourceOpener func(ctx context.Context, path string) (Source, error)

// MediaSource opens sources through ffmpeg.
func MediaSource(exec *media.Executor) SourceOpener {
	return func(ctx context.Context, path string) (Source, error) {
		return media.OpenElement(ctx, exec, path)
	}
}

type Config struct {
	Repo      store.Repository
	Open      SourceOpener
	Scorer    *scoring.Orchestrator
	Renderer  export.Renderer
	Publisher events.Publisher
	// Defaults are the options a freshly loaded session starts with.
	Defaults   segment.SplitOptions
	Privileged bool
	ClipDir    string
	Cooldown   time.Duration
}

// Op names the long-running operation holding the session.
type Op string

const (
	OpNone      Op = ""
	OpAnalyzing Op = "analyzing"
	OpRendering Op = "rendering"
	OpExporting Op = "exporting"
)

// Status is a point-in-time view of the manager.
type Status struct {
	Loaded    bool                  `json:"loaded"`
	SessionID string                `json:"session_id,omitempty"`
	Source    *segment.SourceVideo  `json:"source,omitempty"`
	Options   *segment.SplitOptions `json:"options,omitempty"`
	State     string                `json:"state"`
	Op        Op                    `json:"op,omitempty"`
	Segments  int                   `json:"segments"`
	Analyzer  string                `json:"analyzer"`
}

type Manager struct {
	cfg      Config
	exporter *export.Coordinator
	logger   *slog.Logger

	mu       sync.Mutex
	current  *store.Session
	source   Source
	op       Op
	cancelOp context.CancelFunc
	segments int
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewBus(0)
	}
	logger = logging.WithComponent(logger, "session")
	return &Manager{
		cfg:      cfg,
		exporter: export.NewCoordinator(cfg.Renderer, cfg.Cooldown, logger),
		logger:   logger,
	}
}

// Load replaces the current session with one for path.
func (m *Manager) Load(ctx context.Context, path string) (*store.Session, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: video path is required", segment.ErrInvalidConfiguration)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	if err := m.ensureIdle(); err != nil {
		return nil, err
	}

	src, err := m.cfg.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	meta := src.Metadata()
	if meta.Duration <= 0 || meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("%w: %s has no decodable video", segment.ErrInvalidConfiguration, filepath.Base(path))
	}

	opts := m.cfg.Defaults
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &store.Session{
		ID: uuid.NewString(),
		Source: segment.SourceVideo{
			Path:     path,
			Duration: meta.Duration,
			Width:    meta.Width,
			Height:   meta.Height,
			FPS:      meta.FPS,
			HasAudio: meta.HasAudio,
		},
		Options:   opts,
		Status:    store.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op != OpNone {
		return nil, ErrBusy
	}
	if m.current != nil {
		m.dropLocked(ctx)
	}
	if err := m.cfg.Repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.current = sess
	m.source = src
	m.segments = 0

	logging.WithSessionID(m.logger, sess.ID).Info("video loaded",
		"path", logging.SanitizePath(path),
		"duration", meta.Duration,
		"width", meta.Width,
		"height", meta.Height,
	)
	m.publish(events.Event{Type: events.TypeSession, SessionID: sess.ID, Message: "loaded"})
	return cloneSession(sess), nil
}

// SetOptions changes the split options. Cached clips are invalidated; scored
// segments survive only an aspect ratio change.
func (m *Manager) SetOptions(ctx context.Context, opts segment.SplitOptions) (*store.Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	if m.op != OpNone {
		return nil, ErrBusy
	}
	return m.setOptionsLocked(ctx, opts)
}

func (m *Manager) setOptionsLocked(ctx context.Context, opts segment.SplitOptions) (*store.Session, error) {
	sess := m.current
	old := sess.Options
	if old == opts {
		return cloneSession(sess), nil
	}

	gen, err := m.cfg.Repo.UpdateSessionOptions(ctx, sess.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("update options: %w", err)
	}
	m.removeClipsLocked(ctx)

	rescore := old.SegmentDuration != opts.SegmentDuration || old.Overlap != opts.Overlap || old.MinScore != opts.MinScore
	if rescore {
		if err := m.cfg.Repo.DeleteSegments(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("clear segments: %w", err)
		}
		m.segments = 0
		if err := m.setStatusLocked(ctx, store.StatusIdle); err != nil {
			return nil, err
		}
	}

	sess.Options = opts
	sess.Generation = gen
	sess.UpdatedAt = time.Now().UTC()
	logging.WithSessionID(m.logger, sess.ID).Info("options changed", "generation", gen, "rescore", rescore)
	return cloneSession(sess), nil
}

// Analyze plans and scores the loaded video. Only accepted segments are
// kept. opts, when non-nil, is applied first.
func (m *Manager) Analyze(ctx context.Context, opts *segment.SplitOptions) (scoring.Summary, error) {
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return scoring.Summary{}, err
		}
	}

	ctx, sess, src, err := m.begin(ctx, OpAnalyzing)
	if err != nil {
		return scoring.Summary{}, err
	}
	defer m.end()

	if opts != nil {
		m.mu.Lock()
		s, err := m.setOptionsLocked(ctx, *opts)
		m.mu.Unlock()
		if err != nil {
			return scoring.Summary{}, err
		}
		sess = s
	}

	logger := logging.WithSessionID(m.logger, sess.ID)
	windows, err := segment.Plan(sess.Source.Duration, float64(sess.Options.SegmentDuration), sess.Options.Overlap, segment.MaxSegments(m.cfg.Privileged))
	if err != nil {
		return scoring.Summary{}, err
	}

	if err := m.cfg.Repo.DeleteSegments(ctx, sess.ID); err != nil {
		return scoring.Summary{}, fmt.Errorf("clear segments: %w", err)
	}
	m.setSegments(0)
	m.setStatus(ctx, store.StatusAnalyzing)
	logger.Info("analysis started", "windows", len(windows), "min_score", sess.Options.MinScore)

	run := m.cfg.Scorer.Start(ctx, src, sess.Source, windows, sess.Options.MinScore, func(p int) {
		m.publish(events.Event{Type: events.TypeAnalysisProgress, SessionID: sess.ID, Progress: p})
	})

	var storeErr error
	for c := range run.Completions() {
		if !c.Accepted {
			continue
		}
		if err := m.cfg.Repo.InsertSegment(ctx, sess.ID, c.Segment); err != nil {
			if storeErr == nil {
				storeErr = fmt.Errorf("store segment %d: %w", c.Segment.Index, err)
			}
			continue
		}
		m.addSegment()
		m.publish(events.Event{
			Type:         events.TypeAnalysisSegment,
			SessionID:    sess.ID,
			SegmentIndex: events.Segment(c.Segment.Index),
			Data:         c.Segment,
		})
	}

	summary, err := run.Wait()
	if err == nil {
		err = storeErr
	}
	if err != nil {
		m.setStatus(context.WithoutCancel(ctx), store.StatusIdle)
		m.publish(events.Event{Type: events.TypeError, SessionID: sess.ID, Message: err.Error()})
		return summary, err
	}

	m.setStatus(ctx, store.StatusAnalyzed)
	m.publish(events.Event{Type: events.TypeAnalysisDone, SessionID: sess.ID, Progress: 100, Data: summary})
	return summary, nil
}

// Segments lists the stored segments in display order.
func (m *Manager) Segments(ctx context.Context, order segment.SortOrder) ([]segment.Segment, error) {
	sess, err := m.session()
	if err != nil {
		return nil, err
	}
	return m.cfg.Repo.ListSegments(ctx, sess.ID, order)
}

// Segment returns one stored segment, including its thumbnail.
func (m *Manager) Segment(ctx context.Context, index int) (*segment.Segment, error) {
	sess, err := m.session()
	if err != nil {
		return nil, err
	}
	seg, err := m.cfg.Repo.GetSegment(ctx, sess.ID, index)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, fmt.Errorf("%w: %d", ErrSegmentNotFound, index)
	}
	return seg, nil
}

// RenderSegment returns the clip for a segment at the session's aspect
// ratio, rendering it unless a cached one is still on disk.
func (m *Manager) RenderSegment(ctx context.Context, index int) (*store.RenderedClip, error) {
	seg, err := m.Segment(ctx, index)
	if err != nil {
		return nil, err
	}

	ctx, sess, _, err := m.begin(ctx, OpRendering)
	if err != nil {
		return nil, err
	}
	defer m.end()

	aspect := sess.Options.AspectRatio
	logger := logging.WithSegment(logging.WithSessionID(m.logger, sess.ID), index)

	cached, err := m.cfg.Repo.FindClip(ctx, sess.ID, sess.Generation, index, aspect)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if _, err := os.Stat(cached.Path); err == nil {
			logger.Debug("clip cache hit", "handle", cached.Handle)
			return cached, nil
		}
	}

	if err := os.MkdirAll(m.cfg.ClipDir, 0755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	prev := m.status()
	m.setStatus(ctx, store.StatusRendering)
	defer m.setStatus(context.WithoutCancel(ctx), prev)

	name := fmt.Sprintf("%s-g%d-%03d-%s.mp4", sess.ID[:8], sess.Generation, index, aspectSlug(aspect))
	blob, err := m.cfg.Renderer.Render(ctx, render.Request{
		Source:     sess.Source.Path,
		Start:      seg.Start,
		End:        seg.End,
		Aspect:     aspect,
		OutputPath: filepath.Join(m.cfg.ClipDir, name),
	}, func(p int) {
		m.publish(events.Event{Type: events.TypeRenderProgress, SessionID: sess.ID, SegmentIndex: events.Segment(index), Progress: p})
	})
	if err != nil {
		m.publish(events.Event{Type: events.TypeError, SessionID: sess.ID, SegmentIndex: events.Segment(index), Message: err.Error()})
		return nil, err
	}

	clip := &store.RenderedClip{
		Handle:       uuid.NewString(),
		SessionID:    sess.ID,
		Generation:   sess.Generation,
		SegmentIndex: index,
		Aspect:       aspect,
		Path:         blob.Path,
		MIMEType:     blob.MIMEType,
		Size:         blob.Size,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.cfg.Repo.CreateClip(ctx, clip); err != nil {
		os.Remove(blob.Path)
		return nil, fmt.Errorf("record clip: %w", err)
	}
	logger.Info("clip ready", "handle", clip.Handle, "bytes", clip.Size)
	return clip, nil
}

// Clip looks up a rendered clip of the current session by handle.
func (m *Manager) Clip(ctx context.Context, handle string) (*store.RenderedClip, error) {
	sess, err := m.session()
	if err != nil {
		return nil, err
	}
	clip, err := m.cfg.Repo.GetClip(ctx, handle)
	if err != nil {
		return nil, err
	}
	if clip == nil || clip.SessionID != sess.ID {
		return nil, ErrClipNotFound
	}
	return clip, nil
}

// ExportAll renders every stored segment, in the given order, into dir.
func (m *Manager) ExportAll(ctx context.Context, dir string, order segment.SortOrder) (export.Summary, error) {
	if err := export.ValidateOutputDir(dir); err != nil {
		return export.Summary{}, err
	}

	ctx, sess, _, err := m.begin(ctx, OpExporting)
	if err != nil {
		return export.Summary{}, err
	}
	defer m.end()

	segs, err := m.cfg.Repo.ListSegments(ctx, sess.ID, order)
	if err != nil {
		return export.Summary{}, err
	}
	if len(segs) == 0 {
		return export.Summary{}, ErrNotAnalyzed
	}

	prev := m.status()
	m.setStatus(ctx, store.StatusExporting)
	defer m.setStatus(context.WithoutCancel(ctx), prev)

	sum := m.exporter.ExportAll(ctx, export.Batch{
		Source:    sess.Source.Path,
		Segments:  segs,
		Aspect:    sess.Options.AspectRatio,
		OutputDir: dir,
	}, func(res export.ItemResult) {
		ev := events.Event{
			Type:         events.TypeExportItem,
			SessionID:    sess.ID,
			SegmentIndex: events.Segment(res.SegmentIndex),
			Progress:     res.Completed * 100 / res.Total,
			Data:         res,
		}
		if res.Err != nil {
			ev.Message = res.Err.Error()
		}
		m.publish(ev)
	})
	m.publish(events.Event{Type: events.TypeExportDone, SessionID: sess.ID, Data: sum})

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// ExportEDL writes an edit decision list of the stored segments, best
// first, to dir.
func (m *Manager) ExportEDL(ctx context.Context, dir, title string) (string, error) {
	sess, err := m.session()
	if err != nil {
		return "", err
	}
	segs, err := m.cfg.Repo.ListSegments(ctx, sess.ID, segment.SortByScore)
	if err != nil {
		return "", err
	}
	if len(segs) == 0 {
		return "", ErrNotAnalyzed
	}
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(filepath.Base(sess.Source.Path), filepath.Ext(sess.Source.Path))
	}
	return export.WriteEDL(export.EDLRequest{
		Title:     title,
		Source:    sess.Source.Path,
		FrameRate: sess.Source.FPS,
		Segments:  segs,
		OutputDir: dir,
	})
}

// Cancel stops the running operation, if any. It reports whether there was
// one.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelOp == nil {
		return false
	}
	m.cancelOp()
	return true
}

// Reset drops the session, its segments and cached clip files.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op != OpNone {
		return ErrBusy
	}
	if m.current == nil {
		return nil
	}
	id := m.current.ID
	m.dropLocked(ctx)
	m.publish(events.Event{Type: events.TypeSession, SessionID: id, Message: "reset"})
	return nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: store.StatusIdle, Op: m.op}
	if a := m.cfg.Scorer; a != nil {
		st.Analyzer = a.Analyzer().Name()
	}
	if m.current == nil {
		return st
	}
	src := m.current.Source
	opts := m.current.Options
	st.Loaded = true
	st.SessionID = m.current.ID
	st.Source = &src
	st.Options = &opts
	st.State = m.current.Status
	st.Segments = m.segments
	return st
}

// begin claims the session for op and returns a cancellable context.
func (m *Manager) begin(ctx context.Context, op Op) (context.Context, *store.Session, Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, nil, nil, ErrNoSession
	}
	if m.op != OpNone {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrBusy, m.op)
	}
	ctx, cancel := context.WithCancel(ctx)
	m.op = op
	m.cancelOp = cancel
	return ctx, cloneSession(m.current), m.source, nil
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelOp != nil {
		m.cancelOp()
	}
	m.op = OpNone
	m.cancelOp = nil
}

func (m *Manager) ensureIdle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op != OpNone {
		return fmt.Errorf("%w: %s", ErrBusy, m.op)
	}
	return nil
}

func (m *Manager) session() (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return cloneSession(m.current), nil
}

func (m *Manager) status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return store.StatusIdle
	}
	return m.current.Status
}

func (m *Manager) setStatus(ctx context.Context, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	if err := m.setStatusLocked(ctx, status); err != nil {
		m.logger.Warn("failed to update session status", "status", status, "error", err)
	}
}

func (m *Manager) setStatusLocked(ctx context.Context, status string) error {
	if err := m.cfg.Repo.UpdateSessionStatus(ctx, m.current.ID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	m.current.Status = status
	return nil
}

func (m *Manager) setSegments(n int) {
	m.mu.Lock()
	m.segments = n
	m.mu.Unlock()
}

func (m *Manager) addSegment() {
	m.mu.Lock()
	m.segments++
	m.mu.Unlock()
}

// dropLocked deletes the current session and its clip files.
func (m *Manager) dropLocked(ctx context.Context) {
	m.removeClipsLocked(ctx)
	if err := m.cfg.Repo.DeleteSession(ctx, m.current.ID); err != nil {
		m.logger.Warn("failed to delete session", "session_id", m.current.ID, "error", err)
	}
	m.current = nil
	m.source = nil
	m.segments = 0
}

func (m *Manager) removeClipsLocked(ctx context.Context) {
	clips, err := m.cfg.Repo.DeleteClips(ctx, m.current.ID)
	if err != nil {
		m.logger.Warn("failed to delete clips", "session_id", m.current.ID, "error", err)
		return
	}
	for _, c := range clips {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove clip file", "path", logging.SanitizePath(c.Path), "error", err)
		}
	}
}

func (m *Manager) publish(ev events.Event) {
	m.cfg.Publisher.Publish(ev)
}

func cloneSession(s *store.Session) *store.Session {
	c := *s
	return &c
}

func aspectSlug(a segment.AspectRatio) string {
	return strings.ToLower(strings.ReplaceAll(string(a), ":", "x"))
}
