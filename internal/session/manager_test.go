package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/instasplit/instasplit-agent/internal/db"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/oracle"
	"github.com/instasplit/instasplit-agent/internal/render"
	"github.com/instasplit/instasplit-agent/internal/sampler"
	"github.com/instasplit/instasplit-agent/internal/scoring"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// bandSource paints each 30 s band of the video a brighter grey.
type bandSource struct {
	meta media.Metadata

	mu  sync.Mutex
	pos float64
}

func (s *bandSource) Seek(ctx context.Context, t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = t
	return nil
}

func (s *bandSource) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level := uint8(int(s.pos/30) * 40)
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = level, level, level, 255
	}
	return img, nil
}

func (s *bandSource) Width() int               { return 16 }
func (s *bandSource) Height() int              { return 16 }
func (s *bandSource) Metadata() media.Metadata { return s.meta }

// bandAnalyzer scores band i as 30*i.
type bandAnalyzer struct{}

func (bandAnalyzer) Name() string { return "band" }

func (bandAnalyzer) Analyze(ctx context.Context, frame []byte, mimeType string) (oracle.Analysis, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return oracle.Analysis{}, err
	}
	r, _, _, _ := img.At(8, 8).RGBA()
	band := int(math.Round(float64(r>>8) / 40))
	return oracle.Analysis{Title: "Band", Score: band * 30, Tags: []string{"#band"}}.Normalize(), nil
}

type fakeRenderer struct {
	calls   atomic.Int32
	block   chan struct{}
	err     error
	lastReq render.Request
	mu      sync.Mutex
}

func (f *fakeRenderer) Render(ctx context.Context, req render.Request, onProgress render.ProgressFunc) (*media.Blob, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	if err := os.WriteFile(req.OutputPath, []byte("clip"), 0644); err != nil {
		return nil, err
	}
	return &media.Blob{Path: req.OutputPath, MIMEType: "video/mp4", Size: 4}, nil
}

type fixture struct {
	m        *Manager
	repo     *store.SQLiteRepository
	bus      *events.Bus
	renderer *fakeRenderer
	source   *bandSource
	clipDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(db.MemoryPath, nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		repo:     store.NewRepository(database.Conn()),
		bus:      events.NewBus(1000),
		renderer: &fakeRenderer{},
		source:   &bandSource{meta: media.Metadata{Duration: 120, Width: 1920, Height: 1080, FPS: 30, HasAudio: true}},
		clipDir:  filepath.Join(t.TempDir(), "clips"),
	}
	scorer := scoring.New(sampler.New(sampler.DefaultQuality, nil, testLogger()), bandAnalyzer{}, scoring.Options{}, testLogger())
	f.m = NewManager(Config{
		Repo:      f.repo,
		Open:      func(ctx context.Context, path string) (Source, error) { return f.source, nil },
		Scorer:    scorer,
		Renderer:  f.renderer,
		Publisher: f.bus,
		Defaults:  segment.SplitOptions{SegmentDuration: 30, MinScore: 50, AspectRatio: segment.AspectPortrait},
		ClipDir:   f.clipDir,
		Cooldown:  -1,
	}, testLogger())
	return f
}

func (f *fixture) loadAndAnalyze(t *testing.T) *store.Session {
	t.Helper()
	sess, err := f.m.Load(context.Background(), "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := f.m.Analyze(context.Background(), nil); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	return sess
}

func eventsOf(bus *events.Bus, typ events.Type) []events.Event {
	var out []events.Event
	for _, ev := range bus.Since(0) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestManager_RequiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.m.Analyze(ctx, nil); !errors.Is(err, ErrNoSession) {
		t.Errorf("Analyze() error = %v, want ErrNoSession", err)
	}
	if _, err := f.m.Segments(ctx, segment.SortByTime); !errors.Is(err, ErrNoSession) {
		t.Errorf("Segments() error = %v, want ErrNoSession", err)
	}
	if _, err := f.m.RenderSegment(ctx, 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("RenderSegment() error = %v, want ErrNoSession", err)
	}
	if _, err := f.m.SetOptions(ctx, segment.SplitOptions{SegmentDuration: 15, AspectRatio: segment.AspectSquare}); !errors.Is(err, ErrNoSession) {
		t.Errorf("SetOptions() error = %v, want ErrNoSession", err)
	}
	if f.m.Status().Loaded {
		t.Error("Status().Loaded = true before Load")
	}
}

func TestManager_LoadAndAnalyze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.m.Load(ctx, "/videos/talk.mp4")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.Source.Duration != 120 || !sess.Source.IsLandscape() {
		t.Errorf("source = %+v", sess.Source)
	}

	summary, err := f.m.Analyze(ctx, nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if summary.Planned != 4 || summary.Accepted != 2 || summary.Rejected != 2 {
		t.Errorf("summary = %+v, want 4 planned, 2 accepted", summary)
	}

	byScore, err := f.m.Segments(ctx, segment.SortByScore)
	if err != nil {
		t.Fatalf("Segments() error = %v", err)
	}
	if len(byScore) != 2 || byScore[0].Index != 3 || byScore[1].Index != 2 {
		t.Fatalf("segments by score = %+v", byScore)
	}
	if byScore[0].Score != 90 || !byScore[0].SourceIsLandscape || len(byScore[0].Thumbnail) == 0 {
		t.Errorf("best segment = %+v", byScore[0])
	}

	byTime, _ := f.m.Segments(ctx, segment.SortByTime)
	if byTime[0].Index != 2 {
		t.Errorf("segments by time start with %d, want 2", byTime[0].Index)
	}

	st := f.m.Status()
	if !st.Loaded || st.State != store.StatusAnalyzed || st.Segments != 2 || st.Analyzer != "band" {
		t.Errorf("Status() = %+v", st)
	}

	progress := eventsOf(f.bus, events.TypeAnalysisProgress)
	if len(progress) == 0 || progress[len(progress)-1].Progress != 100 {
		t.Errorf("progress events = %+v", progress)
	}
	if got := len(eventsOf(f.bus, events.TypeAnalysisSegment)); got != 2 {
		t.Errorf("segment events = %d, want 2", got)
	}
	if got := len(eventsOf(f.bus, events.TypeAnalysisDone)); got != 1 {
		t.Errorf("done events = %d, want 1", got)
	}
}

func TestManager_AnalyzeWithOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loadAndAnalyze(t)

	opts := segment.SplitOptions{SegmentDuration: 30, MinScore: 0, AspectRatio: segment.AspectPortrait}
	summary, err := f.m.Analyze(ctx, &opts)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if summary.Accepted != 4 {
		t.Errorf("accepted = %d, want 4 with min score 0", summary.Accepted)
	}

	bad := segment.SplitOptions{SegmentDuration: 30, Overlap: 30, AspectRatio: segment.AspectPortrait}
	if _, err := f.m.Analyze(ctx, &bad); !errors.Is(err, segment.ErrInvalidConfiguration) {
		t.Errorf("Analyze() error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestManager_LoadRejectsEmptyVideo(t *testing.T) {
	f := newFixture(t)
	f.source.meta = media.Metadata{}
	if _, err := f.m.Load(context.Background(), "/videos/empty.mp4"); !errors.Is(err, segment.ErrInvalidConfiguration) {
		t.Errorf("Load() error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestManager_RenderSegmentCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loadAndAnalyze(t)

	clip, err := f.m.RenderSegment(ctx, 3)
	if err != nil {
		t.Fatalf("RenderSegment() error = %v", err)
	}
	if clip.SegmentIndex != 3 || clip.Aspect != segment.AspectPortrait || clip.Size != 4 {
		t.Errorf("clip = %+v", clip)
	}
	if req := f.renderer.lastReq; req.Start != 90 || req.End != 120 || req.Source != "/videos/talk.mp4" {
		t.Errorf("render request = %+v", req)
	}

	again, err := f.m.RenderSegment(ctx, 3)
	if err != nil {
		t.Fatalf("RenderSegment() error = %v", err)
	}
	if again.Handle != clip.Handle || f.renderer.calls.Load() != 1 {
		t.Errorf("second render should hit the cache (calls = %d)", f.renderer.calls.Load())
	}

	got, err := f.m.Clip(ctx, clip.Handle)
	if err != nil || got.Path != clip.Path {
		t.Errorf("Clip() = %+v, %v", got, err)
	}
	if _, err := f.m.Clip(ctx, "missing"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Clip(missing) error = %v, want ErrClipNotFound", err)
	}
	if got := eventsOf(f.bus, events.TypeRenderProgress); len(got) != 2 || got[1].Progress != 100 {
		t.Errorf("render progress events = %+v", got)
	}
}

func TestManager_RenderUnknownSegment(t *testing.T) {
	f := newFixture(t)
	f.loadAndAnalyze(t)
	if _, err := f.m.RenderSegment(context.Background(), 0); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("RenderSegment(rejected) error = %v, want ErrSegmentNotFound", err)
	}
}

func TestManager_OptionsInvalidateClips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loadAndAnalyze(t)

	clip, err := f.m.RenderSegment(ctx, 2)
	if err != nil {
		t.Fatalf("RenderSegment() error = %v", err)
	}

	sess, err := f.m.SetOptions(ctx, segment.SplitOptions{SegmentDuration: 30, MinScore: 50, AspectRatio: segment.AspectSquare})
	if err != nil {
		t.Fatalf("SetOptions() error = %v", err)
	}
	if sess.Generation != 2 {
		t.Errorf("generation = %d, want 2", sess.Generation)
	}
	if _, err := os.Stat(clip.Path); !os.IsNotExist(err) {
		t.Error("cached clip file should be removed when options change")
	}
	segs, _ := f.m.Segments(ctx, segment.SortByTime)
	if len(segs) != 2 {
		t.Errorf("aspect change should keep segments, got %d", len(segs))
	}

	if _, err := f.m.SetOptions(ctx, segment.SplitOptions{SegmentDuration: 15, MinScore: 50, AspectRatio: segment.AspectSquare}); err != nil {
		t.Fatalf("SetOptions() error = %v", err)
	}
	segs, _ = f.m.Segments(ctx, segment.SortByTime)
	if len(segs) != 0 || f.m.Status().State != store.StatusIdle {
		t.Errorf("duration change should clear segments, got %d (%s)", len(segs), f.m.Status().State)
	}
}

func TestManager_BusyAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loadAndAnalyze(t)
	f.renderer.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.m.RenderSegment(ctx, 3)
		errCh <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for f.renderer.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("render never started")
		}
		time.Sleep(time.Millisecond)
	}
	if op := f.m.Status().Op; op != OpRendering {
		t.Errorf("Status().Op = %q, want %q", op, OpRendering)
	}

	if _, err := f.m.RenderSegment(ctx, 2); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent RenderSegment() error = %v, want ErrBusy", err)
	}
	if _, err := f.m.Analyze(ctx, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Analyze() error = %v, want ErrBusy", err)
	}
	if err := f.m.Reset(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("Reset() during render error = %v, want ErrBusy", err)
	}

	if !f.m.Cancel() {
		t.Fatal("Cancel() = false with a render running")
	}
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled render error = %v, want context.Canceled", err)
	}
	if st := f.m.Status(); st.Op != OpNone || st.State != store.StatusAnalyzed {
		t.Errorf("Status() after cancel = %+v", st)
	}
	if f.m.Cancel() {
		t.Error("Cancel() = true with nothing running")
	}
}

func TestManager_ExportAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loadAndAnalyze(t)
	dir := t.TempDir()

	sum, err := f.m.ExportAll(ctx, dir, segment.SortByScore)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	if sum.Exported != 2 || len(sum.Files) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if filepath.Dir(sum.Files[0]) != dir || filepath.Base(sum.Files[0]) != "instasplit-1-Band.mp4" {
		t.Errorf("files = %v", sum.Files)
	}
	items := eventsOf(f.bus, events.TypeExportItem)
	if len(items) != 2 || items[1].Progress != 100 {
		t.Errorf("export item events = %+v", items)
	}
	if got := len(eventsOf(f.bus, events.TypeExportDone)); got != 1 {
		t.Errorf("export done events = %d, want 1", got)
	}

	if _, err := f.m.ExportAll(ctx, "/tmp/../etc", segment.SortByScore); err == nil {
		t.Error("ExportAll() should validate the output dir")
	}
}

func TestManager_ExportEDL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loadAndAnalyze(t)
	dir := t.TempDir()

	path, err := f.m.ExportEDL(ctx, dir, "")
	if err != nil {
		t.Fatalf("ExportEDL() error = %v", err)
	}
	if path != filepath.Join(dir, "talk.edl") {
		t.Errorf("ExportEDL() path = %q", path)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Contains(data, []byte("001  AX       V     C        00:01:30:00 00:02:00:00 00:00:00:00 00:00:30:00")) {
		t.Errorf("EDL should start with the best segment:\n%s", data)
	}
}

func TestManager_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.loadAndAnalyze(t)

	clip, err := f.m.RenderSegment(ctx, 3)
	if err != nil {
		t.Fatalf("RenderSegment() error = %v", err)
	}
	if err := f.m.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if f.m.Status().Loaded {
		t.Error("Status().Loaded = true after Reset")
	}
	if _, err := os.Stat(clip.Path); !os.IsNotExist(err) {
		t.Error("Reset() should remove clip files")
	}
	if got, _ := f.repo.GetSession(ctx, sess.ID); got != nil {
		t.Error("Reset() should delete the session row")
	}
	if n, _ := f.repo.CountSegments(ctx, sess.ID); n != 0 {
		t.Errorf("segments after Reset = %d, want 0", n)
	}
}

func TestManager_LoadReplacesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.loadAndAnalyze(t)

	second, err := f.m.Load(ctx, "/videos/other.mp4")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("Load() should create a new session id")
	}
	if got, _ := f.repo.GetSession(ctx, first.ID); got != nil {
		t.Error("previous session should be dropped")
	}
	segs, _ := f.m.Segments(ctx, segment.SortByTime)
	if len(segs) != 0 {
		t.Errorf("new session has %d segments, want 0", len(segs))
	}
}
