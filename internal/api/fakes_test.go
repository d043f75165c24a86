package api

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/generate"
	"github.com/instasplit/instasplit-agent/internal/playback"
	"github.com/instasplit/instasplit-agent/internal/scoring"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/session"
	"github.com/instasplit/instasplit-agent/internal/store"
)

const testToken = "test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTokens map[string]string

func (f fakeTokens) GetConfig(ctx context.Context, key string) (string, error) {
	return f[key], nil
}

type fakeSessions struct {
	mu       sync.Mutex
	status   session.Status
	segs     []segment.Segment
	clip     *store.RenderedClip
	err      error
	summary  scoring.Summary
	loaded   []string
	options  []segment.SplitOptions
	analyzed chan segment.SplitOptions
	exported []string
	edlTitle string
	cancels  int
	resets   int
}

func newFakeSessions() *fakeSessions {
	opts := segment.SplitOptions{SegmentDuration: 30, MinScore: 50, AspectRatio: segment.AspectPortrait}
	return &fakeSessions{
		status: session.Status{
			Loaded:    true,
			SessionID: "sess-1",
			Options:   &opts,
			State:     store.StatusAnalyzed,
			Segments:  2,
			Analyzer:  "fake",
		},
		analyzed: make(chan segment.SplitOptions, 4),
	}
}

func (f *fakeSessions) Load(ctx context.Context, path string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.loaded = append(f.loaded, path)
	return &store.Session{ID: "sess-1", Source: segment.SourceVideo{Path: path, Duration: 60, Width: 1920, Height: 1080},
		Options: *f.status.Options, Generation: 1, Status: store.StatusIdle, CreatedAt: time.Unix(0, 0).UTC()}, nil
}

func (f *fakeSessions) SetOptions(ctx context.Context, opts segment.SplitOptions) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.options = append(f.options, opts)
	return &store.Session{ID: "sess-1", Options: opts, Generation: 1 + len(f.options)}, nil
}

func (f *fakeSessions) Analyze(ctx context.Context, opts *segment.SplitOptions) (scoring.Summary, error) {
	f.analyzed <- *opts
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, f.err
}

func (f *fakeSessions) Segments(ctx context.Context, order segment.SortOrder) ([]segment.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return segment.Sorted(f.segs, order), nil
}

func (f *fakeSessions) Segment(ctx context.Context, index int) (*segment.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.segs {
		if s.Index == index {
			return &s, nil
		}
	}
	return nil, session.ErrSegmentNotFound
}

func (f *fakeSessions) RenderSegment(ctx context.Context, index int) (*store.RenderedClip, error) {
	if _, err := f.Segment(ctx, index); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.clip, nil
}

func (f *fakeSessions) Clip(ctx context.Context, handle string) (*store.RenderedClip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clip == nil || f.clip.Handle != handle {
		return nil, session.ErrClipNotFound
	}
	return f.clip, nil
}

func (f *fakeSessions) ExportAll(ctx context.Context, dir string, order segment.SortOrder) (export.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, dir+"|"+string(order))
	return export.Summary{Total: len(f.segs), Exported: len(f.segs), Files: []string{}}, f.err
}

func (f *fakeSessions) ExportEDL(ctx context.Context, dir, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.edlTitle = title
	return dir + "/" + title + ".edl", nil
}

func (f *fakeSessions) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.status.Op != session.OpNone
}

func (f *fakeSessions) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.err
}

func (f *fakeSessions) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeGenerator struct {
	videoErr   error
	downloads  []string
	lastPrompt string
	lastImage  string
}

func (f *fakeGenerator) GenerateVideo(ctx context.Context, req generate.Request) (*generate.Video, error) {
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	f.lastPrompt = req.FinalPrompt()
	return &generate.Video{Operation: "operations/op1", URI: "https://media.test/v.mp4", AspectRatio: req.AspectRatio}, nil
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, req generate.Request) (*generate.Image, error) {
	f.lastPrompt = req.FinalPrompt()
	f.lastImage = req.ImageMIMEType + " " + string(req.Image)
	return &generate.Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}, nil
}

func (f *fakeGenerator) EnhancePrompt(ctx context.Context, prompt string) string {
	return prompt + ", cinematic lighting"
}

func (f *fakeGenerator) PromptFromImage(ctx context.Context, img []byte, mimeType string) (string, error) {
	return "a photo (" + mimeType + ")", nil
}

func (f *fakeGenerator) Download(ctx context.Context, uri, dst string) (int64, error) {
	f.downloads = append(f.downloads, dst)
	return 42, nil
}

// fakeReferences maps known paths to the MIME type they load as.
type fakeReferences map[string]string

func (f fakeReferences) CaptureReference(ctx context.Context, path string) ([]byte, string, error) {
	mimeType, ok := f[path]
	if !ok {
		return nil, "", &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return []byte("ref:" + path), mimeType, nil
}

type testServer struct {
	handler  http.Handler
	sessions *fakeSessions
	bus      *events.Bus
	players  *playback.Registry
	gen      *fakeGenerator
	cfg      ServerConfig
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		sessions: newFakeSessions(),
		bus:      events.NewBus(100),
		players:  playback.NewRegistry(testLogger()),
		gen:      &fakeGenerator{},
	}
	ts.cfg = ServerConfig{
		Sessions:   ts.sessions,
		Events:     ts.bus,
		Players:    ts.players,
		Clips:      playback.NewServer(testLogger()),
		Generator:  ts.gen,
		References: fakeReferences{"/refs/still.png": "image/png"},
		Tokens:     fakeTokens{AuthTokenKey: testToken},
		Logger:     testLogger(),
		StartTime:  time.Now(),
		Version:    "test",
		jobs:       newJobs(testLogger()),
	}
	t.Cleanup(func() { ts.cfg.jobs.stop(context.Background()) })
	ts.handler = NewRouter(ts.cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v (body %q)", err, rr.Body.String())
	}
	return body
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %q)", rr.Code, status, rr.Body.String())
	}
	if got := decodeJSONBody(t, rr)["code"]; got != code {
		t.Errorf("code = %v, want %q", got, code)
	}
}
