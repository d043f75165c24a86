package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
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

// SessionService is the session manager as the handlers use it.
type SessionService interface {
	Load(ctx context.Context, path string) (*store.Session, error)
	SetOptions(ctx context.Context, opts segment.SplitOptions) (*store.Session, error)
	Analyze(ctx context.Context, opts *segment.SplitOptions) (scoring.Summary, error)
	Segments(ctx context.Context, order segment.SortOrder) ([]segment.Segment, error)
	Segment(ctx context.Context, index int) (*segment.Segment, error)
	RenderSegment(ctx context.Context, index int) (*store.RenderedClip, error)
	Clip(ctx context.Context, handle string) (*store.RenderedClip, error)
	ExportAll(ctx context.Context, dir string, order segment.SortOrder) (export.Summary, error)
	ExportEDL(ctx context.Context, dir, title string) (string, error)
	Cancel() bool
	Reset(ctx context.Context) error
	Status() session.Status
}

// Generator is the generative media provider.
type Generator interface {
	GenerateVideo(ctx context.Context, req generate.Request) (*generate.Video, error)
	GenerateImage(ctx context.Context, req generate.Request) (*generate.Image, error)
	EnhancePrompt(ctx context.Context, prompt string) string
	PromptFromImage(ctx context.Context, img []byte, mimeType string) (string, error)
	Download(ctx context.Context, uri, dst string) (int64, error)
}

type Server struct {
	httpServer *http.Server
	jobs       *jobs
	logger     *slog.Logger
}

// ReferenceLoader turns a local image or video into a still for generation.
type ReferenceLoader interface {
	CaptureReference(ctx context.Context, path string) ([]byte, string, error)
}

type ServerConfig struct {
	Port       int
	Sessions   SessionService
	Events     *events.Bus
	Players    *playback.Registry
	Clips      playback.ClipServer
	Generator  Generator
	References ReferenceLoader
	Tokens     TokenStore
	Logger     *slog.Logger
	StartTime  time.Time
	Version    string

	jobs *jobs
}

func NewServer(cfg ServerConfig) *Server {
	cfg.jobs = newJobs(cfg.Logger)
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		jobs:   cfg.jobs,
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels background analyses and
// exports and waits for them to unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	s.jobs.stop(ctx)
	return err
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// jobs runs analyses and exports past the request that started them.
type jobs struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newJobs(logger *slog.Logger) *jobs {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobs{ctx: ctx, cancel: cancel, logger: logger}
}

func (j *jobs) run(name string, fn func(ctx context.Context) error) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if err := fn(j.ctx); err != nil {
			j.logger.Warn("background job failed", "job", name, "error", err)
		}
	}()
}

func (j *jobs) stop(ctx context.Context) {
	j.cancel()
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		j.logger.Warn("background jobs still running at shutdown")
	}
}
