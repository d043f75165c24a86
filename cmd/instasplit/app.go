package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/instasplit/instasplit-agent/internal/config"
	"github.com/instasplit/instasplit-agent/internal/db"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/gemini"
	"github.com/instasplit/instasplit-agent/internal/generate"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/oracle"
	"github.com/instasplit/instasplit-agent/internal/render"
	"github.com/instasplit/instasplit-agent/internal/sampler"
	"github.com/instasplit/instasplit-agent/internal/scoring"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/session"
	"github.com/instasplit/instasplit-agent/internal/store"
)

// engine is the splitting stack shared by serve and split.
type engine struct {
	database *db.DB
	repo     *store.SQLiteRepository
	exec     *media.Executor
	doctor   *media.CachedDoctor
	client   *gemini.Client
	analyzer oracle.Analyzer
	sampler  *sampler.Sampler
	manager  *session.Manager
}

func newEngine(cfg config.Config, pub events.Publisher, logger *slog.Logger) (*engine, error) {
	presets := cfg.Presets()
	defaults, err := splitOptions(presets.Split)
	if err != nil {
		return nil, fmt.Errorf("invalid split presets: %w", err)
	}

	exec, err := media.NewExecutor(logger)
	if err != nil {
		return nil, err
	}
	doctor := media.NewCachedDoctor(exec, logger)

	rt, err := media.NewLocalRuntime(exec, doctor, filepath.Join(cfg.CacheDir(), "tmp"), logger)
	if err != nil {
		return nil, err
	}
	renderer := render.New(rt, renderOptions(presets.Render, filepath.Join(cfg.CacheDir(), "clips")), logger)

	client := gemini.NewClient(cfg.GeminiBaseURL(), cfg.GeminiAPIKey(), logger)
	analyzer := newAnalyzer(cfg, client, logger)
	smp := sampler.New(presets.Scoring.JPEGQuality, sampler.MediaElement(exec), logger)
	scorer := scoring.New(smp, analyzer, scoringOptions(presets.Scoring), logger)

	// Sessions are ephemeral; nothing survives a restart.
	database, err := db.New(db.MemoryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := store.NewRepository(database.Conn())

	manager := session.NewManager(session.Config{
		Repo:       repo,
		Open:       session.MediaSource(exec),
		Scorer:     scorer,
		Renderer:   renderer,
		Publisher:  pub,
		Defaults:   defaults,
		Privileged: cfg.Privileged(),
		ClipDir:    filepath.Join(cfg.CacheDir(), "clips"),
		Cooldown:   presets.Export.Cooldown,
	}, logger)

	return &engine{
		database: database,
		repo:     repo,
		exec:     exec,
		doctor:   doctor,
		client:   client,
		analyzer: analyzer,
		sampler:  smp,
		manager:  manager,
	}, nil
}

// generator returns nil when no credential is configured.
func (e *engine) generator(cfg config.Config, logger *slog.Logger) *generate.Provider {
	if !e.client.HasKey() {
		return nil
	}
	return generate.NewProvider(e.client, generate.Models{
		Text:  cfg.OracleModel(),
		Image: cfg.ImageModel(),
		Video: cfg.VideoModel(),
	}, generate.DefaultPoller(), logger)
}

func (e *engine) Close() error {
	return e.database.Close()
}

func newAnalyzer(cfg config.Config, client *gemini.Client, logger *slog.Logger) oracle.Analyzer {
	if client.HasKey() {
		return oracle.NewGeminiAnalyzer(client, cfg.OracleModel(), logger)
	}
	logger.Warn("no Gemini API key configured, falling back to the local heuristic analyzer",
		"env", config.EnvGeminiAPIKey,
	)
	return oracle.NewHeuristicAnalyzer()
}

func splitOptions(p config.SplitPreset) (segment.SplitOptions, error) {
	aspect, err := segment.ParseAspectRatio(p.AspectRatio)
	if err != nil {
		return segment.SplitOptions{}, err
	}
	opts := segment.SplitOptions{
		SegmentDuration: p.SegmentDuration,
		Overlap:         p.Overlap,
		MinScore:        p.MinScore,
		AspectRatio:     aspect,
	}
	return opts, opts.Validate()
}

func scoringOptions(p config.ScoringPreset) scoring.Options {
	opts := scoring.DefaultOptions()
	if p.SampleFraction > 0 {
		opts.Fraction = p.SampleFraction
	}
	if p.SamplingPhase > 0 {
		opts.SamplingPhase = p.SamplingPhase
	}
	if p.Concurrency > 0 {
		opts.Concurrency = p.Concurrency
	}
	if p.Attempts > 0 {
		opts.Attempts = p.Attempts
	}
	if p.Timeout > 0 {
		opts.Timeout = p.Timeout
	}
	return opts
}

func renderOptions(p config.RenderPreset, outputDir string) render.Options {
	opts := render.DefaultOptions()
	if p.FPS > 0 {
		opts.FPS = p.FPS
	}
	if p.DrawRate > 0 {
		opts.DrawRate = p.DrawRate
	}
	if p.Bitrate > 0 {
		opts.Bitrate = p.Bitrate
	}
	if p.StallTimeout > 0 {
		opts.StallTimeout = p.StallTimeout
	}
	opts.OutputDir = outputDir
	return opts
}

func ensureDirs(cfg config.Config) error {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	return nil
}
