package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Presets holds the tunable policy values for splitting, scoring, rendering
// and exporting. Zero values in a presets file keep the defaults.
type Presets struct {
	Split   SplitPreset   `yaml:"split"`
	Scoring ScoringPreset `yaml:"scoring"`
	Render  RenderPreset  `yaml:"render"`
	Export  ExportPreset  `yaml:"export"`
}

type SplitPreset struct {
	SegmentDuration int     `yaml:"segment_duration"`
	Overlap         float64 `yaml:"overlap"`
	MinScore        int     `yaml:"min_score"`
	AspectRatio     string  `yaml:"aspect_ratio"`
}

type ScoringPreset struct {
	// SampleFraction is where inside a window the analysis frame is taken.
	SampleFraction float64 `yaml:"sample_fraction"`
	// SamplingPhase is the share of overall progress given to frame sampling.
	SamplingPhase int           `yaml:"sampling_phase_percent"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	Concurrency   int           `yaml:"concurrency"`
	Attempts      int           `yaml:"attempts"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RenderPreset struct {
	FPS          float64       `yaml:"fps"`
	DrawRate     float64       `yaml:"draw_hz"`
	Bitrate      int           `yaml:"bitrate"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

type ExportPreset struct {
	Cooldown  time.Duration `yaml:"cooldown"`
	OutputDir string        `yaml:"output_dir"`
}

// DefaultPresets returns the built-in policy values.
func DefaultPresets() Presets {
	return Presets{
		Split: SplitPreset{
			SegmentDuration: 30,
			Overlap:         0,
			MinScore:        0,
			AspectRatio:     "9:16",
		},
		Scoring: ScoringPreset{
			SampleFraction: 0.2,
			SamplingPhase:  40,
			JPEGQuality:    60,
			Concurrency:    4,
			Attempts:       2,
			Timeout:        30 * time.Second,
		},
		Render: RenderPreset{
			FPS:          30,
			DrawRate:     30,
			Bitrate:      4_000_000,
			StallTimeout: 15 * time.Second,
		},
		Export: ExportPreset{
			Cooldown: 1500 * time.Millisecond,
		},
	}
}

// LoadPresets reads a YAML presets file over the defaults.
func LoadPresets(path string) (Presets, error) {
	p := DefaultPresets()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, err
	}

	var file Presets
	if err := yaml.Unmarshal(data, &file); err != nil {
		return p, fmt.Errorf("parse yaml: %w", err)
	}
	p.merge(file)

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Save writes the presets as YAML.
func (p Presets) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (p Presets) Validate() error {
	if p.Scoring.SampleFraction < 0 || p.Scoring.SampleFraction >= 1 {
		return fmt.Errorf("scoring.sample_fraction must be in [0, 1)")
	}
	if p.Scoring.SamplingPhase < 0 || p.Scoring.SamplingPhase > 100 {
		return fmt.Errorf("scoring.sampling_phase_percent must be in [0, 100]")
	}
	if p.Scoring.JPEGQuality < 1 || p.Scoring.JPEGQuality > 100 {
		return fmt.Errorf("scoring.jpeg_quality must be in [1, 100]")
	}
	if p.Split.MinScore < 0 || p.Split.MinScore > 100 {
		return fmt.Errorf("split.min_score must be in [0, 100]")
	}
	if p.Render.FPS <= 0 || p.Render.DrawRate <= 0 {
		return fmt.Errorf("render.fps and render.draw_hz must be positive")
	}
	return nil
}

func (p *Presets) merge(o Presets) {
	if o.Split.SegmentDuration != 0 {
		p.Split.SegmentDuration = o.Split.SegmentDuration
	}
	if o.Split.Overlap != 0 {
		p.Split.Overlap = o.Split.Overlap
	}
	if o.Split.MinScore != 0 {
		p.Split.MinScore = o.Split.MinScore
	}
	if o.Split.AspectRatio != "" {
		p.Split.AspectRatio = o.Split.AspectRatio
	}

	if o.Scoring.SampleFraction != 0 {
		p.Scoring.SampleFraction = o.Scoring.SampleFraction
	}
	if o.Scoring.SamplingPhase != 0 {
		p.Scoring.SamplingPhase = o.Scoring.SamplingPhase
	}
	if o.Scoring.JPEGQuality != 0 {
		p.Scoring.JPEGQuality = o.Scoring.JPEGQuality
	}
	if o.Scoring.Concurrency != 0 {
		p.Scoring.Concurrency = o.Scoring.Concurrency
	}
	if o.Scoring.Attempts != 0 {
		p.Scoring.Attempts = o.Scoring.Attempts
	}
	if o.Scoring.Timeout != 0 {
		p.Scoring.Timeout = o.Scoring.Timeout
	}

	if o.Render.FPS != 0 {
		p.Render.FPS = o.Render.FPS
	}
	if o.Render.DrawRate != 0 {
		p.Render.DrawRate = o.Render.DrawRate
	}
	if o.Render.Bitrate != 0 {
		p.Render.Bitrate = o.Render.Bitrate
	}
	if o.Render.StallTimeout != 0 {
		p.Render.StallTimeout = o.Render.StallTimeout
	}

	if o.Export.Cooldown != 0 {
		p.Export.Cooldown = o.Export.Cooldown
	}
	if o.Export.OutputDir != "" {
		p.Export.OutputDir = o.Export.OutputDir
	}
}
