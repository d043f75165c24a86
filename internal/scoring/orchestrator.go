// Package scoring samples one frame per planned window, fans the frames out
// to the oracle and streams back scored segments as they resolve.
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/oracle"
	"github.com/instasplit/instasplit-agent/internal/sampler"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency   = 4
	DefaultAttempts      = 2
	DefaultTimeout       = 30 * time.Second
	DefaultSamplingPhase = 40
	DefaultRetryDelay    = 500 * time.Millisecond
)

type Options struct {
	// Fraction is how far into each window the frame is sampled.
	Fraction float64
	// SamplingPhase is the share of progress attributed to sampling.
	SamplingPhase int
	Concurrency   int
	Attempts      int
	Timeout       time.Duration
	RetryDelay    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Fraction:      sampler.DefaultFraction,
		SamplingPhase: DefaultSamplingPhase,
		Concurrency:   DefaultConcurrency,
		Attempts:      DefaultAttempts,
		Timeout:       DefaultTimeout,
		RetryDelay:    DefaultRetryDelay,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Fraction <= 0 || o.Fraction > 1 {
		o.Fraction = d.Fraction
	}
	if o.SamplingPhase <= 0 || o.SamplingPhase >= 100 {
		o.SamplingPhase = d.SamplingPhase
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Completion is one resolved window.
type Completion struct {
	Segment  segment.Segment
	Accepted bool
}

type Summary struct {
	Planned  int `json:"planned"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Degraded int `json:"degraded"`
}

// ProgressFunc receives overall progress in percent. Values never decrease.
type ProgressFunc func(percent int)

type Orchestrator struct {
	sampler  *sampler.Sampler
	analyzer oracle.Analyzer
	opts     Options
	logger   *slog.Logger
}

func New(s *sampler.Sampler, analyzer oracle.Analyzer, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sampler:  s,
		analyzer: analyzer,
		opts:     opts.withDefaults(),
		logger:   logging.WithComponent(logger, "scoring"),
	}
}

func (o *Orchestrator) Analyzer() oracle.Analyzer { return o.analyzer }

// Run is one in-flight analysis.
type Run struct {
	planned     int
	phase       int
	completions chan Completion
	done        chan struct{}
	onProgress  ProgressFunc

	mu        sync.Mutex
	sampled   int
	completed int
	progress  int
	summary   Summary
	err       error
}

// Completions yields windows in completion order. It is closed once every
// window has resolved or the run was cancelled.
func (r *Run) Completions() <-chan Completion { return r.completions }

// Wait blocks until the run finishes.
func (r *Run) Wait() (Summary, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, r.err
}

// Progress is the last reported percentage.
func (r *Run) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Start analyzes windows of source, sampling frames from el.
func (o *Orchestrator) Start(ctx context.Context, el sampler.Element, source segment.SourceVideo, windows []segment.Window, minScore int, onProgress ProgressFunc) *Run {
	r := &Run{
		planned:     len(windows),
		phase:       o.opts.SamplingPhase,
		completions: make(chan Completion, len(windows)),
		done:        make(chan struct{}),
		onProgress:  onProgress,
	}
	r.summary.Planned = len(windows)
	go o.run(ctx, r, el, source, windows, minScore)
	return r
}

func (o *Orchestrator) run(ctx context.Context, r *Run, el sampler.Element, source segment.SourceVideo, windows []segment.Window, minScore int) {
	defer close(r.done)

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)

	var runErr error
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		at := sampler.AnalysisPoint(w.Start, w.End, o.opts.Fraction, source.Duration)
		frame, err := o.sampler.CaptureFrame(ctx, el, at)
		r.markSampled()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				runErr = ctxErr
				break
			}
			logging.WithSegment(o.logger, w.Index).Warn("analysis degraded", "reason", "frame capture failed", "error", err)
			r.resolve(newSegment(w, source, nil, oracle.Degraded()), minScore)
			continue
		}

		g.Go(func() error {
			analysis, ok := o.analyze(ctx, w, frame)
			if !ok {
				return nil
			}
			r.resolve(newSegment(w, source, frame, analysis), minScore)
			return nil
		})
	}

	_ = g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}
	close(r.completions)

	r.mu.Lock()
	r.err = runErr
	summary := r.summary
	r.mu.Unlock()

	if runErr == nil {
		r.report(100)
	}
	o.logger.Info("analysis finished",
		"planned", summary.Planned,
		"accepted", summary.Accepted,
		"rejected", summary.Rejected,
		"degraded", summary.Degraded,
		"cancelled", runErr != nil,
	)
}

// analyze calls the oracle with retries. A false return means the run was
// cancelled and the window should not be reported.
func (o *Orchestrator) analyze(ctx context.Context, w segment.Window, frame []byte) (oracle.Analysis, bool) {
	logger := logging.WithSegment(o.logger, w.Index)

	var lastErr error
	for attempt := 1; attempt <= o.opts.Attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		analysis, err := o.analyzer.Analyze(callCtx, frame, "image/jpeg")
		cancel()
		if err == nil {
			return analysis, true
		}
		if ctx.Err() != nil {
			return oracle.Analysis{}, false
		}
		lastErr = err
		if !isRetryable(err) || attempt == o.opts.Attempts {
			break
		}
		logger.Debug("retrying analysis", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return oracle.Analysis{}, false
		case <-time.After(o.opts.RetryDelay):
		}
	}

	logger.Warn("analysis degraded", "analyzer", o.analyzer.Name(), "error", lastErr)
	return oracle.Degraded(), true
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

func newSegment(w segment.Window, source segment.SourceVideo, frame []byte, a oracle.Analysis) segment.Segment {
	return segment.Segment{
		Index:             w.Index,
		Start:             w.Start,
		End:               w.End,
		Title:             a.Title,
		Description:       a.Description,
		Score:             a.Score,
		Explanation:       a.Explanation,
		Tags:              a.Tags,
		Thumbnail:         frame,
		SourceIsLandscape: source.IsLandscape(),
		Degraded:          a.Degraded,
	}
}

func (r *Run) markSampled() {
	r.mu.Lock()
	r.sampled++
	p := int(math.Round(float64(r.sampled) / float64(r.planned) * float64(r.phase)))
	r.mu.Unlock()
	r.report(p)
}

func (r *Run) resolve(seg segment.Segment, minScore int) {
	accepted := seg.Score >= minScore

	r.mu.Lock()
	r.completed++
	if accepted {
		r.summary.Accepted++
	} else {
		r.summary.Rejected++
	}
	if seg.Degraded {
		r.summary.Degraded++
	}
	p := r.phase + int(math.Round(float64(r.completed)/float64(r.planned)*float64(100-r.phase)))
	r.mu.Unlock()

	r.completions <- Completion{Segment: seg, Accepted: accepted}
	r.report(min(p, 99))
}

// report delivers p under the lock so callbacks observe increasing values.
// Callbacks must not call back into the run.
func (r *Run) report(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p <= r.progress {
		return
	}
	r.progress = p
	if r.onProgress != nil {
		r.onProgress(p)
	}
}
