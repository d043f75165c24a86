package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/instasplit/instasplit-agent/internal/config"
	"github.com/instasplit/instasplit-agent/internal/db"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/scoring"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/instasplit/instasplit-agent/internal/store"
	"github.com/spf13/cobra"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{9.9, "0:09"},
		{90, "1:30"},
		{3599, "59:59"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{-4, "0:00"},
	}
	for _, tt := range tests {
		if got := formatClock(tt.seconds); got != tt.want {
			t.Errorf("formatClock(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addSplitFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cmd
}

func TestApplySplitFlags(t *testing.T) {
	base := segment.SplitOptions{SegmentDuration: 30, MinScore: 50, AspectRatio: segment.AspectPortrait}

	tests := []struct {
		name    string
		args    []string
		want    segment.SplitOptions
		wantErr bool
	}{
		{
			name: "no flags keeps base",
			want: base,
		},
		{
			name: "overrides",
			args: []string{"--duration", "60", "--overlap", "5", "--aspect", "1:1"},
			want: segment.SplitOptions{SegmentDuration: 60, Overlap: 5, MinScore: 50, AspectRatio: segment.AspectSquare},
		},
		{
			name: "short flags",
			args: []string{"-d", "15", "-m", "0", "-a", "original"},
			want: segment.SplitOptions{SegmentDuration: 15, MinScore: 0, AspectRatio: segment.AspectOriginal},
		},
		{name: "unsupported duration", args: []string{"--duration", "45"}, wantErr: true},
		{name: "overlap too long", args: []string{"--overlap", "30"}, wantErr: true},
		{name: "unknown aspect", args: []string{"--aspect", "4:3"}, wantErr: true},
		{name: "score out of range", args: []string{"--min-score", "101"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applySplitFlags(newFlagCommand(t, tt.args...), base)
			if tt.wantErr {
				if !errors.Is(err, segment.ErrInvalidConfiguration) {
					t.Fatalf("applySplitFlags() error = %v, want ErrInvalidConfiguration", err)
				}
				if got != base {
					t.Errorf("applySplitFlags() = %+v, want base on error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("applySplitFlags() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("applySplitFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOptionsFormResult(t *testing.T) {
	opts := segment.SplitOptions{SegmentDuration: 60, Overlap: 2.5, MinScore: 70, AspectRatio: segment.AspectWide}

	r := newOptionsFormResult(opts)
	if r.Overlap != "2.5" || r.MinScore != "70" || r.Aspect != "16:9" {
		t.Fatalf("newOptionsFormResult() = %+v", r)
	}
	got, err := r.Options()
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if got != opts {
		t.Errorf("Options() = %+v, want %+v", got, opts)
	}

	bad := []optionsFormResult{
		{Duration: 30, Overlap: "x", MinScore: "0", Aspect: "9:16"},
		{Duration: 30, Overlap: "0", MinScore: "high", Aspect: "9:16"},
		{Duration: 30, Overlap: "0", MinScore: "0", Aspect: "2:1"},
		{Duration: 30, Overlap: "40", MinScore: "0", Aspect: "9:16"},
	}
	for _, r := range bad {
		if _, err := r.Options(); err == nil {
			t.Errorf("Options(%+v) error = nil, want error", r)
		}
	}
}

func TestNewOptionsForm(t *testing.T) {
	r := newOptionsFormResult(segment.SplitOptions{SegmentDuration: 30, AspectRatio: segment.AspectPortrait})
	if form := NewOptionsForm("talk.mp4", r); form == nil {
		t.Fatal("NewOptionsForm() = nil")
	}
}

func TestRenderSegments(t *testing.T) {
	segs := []segment.Segment{
		{Index: 3, Start: 90, End: 120, Title: "Big Reveal", Score: 91, Tags: []string{"reveal", "crowd"}},
		{Index: 0, Start: 0, End: 30, Title: "Cold Open", Score: 42, Degraded: true},
	}

	out := renderSegments(segs)
	for _, want := range []string{"SCORE", "Big Reveal", "1:30-2:00", "91", "reveal · crowd", "Cold Open", "(fallback)"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderSegments() missing %q in:\n%s", want, out)
		}
	}
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[1], "1 ") || !strings.Contains(lines[1], "Big Reveal") {
		t.Errorf("first row = %q, want rank 1 Big Reveal", lines[1])
	}

	if out := renderSegments(nil); !strings.Contains(out, "No segments") {
		t.Errorf("renderSegments(nil) = %q", out)
	}
}

func TestRenderWindowsAndSummary(t *testing.T) {
	windows, err := segment.Plan(125, 30, 0, segment.MaxSegmentsFree)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	out := renderWindows(windows)
	if !strings.Contains(out, "2:00") || !strings.Contains(out, "30.0s") {
		t.Errorf("renderWindows() = \n%s", out)
	}
	if got := strings.Count(out, "\n"); got != len(windows) {
		t.Errorf("renderWindows() rows = %d, want %d", got, len(windows))
	}

	opts := segment.SplitOptions{SegmentDuration: 30}
	if got := planSummary(125, opts, len(windows), segment.MaxSegmentsFree); strings.Contains(got, "capped") {
		t.Errorf("planSummary() = %q, want no cap note", got)
	}
	if got := planSummary(7200, opts, 40, 40); !strings.Contains(got, "capped at 40") {
		t.Errorf("planSummary() = %q, want cap note", got)
	}
}

func TestDoctorChecks(t *testing.T) {
	caps := &media.Capabilities{
		FFmpeg:      true,
		FFprobe:     true,
		FFmpegPath:  "/usr/bin/ffmpeg",
		FFprobePath: "/usr/bin/ffprobe",
		Encoders:    map[string]bool{"libx264": true, "aac": true},
		Formats:     []string{"mp4-avc"},
	}

	checks := doctorChecks(caps, nil, true, "gemini-2.5-flash")
	if len(checks) != 4 {
		t.Fatalf("doctorChecks() = %d checks, want 4", len(checks))
	}
	for _, c := range checks {
		if c.State != checkOK {
			t.Errorf("check %s state = %v, want ok", c.Name, c.State)
		}
	}
	if checks[3].Detail != "gemini:gemini-2.5-flash" {
		t.Errorf("analyzer detail = %q", checks[3].Detail)
	}

	checks = doctorChecks(nil, errors.New("ffmpeg not found in PATH"), false, "")
	if checks[0].State != checkFailed || checks[0].Detail != "NOT FOUND" {
		t.Errorf("ffmpeg check = %+v", checks[0])
	}
	if last := checks[len(checks)-1]; last.State != checkWarn || !strings.Contains(last.Hint, config.EnvGeminiAPIKey) {
		t.Errorf("analyzer check = %+v", last)
	}
	if s := checks[0].String(); !strings.Contains(s, "ffmpeg: NOT FOUND") || !strings.Contains(s, ffmpegInstallURL) {
		t.Errorf("String() = %q", s)
	}

	noEncoders := &media.Capabilities{FFmpeg: true, FFprobe: true, Encoders: map[string]bool{}}
	checks = doctorChecks(noEncoders, nil, true, "m")
	if checks[2].State != checkFailed {
		t.Errorf("clip formats check = %+v, want failed", checks[2])
	}
}

func TestProgressReporter(t *testing.T) {
	p := newProgressReporter(io.Discard)

	first := p.Publish(events.Event{Type: events.TypeAnalysisProgress, Progress: 10})
	second := p.Publish(events.Event{Type: events.TypeAnalysisProgress, Progress: 55})
	if first.Seq != 1 || second.Seq != 2 || second.Timestamp.IsZero() {
		t.Fatalf("Publish() seqs = %d, %d", first.Seq, second.Seq)
	}
	if p.bar == nil || p.phase != "Analyzing" {
		t.Fatalf("phase = %q, want Analyzing bar", p.phase)
	}

	p.Publish(events.Event{Type: events.TypeAnalysisDone, Progress: 100})
	if p.bar != nil {
		t.Error("bar still open after analysis.done")
	}

	p.Publish(events.Event{Type: events.TypeExportItem, Progress: 50})
	p.Publish(events.Event{Type: events.TypeExportItem, Progress: 100, Message: "render failed"})
	p.Publish(events.Event{Type: events.TypeExportDone})
	if p.bar != nil {
		t.Error("bar still open after export.done")
	}
	if got := p.Failures(); len(got) != 1 || got[0] != "render failed" {
		t.Errorf("Failures() = %v", got)
	}
	p.Finish()
}

func TestEnsureAuthToken(t *testing.T) {
	dir := t.TempDir()
	database, err := db.New(db.MemoryPath, testLogger())
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	defer database.Close()
	repo := store.NewRepository(database.Conn())

	token, err := ensureAuthToken(repo, dir)
	if err != nil {
		t.Fatalf("ensureAuthToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}

	info, err := os.Stat(filepath.Join(dir, authTokenFile))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file mode = %v, want 0600", perm)
	}

	again, err := ensureAuthToken(repo, dir)
	if err != nil {
		t.Fatalf("ensureAuthToken() error = %v", err)
	}
	if again != token {
		t.Error("token changed across calls")
	}
	stored, err := repo.GetConfig(t.Context(), authTokenKey)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if stored != token {
		t.Errorf("stored token = %q, want %q", stored, token)
	}
}

func TestPresetConversions(t *testing.T) {
	presets := config.DefaultPresets()

	opts, err := splitOptions(presets.Split)
	if err != nil {
		t.Fatalf("splitOptions() error = %v", err)
	}
	if opts.SegmentDuration != 30 || opts.AspectRatio != segment.AspectPortrait {
		t.Errorf("splitOptions() = %+v", opts)
	}
	bad := presets.Split
	bad.AspectRatio = "wide"
	if _, err := splitOptions(bad); err == nil {
		t.Error("splitOptions() error = nil for unknown aspect")
	}

	sc := scoringOptions(config.ScoringPreset{Concurrency: 8})
	want := scoring.DefaultOptions()
	want.Concurrency = 8
	if sc != want {
		t.Errorf("scoringOptions() = %+v, want %+v", sc, want)
	}

	r := renderOptions(config.RenderPreset{FPS: 24, StallTimeout: time.Second}, "/tmp/clips")
	if r.FPS != 24 || r.StallTimeout != time.Second || r.OutputDir != "/tmp/clips" || r.Bitrate == 0 {
		t.Errorf("renderOptions() = %+v", r)
	}
}
