package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// requireFFmpeg returns a real executor, skipping when ffmpeg is missing.
func requireFFmpeg(t *testing.T) *Executor {
	t.Helper()
	exec, err := NewExecutor(testLogger())
	if err != nil {
		t.Skipf("no ffmpeg on PATH: %v", err)
	}
	return exec
}

// writeTestVideo renders a lavfi test pattern with a sine tone.
func writeTestVideo(t *testing.T, exec *Executor, size string, seconds int) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "source.mp4")
	dur := formatSeconds(float64(seconds))
	result := exec.run(context.Background(), exec.FFmpegPath(), io.Discard,
		"-y", "-hide_banner", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=size="+size+":rate=30:duration="+dur,
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+dur,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		out,
	)
	if !result.IsSuccess() {
		t.Skipf("cannot synthesize test video (exit %d): %s", result.ExitCode, truncate(result.StderrTail, 256))
	}
	return out
}

func TestExecutor_ProbeSynthesizedVideo(t *testing.T) {
	exec := requireFFmpeg(t)
	src := writeTestVideo(t, exec, "320x240", 3)

	probe, err := exec.Probe(context.Background(), src)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if probe.Width != 320 || probe.Height != 240 {
		t.Errorf("size = %dx%d, want 320x240", probe.Width, probe.Height)
	}
	if probe.Duration < 2.5 || probe.Duration > 3.5 {
		t.Errorf("Duration = %v, want ~3", probe.Duration)
	}
	if !probe.HasAudio {
		t.Error("HasAudio = false, want true")
	}
}

func TestElement_SeekReturnsNativeFrame(t *testing.T) {
	exec := requireFFmpeg(t)
	src := writeTestVideo(t, exec, "320x240", 3)
	ctx := context.Background()

	el, err := OpenElement(ctx, exec, src)
	if err != nil {
		t.Fatalf("OpenElement() error = %v", err)
	}
	if _, err := el.Frame(); !errors.Is(err, ErrNotSeeked) {
		t.Errorf("Frame() before Seek error = %v, want ErrNotSeeked", err)
	}

	if err := el.Seek(ctx, 1.5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	frame, err := el.Frame()
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if b := frame.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("frame size = %dx%d, want 320x240", b.Dx(), b.Dy())
	}
	if el.Position() != 1.5 {
		t.Errorf("Position() = %v, want 1.5", el.Position())
	}
}

func TestElement_SeekPastEnd(t *testing.T) {
	exec := requireFFmpeg(t)
	src := writeTestVideo(t, exec, "160x120", 2)
	ctx := context.Background()

	el, err := OpenElement(ctx, exec, src)
	if err != nil {
		t.Fatalf("OpenElement() error = %v", err)
	}
	if err := el.Seek(ctx, 30); err == nil {
		t.Error("Seek(30) error = nil, want error past the end")
	}
	if _, err := el.Frame(); !errors.Is(err, ErrNotSeeked) {
		t.Errorf("Frame() after failed Seek error = %v, want ErrNotSeeked", err)
	}
}

func TestFFmpegPlayer_SeekPlayAndAudio(t *testing.T) {
	exec := requireFFmpeg(t)
	src := writeTestVideo(t, exec, "320x240", 3)
	rt, err := NewLocalRuntime(exec, NewCachedDoctor(exec, testLogger()), t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewLocalRuntime() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	player, err := rt.OpenPlayer(ctx, src)
	if err != nil {
		t.Fatalf("OpenPlayer() error = %v", err)
	}
	defer player.Close()

	meta, err := player.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := player.Seek(0.5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	seeked := waitEvent(t, ctx, player, EventSeeked)
	if seeked.Time != 0.5 {
		t.Errorf("seeked at %v, want 0.5", seeked.Time)
	}
	frame := player.Frame()
	if frame == nil {
		t.Fatal("Frame() = nil after seek")
	}
	if b := frame.Bounds(); b.Dx() != meta.Width || b.Dy() != meta.Height {
		t.Errorf("frame size = %dx%d, want %dx%d", b.Dx(), b.Dy(), meta.Width, meta.Height)
	}

	if err := player.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if ev := waitEvent(t, ctx, player, EventTimeUpdate); ev.Time <= 0.5 {
		t.Errorf("time update at %v, want after 0.5", ev.Time)
	}

	audio, err := player.CaptureAudio(ctx, AudioRequest{Start: 0.5, End: 1.5, Codec: "aac"})
	if err != nil {
		t.Fatalf("CaptureAudio() error = %v", err)
	}
	if _, err := os.Stat(audio.Path()); err != nil {
		t.Fatalf("audio file missing: %v", err)
	}
	if len(rt.ActiveTracks()) != 1 {
		t.Errorf("ActiveTracks() = %d, want 1 while capturing", len(rt.ActiveTracks()))
	}
	audio.Stop()
	if _, err := os.Stat(audio.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("audio file still present after Stop: %v", err)
	}
	if live := rt.ActiveTracks(); len(live) != 0 {
		t.Errorf("ActiveTracks() = %d after Stop, want 0", len(live))
	}
}

func TestLocalRuntime_OpenPlayerMissingSource(t *testing.T) {
	exec := requireFFmpeg(t)
	rt, err := NewLocalRuntime(exec, NewCachedDoctor(exec, testLogger()), t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewLocalRuntime() error = %v", err)
	}
	if _, err := rt.OpenPlayer(context.Background(), "/nonexistent/video.mp4"); err == nil {
		t.Error("OpenPlayer() error = nil, want error")
	}
}

func waitEvent(t *testing.T, ctx context.Context, p Player, want EventType) Event {
	t.Helper()
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %v", want)
		case ev := <-p.Events():
			if ev.Type == EventError {
				t.Fatalf("player error: %v", ev.Err)
			}
			if ev.Type == want {
				return ev
			}
		}
	}
}
