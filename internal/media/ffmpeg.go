package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// RunResult is the structured outcome of one ffmpeg/ffprobe invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Executor runs ffmpeg and ffprobe as subprocesses.
type Executor struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewExecutor resolves ffmpeg and ffprobe on PATH.
func NewExecutor(logger *slog.Logger) (*Executor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &Executor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger.With("component", "ffmpeg"),
	}, nil
}

func (e *Executor) FFmpegPath() string  { return e.ffmpegPath }
func (e *Executor) FFprobePath() string { return e.ffprobePath }

// ProbeResult is the subset of ffprobe output the agent uses.
type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	Bitrate    int64
	HasAudio   bool
	AudioCodec string
	// Rotation is the display rotation in degrees, normalized to 0-359.
	// Width and Height are already swapped for quarter turns, matching the
	// frames ffmpeg produces with autorotation.
	Rotation int
}

func (p *ProbeResult) Metadata() Metadata {
	return Metadata{
		Duration: p.Duration,
		Width:    p.Width,
		Height:   p.Height,
		FPS:      p.FPS,
		HasAudio: p.HasAudio,
	}
}

// Probe extracts stream metadata from a media file.
func (e *Executor) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	var stdout bytes.Buffer
	result := e.run(ctx, e.ffprobePath, &stdout,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseProbe(stdout.Bytes())
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string          `json:"codec_type"`
		CodecName    string          `json:"codec_name"`
		Width        int             `json:"width"`
		Height       int             `json:"height"`
		RFrameRate   string          `json:"r_frame_rate"`
		AvgFrameRate string          `json:"avg_frame_rate"`
		Duration     string          `json:"duration"`
		Tags         probeTags       `json:"tags"`
		SideDataList []probeSideData `json:"side_data_list"`
	} `json:"streams"`
}

type probeTags struct {
	Rotate string `json:"rotate"`
}

type probeSideData struct {
	Rotation *float64 `json:"rotation"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		res.Duration = d
	}
	if br, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		res.Bitrate = br
	}

	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			res.Width = s.Width
			res.Height = s.Height
			res.VideoCodec = s.CodecName
			res.Rotation = streamRotation(s.Tags.Rotate, s.SideDataList)
			if res.Rotation == 90 || res.Rotation == 270 {
				res.Width, res.Height = res.Height, res.Width
			}
			res.FPS = parseFrameRate(s.AvgFrameRate)
			if res.FPS == 0 {
				res.FPS = parseFrameRate(s.RFrameRate)
			}
			if res.Duration == 0 {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					res.Duration = d
				}
			}
		case "audio":
			if !res.HasAudio {
				res.HasAudio = true
				res.AudioCodec = s.CodecName
			}
		}
	}

	if !foundVideo || res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	if res.FPS <= 0 {
		res.FPS = 30
	}
	return res, nil
}

// streamRotation prefers the display matrix side data over the legacy rotate
// tag.
func streamRotation(tag string, sideData []probeSideData) int {
	deg := 0
	found := false
	for _, sd := range sideData {
		if sd.Rotation != nil {
			deg = int(math.Round(*sd.Rotation))
			found = true
			break
		}
	}
	if !found {
		if v, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
			deg = v
		}
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// parseFrameRate parses "num/den" or a decimal rate; 0 on failure.
func parseFrameRate(s string) float64 {
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// DecodeFrame decodes the frame presented at t seconds as RGBA.
func (e *Executor) DecodeFrame(ctx context.Context, path string, t float64, width, height int) (*image.RGBA, error) {
	var stdout bytes.Buffer
	result := e.run(ctx, e.ffmpegPath, &stdout,
		"-v", "error",
		"-ss", formatSeconds(t),
		"-i", path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg frame decode exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	size := width * height * 4
	if stdout.Len() < size {
		return nil, fmt.Errorf("%w: %.3fs", ErrNoFrame, t)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, stdout.Bytes()[:size])
	return img, nil
}

// ExtractAudio writes the audio of [start, end) to out, encoded with codec.
func (e *Executor) ExtractAudio(ctx context.Context, path string, start, end float64, codec, out string) error {
	if end <= start {
		return fmt.Errorf("invalid audio range %.3f-%.3f", start, end)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("cannot create audio dir: %w", err)
	}
	result := e.run(ctx, e.ffmpegPath, io.Discard,
		"-y", "-hide_banner", "-v", "error",
		"-ss", formatSeconds(start),
		"-i", path,
		"-t", formatSeconds(end-start),
		"-vn",
		"-c:a", codec,
		out,
	)
	if !result.IsSuccess() {
		return fmt.Errorf("ffmpeg audio extraction exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return nil
}

// Encoders lists the encoder names compiled into ffmpeg.
func (e *Executor) Encoders(ctx context.Context) (map[string]bool, error) {
	var stdout bytes.Buffer
	result := e.run(ctx, e.ffmpegPath, &stdout, "-hide_banner", "-encoders")
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -encoders exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseEncoders(&stdout), nil
}

// parseEncoders reads lines such as " V....D libx264  libx264 H.264 ...".
// Lines before the "------" separator are the legend.
func parseEncoders(r io.Reader) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			if strings.HasPrefix(line, "---") {
				inList = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// decodeCommand builds a realtime-decoding ffmpeg process streaming raw RGBA
// frames from t seconds onward to stdout.
func (e *Executor) decodeCommand(ctx context.Context, path string, t float64) *exec.Cmd {
	return exec.CommandContext(ctx, e.ffmpegPath,
		"-v", "error",
		"-ss", formatSeconds(t),
		"-i", path,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
}

// run is the core subprocess execution helper.
func (e *Executor) run(ctx context.Context, bin string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = stdout

	e.logger.Debug("executing media command", "bin", filepath.Base(bin), "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 && ctx.Err() == nil {
		e.logger.Warn("media command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	}
	if exitCode == -1 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func formatSeconds(t float64) string {
	if t < 0 {
		t = 0
	}
	return strconv.FormatFloat(t, 'f', 3, 64)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
