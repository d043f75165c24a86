package media

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"format": {"duration": "100.500000", "bit_rate": "2500000"},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
			 "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac"}
		]
	}`)

	res, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.Duration != 100.5 {
		t.Errorf("Duration = %v, want 100.5", res.Duration)
	}
	if res.Width != 1920 || res.Height != 1080 {
		t.Errorf("size = %dx%d, want 1920x1080", res.Width, res.Height)
	}
	if res.FPS < 29.97 || res.FPS > 29.98 {
		t.Errorf("FPS = %v, want ~29.97", res.FPS)
	}
	if !res.HasAudio || res.AudioCodec != "aac" {
		t.Errorf("audio = %v/%q, want true/aac", res.HasAudio, res.AudioCodec)
	}
	if res.Bitrate != 2500000 {
		t.Errorf("Bitrate = %d, want 2500000", res.Bitrate)
	}

	meta := res.Metadata()
	if meta.Duration != 100.5 || !meta.HasAudio {
		t.Errorf("Metadata() = %+v", meta)
	}
}

func TestParseProbe_StreamDurationFallback(t *testing.T) {
	data := []byte(`{"format": {}, "streams": [
		{"codec_type": "video", "width": 640, "height": 360, "duration": "12.0", "r_frame_rate": "0/0"}
	]}`)

	res, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.Duration != 12 {
		t.Errorf("Duration = %v, want 12", res.Duration)
	}
	if res.FPS != 30 {
		t.Errorf("FPS = %v, want default 30", res.FPS)
	}
	if res.HasAudio {
		t.Error("HasAudio = true, want false")
	}
}

func TestParseProbe_Rotation(t *testing.T) {
	tests := []struct {
		name         string
		stream       string
		wantRotation int
		wantW        int
		wantH        int
	}{
		{"none", `"width": 1920, "height": 1080`, 0, 1920, 1080},
		{"side data -90", `"width": 1920, "height": 1080, "side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}]`, 270, 1080, 1920},
		{"side data 90", `"width": 1920, "height": 1080, "side_data_list": [{"rotation": 90}]`, 90, 1080, 1920},
		{"side data 180", `"width": 1920, "height": 1080, "side_data_list": [{"rotation": 180}]`, 180, 1920, 1080},
		{"rotate tag", `"width": 1280, "height": 720, "tags": {"rotate": "270"}`, 270, 720, 1280},
		{"side data wins over tag", `"width": 1280, "height": 720, "tags": {"rotate": "90"}, "side_data_list": [{"rotation": 0}]`, 0, 1280, 720},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{"format": {"duration": "10"}, "streams": [{"codec_type": "video", ` + tt.stream + `}]}`)
			res, err := parseProbe(data)
			if err != nil {
				t.Fatalf("parseProbe() error = %v", err)
			}
			if res.Rotation != tt.wantRotation {
				t.Errorf("Rotation = %d, want %d", res.Rotation, tt.wantRotation)
			}
			if res.Width != tt.wantW || res.Height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", res.Width, res.Height, tt.wantW, tt.wantH)
			}
			if meta := res.Metadata(); meta.Width != tt.wantW || meta.Height != tt.wantH {
				t.Errorf("Metadata() size = %dx%d, want display size", meta.Width, meta.Height)
			}
		})
	}
}

func TestParseProbe_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"audio only", `{"streams": [{"codec_type": "audio"}]}`},
		{"zero size", `{"streams": [{"codec_type": "video", "width": 0, "height": 0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseProbe([]byte(tt.data)); err == nil {
				t.Error("parseProbe() error = nil, want error")
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"25", 25},
		{"60/2", 30},
		{"0/0", 0},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D mpeg4                MPEG-4 part 2
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus
`
	encoders := parseEncoders(strings.NewReader(out))

	for _, name := range []string{"libx264", "mpeg4", "aac", "libopus"} {
		if !encoders[name] {
			t.Errorf("encoder %q missing", name)
		}
	}
	if encoders["="] || encoders["Video"] {
		t.Error("legend lines should not be parsed as encoders")
	}
	if len(encoders) != 4 {
		t.Errorf("len(encoders) = %d, want 4", len(encoders))
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.000"},
		{12.5, "12.500"},
		{-3, "0.000"},
		{1.23456, "1.235"},
	}
	for _, tt := range tests {
		if got := formatSeconds(tt.in); got != tt.want {
			t.Errorf("formatSeconds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want %q", got, "short")
	}
	if got := truncate("0123456789", 4); got != "...6789" {
		t.Errorf("truncate() = %q, want %q", got, "...6789")
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got, want := buf.String(), " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestLimitedWriter_ReportsFullLength(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}

	n, err := lw.Write([]byte("1234567890"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 10 {
		t.Errorf("Write returned %d, want 10", n)
	}
	if buf.String() != "67890" {
		t.Errorf("got %q, want %q", buf.String(), "67890")
	}
}
