package ui

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/instasplit/instasplit-agent/internal/session"
)

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		name     string
		st       session.Status
		progress int
		want     string
	}{
		{"nothing loaded", session.Status{}, 0, "Status: No video"},
		{"loaded", session.Status{Loaded: true, State: "idle"}, 0, "Status: Idle"},
		{"analyzed", session.Status{Loaded: true, State: "analyzed"}, 0, "Status: Ready"},
		{"analyzing", session.Status{Loaded: true, Op: session.OpAnalyzing}, 42, "Status: Analyzing 42%"},
		{"rendering", session.Status{Loaded: true, Op: session.OpRendering}, 7, "Status: Rendering 7%"},
		{"exporting", session.Status{Loaded: true, Op: session.OpExporting}, 100, "Status: Exporting 100%"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusLabel(tc.st, tc.progress); got != tc.want {
				t.Errorf("StatusLabel() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIcon(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(iconBytes))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 32 {
		t.Errorf("icon size = %v, want 32x32", b)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Error("icon corner should be transparent")
	}
	if _, _, _, a := img.At(16, 16).RGBA(); a == 0 {
		t.Error("icon centre should be opaque")
	}
}
