package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// GenerateEDL renders a CMX3600 edit decision list that lays the clips end
// to end on the record side.
func GenerateEDL(clips []EDLClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	// Record times accumulate in frames so rounding never drifts.
	recordFrames := 0
	for i, clip := range clips {
		in := toFrames(clip.Start, fps)
		out := toFrames(clip.End, fps)
		length := out - in

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				timecode(in, fps), timecode(out, fps), timecode(recordFrames, fps), timecode(recordFrames+length, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)

		recordFrames += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// Clips maps segments onto EDL events against the source file.
func (r EDLRequest) Clips() []EDLClip {
	clips := make([]EDLClip, 0, len(r.Segments))
	for _, seg := range r.Segments {
		name := seg.Title
		if name == "" {
			name = fmt.Sprintf("Segment %d", seg.Index+1)
		}
		clips = append(clips, EDLClip{
			ClipName:  SanitizeName(name, maxNameLen),
			MediaPath: r.Source,
			Start:     seg.Start,
			End:       seg.End,
		})
	}
	return clips
}

// WriteEDL writes the list to OutputDir as {title}.edl and returns its path.
func WriteEDL(r EDLRequest) (string, error) {
	if err := ValidateOutputDir(r.OutputDir); err != nil {
		return "", err
	}
	if len(r.Segments) == 0 {
		return "", fmt.Errorf("no segments to export")
	}

	name := SanitizeName(r.Title, maxNameLen)
	if name == "" {
		name = "instasplit"
	}
	path := filepath.Join(r.OutputDir, name+".edl")
	if err := os.WriteFile(path, []byte(GenerateEDL(r.Clips(), r.Title, r.FrameRate)), 0644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	return path, nil
}

func toFrames(seconds float64, fps int) int {
	return int(math.Round(seconds * float64(fps)))
}

func timecode(totalFrames, fps int) string {
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
