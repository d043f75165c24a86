package oracle

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// HeuristicAnalyzer scores frames from luminance contrast and colourfulness.
// It needs no network access.
type HeuristicAnalyzer struct{}

func NewHeuristicAnalyzer() *HeuristicAnalyzer { return &HeuristicAnalyzer{} }

func (HeuristicAnalyzer) Name() string { return "heuristic" }

func (HeuristicAnalyzer) Analyze(ctx context.Context, frame []byte, mimeType string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	st := measure(img)
	// Contrast saturates around a luma stddev of 64, colourfulness around 80.
	contrast := math.Min(st.lumaStdDev/64, 1)
	colour := math.Min(st.colourfulness/80, 1)
	exposure := 1 - math.Min(math.Abs(st.lumaMean-128)/128, 1)
	score := roundScore(100 * (0.45*contrast + 0.35*colour + 0.20*exposure))

	a := Analysis{Score: score}
	switch {
	case colour >= 0.6 && contrast >= 0.6:
		a.Title = "Bold Colour, Big Contrast"
		a.Description = "A vivid, punchy frame that pops on a small screen."
		a.Explanation = "Strong colour and tonal range"
		a.Tags = []string{"#vivid", "#cinematic", "#viral"}
	case colour >= 0.6:
		a.Title = "Colour Burst Moment"
		a.Description = "Saturated colours carry this shot."
		a.Explanation = "Rich saturated colour palette"
		a.Tags = []string{"#colorful", "#aesthetic"}
	case contrast >= 0.6:
		a.Title = "Dramatic Light and Shadow"
		a.Description = "Deep shadows and bright highlights give the frame depth."
		a.Explanation = "High contrast dramatic lighting"
		a.Tags = []string{"#dramatic", "#lighting"}
	case exposure < 0.35:
		a.Title = "Moody Low-Key Scene"
		a.Description = "An under- or over-exposed moment with muted detail."
		a.Explanation = "Exposure far from balanced"
		a.Tags = []string{"#moody"}
	default:
		a.Title = "Steady Everyday Shot"
		a.Description = "A balanced, calm frame."
		a.Explanation = "Balanced but unremarkable composition"
	}
	return a.Normalize(), nil
}

type frameStats struct {
	lumaMean      float64
	lumaStdDev    float64
	colourfulness float64
}

// measure samples at most ~64k pixels on a regular grid.
func measure(img image.Image) frameStats {
	b := img.Bounds()
	step := 1
	if n := b.Dx() * b.Dy(); n > 65536 {
		step = int(math.Sqrt(float64(n) / 65536))
	}

	var n, sumY, sumY2, sumRG, sumRG2, sumYB, sumYB2 float64
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, bl := float64(r16>>8), float64(g16>>8), float64(b16>>8)

			luma := 0.299*r + 0.587*g + 0.114*bl
			rg := r - g
			yb := 0.5*(r+g) - bl

			n++
			sumY += luma
			sumY2 += luma * luma
			sumRG += rg
			sumRG2 += rg * rg
			sumYB += yb
			sumYB2 += yb * yb
		}
	}
	if n == 0 {
		return frameStats{}
	}

	stddev := func(sum, sum2 float64) float64 {
		mean := sum / n
		return math.Sqrt(math.Max(sum2/n-mean*mean, 0))
	}
	meanRG, meanYB := sumRG/n, sumYB/n
	colourfulness := math.Sqrt(math.Pow(stddev(sumRG, sumRG2), 2)+math.Pow(stddev(sumYB, sumYB2), 2)) +
		0.3*math.Sqrt(meanRG*meanRG+meanYB*meanYB)

	return frameStats{
		lumaMean:      sumY / n,
		lumaStdDev:    stddev(sumY, sumY2),
		colourfulness: colourfulness,
	}
}
