package render

import "github.com/instasplit/instasplit-agent/internal/segment"

// TargetSize computes the output raster for a source of w x h. Fractional
// sizes are truncated, then rounded down to even numbers for 4:2:0 encoders.
func TargetSize(w, h int, aspect segment.AspectRatio) (int, int) {
	fw, fh := float64(w), float64(h)
	tw, th := fw, fh

	switch aspect {
	case segment.AspectPortrait:
		th = fh
		tw = th * 9 / 16
		if tw > fw {
			tw = fw
			th = tw * 16 / 9
		}
	case segment.AspectWide:
		tw = fw
		th = tw * 9 / 16
		if th > fh {
			th = fh
			tw = th * 16 / 9
		}
	case segment.AspectSquare:
		side := min(fw, fh)
		tw, th = side, side
	}

	return even(int(tw)), even(int(th))
}

func even(n int) int {
	n &^= 1
	if n < 2 {
		return 2
	}
	return n
}
