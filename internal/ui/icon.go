package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = drawIcon(32)

// drawIcon renders the tray glyph: two offset bars on a rounded tile.
func drawIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	tile := color.NRGBA{R: 0xe1, G: 0x30, B: 0x6c, A: 0xff}
	bar := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	r := size / 6
	for y := range size {
		for x := range size {
			if inRoundedRect(x, y, size, r) {
				img.SetNRGBA(x, y, tile)
			}
		}
	}

	unit := size / 8
	for y := 2 * unit; y < 6*unit; y++ {
		for x := 2 * unit; x < 3*unit+unit/2; x++ {
			img.SetNRGBA(x, y-unit/2, bar)
		}
		for x := 4*unit + unit/2; x < 6*unit; x++ {
			img.SetNRGBA(x, y+unit/2, bar)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func inRoundedRect(x, y, size, r int) bool {
	cx := min(max(x, r), size-1-r)
	cy := min(max(y, r), size-1-r)
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= r*r
}
