package raster

import (
	"image"
	"image/color"
)

// Analysis describes rasterized content.
type Analysis struct {
	// SolidColor is true when every pixel has the same value. Such tiles
	// can be drawn from Color without keeping a resource.
	SolidColor bool

	// Color is the uniform color when SolidColor is true.
	Color color.RGBA

	// IsTransparent is true for a solid color with zero alpha.
	IsTransparent bool
}

// Analyze inspects rasterized pixels and reports whether they are uniform.
func Analyze(img *image.RGBA) Analysis {
	b := img.Bounds()
	if b.Empty() {
		return Analysis{SolidColor: true, IsTransparent: true}
	}

	first := img.PixOffset(b.Min.X, b.Min.Y)
	c := color.RGBA{
		R: img.Pix[first],
		G: img.Pix[first+1],
		B: img.Pix[first+2],
		A: img.Pix[first+3],
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			off := row + x*4
			if img.Pix[off] != c.R || img.Pix[off+1] != c.G ||
				img.Pix[off+2] != c.B || img.Pix[off+3] != c.A {
				return Analysis{}
			}
		}
	}
	return Analysis{SolidColor: true, Color: c, IsTransparent: c.A == 0}
}
