package main

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/muesli/gamut"

	"github.com/gogpu/tiles/raster"
)

// Stripe pattern drawn over odd bands.
const (
	stripePeriod = 64
	stripeWidth  = 12

	// lowQualityBlock is the pixel block a low-quality raster fills with
	// one sample.
	lowQualityBlock = 4
)

// palette generates n pastel colors.
func palette(n int) ([]color.RGBA, error) {
	colors, err := gamut.Generate(n, gamut.PastelGenerator{})
	if err != nil {
		return nil, fmt.Errorf("generate palette: %w", err)
	}
	out := make([]color.RGBA, len(colors))
	for i, c := range colors {
		out[i] = color.RGBAModel.Convert(c).(color.RGBA)
	}
	return out, nil
}

// bandSource draws horizontal color bands in layer space. Odd bands carry
// a diagonal stripe, so only tiles inside an even band are solid.
//
// A source recorded by a partial commit repaints only its damage rectangle
// and shows prev everywhere else.
//
// A bandSource is immutable after creation and safe for concurrent use.
type bandSource struct {
	bounds  image.Rectangle
	palette []color.RGBA
	band    int

	// shift rotates the palette; every commit bumps it.
	shift int

	damage image.Rectangle
	prev   *bandSource
}

// record returns the source of the next commit. An empty damage
// rectangle repaints the whole layer.
func (s *bandSource) record(damage image.Rectangle) *bandSource {
	next := *s
	next.shift++
	next.damage = damage.Intersect(s.bounds)
	next.prev = s
	if damage.Empty() || s.bounds.In(damage) {
		next.damage = image.Rectangle{}
		next.prev = nil
	}
	return &next
}

// owns reports whether p is painted by s rather than by an older commit.
func (s *bandSource) owns(p image.Point) bool {
	return s.prev == nil || p.In(s.damage)
}

var (
	_ raster.PictureSource = (*bandSource)(nil)
	_ raster.Analyzer      = (*bandSource)(nil)
)

func (s *bandSource) colorAt(x, y int) color.RGBA {
	p := image.Pt(x, y)
	if !p.In(s.bounds) {
		return color.RGBA{}
	}
	if !s.owns(p) {
		return s.prev.colorAt(x, y)
	}
	i := y / s.band
	c := s.palette[(i+s.shift)%len(s.palette)]
	if i%2 == 1 && (x+y)%stripePeriod < stripeWidth {
		return shade(c)
	}
	return c
}

func shade(c color.RGBA) color.RGBA {
	return color.RGBA{R: c.R / 2, G: c.G / 2, B: c.B / 2, A: c.A}
}

// RasterTo implements raster.PictureSource.
func (s *bandSource) RasterTo(dst *image.RGBA, contentRect image.Rectangle, scale float64, mode raster.Mode) error {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return raster.Permanent(fmt.Errorf("invalid contents scale %v", scale))
	}

	step := 1
	if mode == raster.ModeLowQuality {
		step = lowQualityBlock
	}
	w := min(contentRect.Dx(), dst.Rect.Dx())
	h := min(contentRect.Dy(), dst.Rect.Dy())
	for y := 0; y < h; y += step {
		ly := int(math.Floor(float64(contentRect.Min.Y+y) / scale))
		for x := 0; x < w; x += step {
			lx := int(math.Floor(float64(contentRect.Min.X+x) / scale))
			c := s.colorAt(lx, ly)
			for by := y; by < min(y+step, h); by++ {
				for bx := x; bx < min(x+step, w); bx++ {
					dst.SetRGBA(dst.Rect.Min.X+bx, dst.Rect.Min.Y+by, c)
				}
			}
		}
	}
	return nil
}

// AnalyzeContent implements raster.Analyzer. It recognizes tiles that lie
// within one plain band.
func (s *bandSource) AnalyzeContent(contentRect image.Rectangle, scale float64) (raster.Analysis, bool) {
	if scale <= 0 {
		return raster.Analysis{}, false
	}
	r := image.Rect(
		int(math.Floor(float64(contentRect.Min.X)/scale)),
		int(math.Floor(float64(contentRect.Min.Y)/scale)),
		int(math.Ceil(float64(contentRect.Max.X)/scale)),
		int(math.Ceil(float64(contentRect.Max.Y)/scale)),
	)
	return s.analyze(r)
}

func (s *bandSource) analyze(r image.Rectangle) (raster.Analysis, bool) {
	if r.Empty() || !r.In(s.bounds) {
		return raster.Analysis{}, false
	}
	if s.prev != nil {
		switch {
		case !r.Overlaps(s.damage):
			return s.prev.analyze(r)
		case !r.In(s.damage):
			return raster.Analysis{}, false
		}
	}
	first, last := r.Min.Y/s.band, (r.Max.Y-1)/s.band
	if first != last || first%2 == 1 {
		return raster.Analysis{}, false
	}
	c := s.colorAt(r.Min.X, r.Min.Y)
	return raster.Analysis{SolidColor: true, Color: c, IsTransparent: c.A == 0}, true
}
