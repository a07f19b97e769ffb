package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"math"
	"sync"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// PictureSource produces the pixels of a layer. The tile manager never
// looks inside it; a raster task asks it to draw one tile's content
// rectangle into the tile's resource.
//
// RasterTo is called concurrently from worker goroutines for different
// tiles, so implementations must be safe for concurrent use.
type PictureSource interface {
	// RasterTo draws contentRect, expressed in layer space scaled by
	// scale, into dst starting at dst's origin.
	RasterTo(dst *image.RGBA, contentRect image.Rectangle, scale float64, mode Mode) error
}

// Analyzer is implemented by sources that can describe a content
// rectangle without rasterizing it. A solid-color answer lets the task
// skip drawing entirely.
type Analyzer interface {
	AnalyzeContent(contentRect image.Rectangle, scale float64) (Analysis, bool)
}

// SourceFunc adapts a function to PictureSource.
type SourceFunc func(dst *image.RGBA, contentRect image.Rectangle, scale float64, mode Mode) error

// RasterTo calls f.
func (f SourceFunc) RasterTo(dst *image.RGBA, contentRect image.Rectangle, scale float64, mode Mode) error {
	return f(dst, contentRect, scale, mode)
}

// ImageSource rasterizes tiles from an image held in layer space.
// High-quality raster uses Catmull-Rom resampling, low-quality raster
// uses nearest-neighbor.
type ImageSource struct {
	img image.Image
}

// NewImageSource creates a source over img.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{img: img}
}

// Bounds returns the layer-space bounds of the source image.
func (s *ImageSource) Bounds() image.Rectangle { return s.img.Bounds() }

// RasterTo implements PictureSource.
func (s *ImageSource) RasterTo(dst *image.RGBA, contentRect image.Rectangle, scale float64, mode Mode) error {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Permanent(fmt.Errorf("invalid contents scale %v", scale))
	}

	view := image.Rect(0, 0, contentRect.Dx(), contentRect.Dy()).Intersect(dst.Bounds())
	if view.Empty() {
		return nil
	}
	out, _ := dst.SubImage(view).(*image.RGBA)

	if scale == 1 {
		draw.Copy(out, image.Point{}, s.img, contentRect, draw.Src, nil)
		return nil
	}

	// Maps layer space to tile space: d = scale*s - contentRect.Min.
	s2d := f64.Aff3{
		scale, 0, -float64(contentRect.Min.X),
		0, scale, -float64(contentRect.Min.Y),
	}
	interpolatorFor(mode).Transform(out, s2d, s.img, s.img.Bounds(), draw.Src, nil)
	return nil
}

// AnalyzeContent implements Analyzer for uniform images.
func (s *ImageSource) AnalyzeContent(image.Rectangle, float64) (Analysis, bool) {
	u, ok := s.img.(*image.Uniform)
	if !ok {
		return Analysis{}, false
	}
	c := color.RGBAModel.Convert(u.C).(color.RGBA)
	return Analysis{SolidColor: true, Color: c, IsTransparent: c.A == 0}, true
}

func interpolatorFor(mode Mode) draw.Interpolator {
	if mode == ModeLowQuality {
		return draw.NearestNeighbor
	}
	return draw.CatmullRom
}

// EncodedSource is a PictureSource backed by an encoded image (PNG, JPEG,
// GIF, BMP, TIFF or WebP). The image is decoded once, lazily, by the
// first raster task that needs it. A decode failure is permanent and is
// reported to every task that depends on the image.
type EncodedSource struct {
	data []byte

	once sync.Once
	src  *ImageSource
	err  error
}

// NewEncodedSource creates a source over encoded image bytes.
func NewEncodedSource(data []byte) *EncodedSource {
	return &EncodedSource{data: data}
}

// Decode decodes the image if it has not been decoded yet.
func (s *EncodedSource) Decode() error {
	s.once.Do(func() {
		img, format, err := image.Decode(bytes.NewReader(s.data))
		if err != nil {
			s.err = fmt.Errorf("%w: %w", ErrDecode, err)
			slogger().Warn("raster: decode failed", "bytes", len(s.data), "error", err)
			return
		}
		slogger().Debug("raster: decoded image", "format", format, "bounds", img.Bounds())
		s.src = NewImageSource(img)
		s.data = nil
	})
	return s.err
}

// RasterTo implements PictureSource.
func (s *EncodedSource) RasterTo(dst *image.RGBA, contentRect image.Rectangle, scale float64, mode Mode) error {
	if err := s.Decode(); err != nil {
		return err
	}
	return s.src.RasterTo(dst, contentRect, scale, mode)
}
