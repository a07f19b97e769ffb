package main

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/gogpu/tiles"
	"github.com/gogpu/tiles/raster"
)

// tileSet is one tree's view of a layer: a tile handle per grid cell.
type tileSet struct {
	frame   int
	handles map[image.Point]tiles.Handle
}

// Layer is a scrolling, tiled layer with an active and a pending tree.
// Tiles outside a commit's damage are shared between the trees.
type Layer struct {
	id  int
	cfg *LayerConfigBlock
	mgr *tiles.Manager

	// bounds is the layer in scaled space, the space tiles live in.
	bounds   image.Rectangle
	cols     int
	rows     int
	viewport image.Rectangle
	velocity int
	frameDur time.Duration

	bands   *bandSource
	encoded *raster.EncodedSource

	frame   int
	active  *tileSet
	pending *tileSet
}

// NewLayer creates a layer from its configuration. Image layers take
// their size from the encoded image.
func NewLayer(id int, cfg *LayerConfigBlock, viewport image.Point, frameDur time.Duration, img []byte) (*Layer, error) {
	l := &Layer{id: id, cfg: cfg, frameDur: frameDur}

	size := image.Pt(cfg.Width, cfg.Height)
	if img != nil {
		ic, _, err := image.DecodeConfig(bytes.NewReader(img))
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", cfg.Name, err)
		}
		if size.X <= 0 || size.Y <= 0 {
			size = image.Pt(ic.Width, ic.Height)
		}
		l.encoded = raster.NewEncodedSource(img)
	} else {
		colors, err := palette(cfg.Colors)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", cfg.Name, err)
		}
		l.bands = &bandSource{
			bounds:  image.Rectangle{Max: size},
			palette: colors,
			band:    cfg.BandHeight,
		}
	}

	scale := cfg.ContentsScale
	l.bounds = image.Rect(0, 0, int(math.Ceil(float64(size.X)*scale)), int(math.Ceil(float64(size.Y)*scale)))
	l.cols = ceilDiv(l.bounds.Dx(), cfg.TileSize)
	l.rows = ceilDiv(l.bounds.Dy(), cfg.TileSize)
	l.viewport = image.Rectangle{Max: viewport}
	l.velocity = int(math.Round(float64(cfg.ScrollPerFrame) * scale))
	return l, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Name returns the configured layer name.
func (l *Layer) Name() string { return l.cfg.Name }

// Bounds returns the layer in scaled space.
func (l *Layer) Bounds() image.Rectangle { return l.bounds }

// Viewport returns the visible rectangle in scaled space.
func (l *Layer) Viewport() image.Rectangle { return l.viewport }

// Grid returns the number of tile columns and rows.
func (l *Layer) Grid() (cols, rows int) { return l.cols, l.rows }

func (l *Layer) attach(mgr *tiles.Manager) { l.mgr = mgr }

func (l *Layer) cellRect(cell image.Point) image.Rectangle {
	ts := l.cfg.TileSize
	return image.Rect(cell.X*ts, cell.Y*ts, (cell.X+1)*ts, (cell.Y+1)*ts).Intersect(l.bounds)
}

// damage returns the scaled rectangle a commit repaints. It is empty for
// a whole-layer commit.
func (l *Layer) damage() image.Rectangle {
	if l.active == nil || l.cfg.DamageRows == 0 {
		return image.Rectangle{}
	}
	top := l.viewport.Min.Y
	return image.Rect(l.bounds.Min.X, top, l.bounds.Max.X, top+l.cfg.DamageRows*l.cfg.TileSize).Intersect(l.bounds)
}

func (l *Layer) source(damage image.Rectangle) raster.PictureSource {
	if l.encoded != nil {
		return l.encoded
	}
	if l.frame > 1 {
		l.bands = l.bands.record(unscale(damage, l.cfg.ContentsScale))
	}
	return l.bands
}

func unscale(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(r.Min.X)/scale)),
		int(math.Floor(float64(r.Min.Y)/scale)),
		int(math.Ceil(float64(r.Max.X)/scale)),
		int(math.Ceil(float64(r.Max.Y)/scale)),
	)
}

// Commit records new content into a fresh pending tree. Tiles outside the
// damage are shared with the active tree; an unactivated pending tree is
// replaced.
func (l *Layer) Commit() {
	l.frame++
	damage := l.damage()
	src := l.source(damage)

	var flags tiles.TileFlags
	if l.cfg.LowQuality {
		flags |= tiles.FlagUseLowQualityRaster
	}
	if l.cfg.Analysis {
		flags |= tiles.FlagUsePictureAnalysis
	}

	set := &tileSet{frame: l.frame, handles: make(map[image.Point]tiles.Handle, l.cols*l.rows)}
	for row := range l.rows {
		for col := range l.cols {
			cell := image.Pt(col, row)
			rect := l.cellRect(cell)
			if l.active != nil && !damage.Empty() && !rect.Overlaps(damage) {
				if h, ok := l.active.handles[cell]; ok && l.mgr.RetainTile(h) {
					set.handles[cell] = h
					continue
				}
			}
			set.handles[cell] = l.mgr.CreateTile(tiles.TileParams{
				Source:            src,
				Size:              image.Pt(l.cfg.TileSize, l.cfg.TileSize),
				ContentRect:       rect,
				ContentsScale:     l.cfg.ContentsScale,
				LayerID:           l.id,
				SourceFrameNumber: l.frame,
				Flags:             flags,
			})
		}
	}

	if l.pending != nil {
		l.release(l.pending)
	}
	l.pending = set
}

// activate swaps the pending tree in. It reports whether there was one.
func (l *Layer) activate() bool {
	if l.pending == nil {
		return false
	}
	if l.active != nil {
		l.release(l.active)
	}
	l.active, l.pending = l.pending, nil
	return true
}

func (l *Layer) release(set *tileSet) {
	for _, h := range set.handles {
		l.mgr.ReleaseTile(h)
	}
	set.handles = nil
}

// Scroll moves the viewport by one frame of velocity and bounces at the
// layer edges.
func (l *Layer) Scroll() {
	if l.velocity == 0 {
		return
	}
	l.viewport = l.viewport.Add(image.Pt(0, l.velocity))
	switch {
	case l.viewport.Max.Y > l.bounds.Max.Y:
		l.viewport = l.viewport.Sub(image.Pt(0, l.viewport.Max.Y-l.bounds.Max.Y))
		l.velocity = -l.velocity
	case l.viewport.Min.Y < l.bounds.Min.Y:
		l.viewport = l.viewport.Add(image.Pt(0, l.bounds.Min.Y-l.viewport.Min.Y))
		l.velocity = -l.velocity
	}
}

// distance returns the Euclidean gap between two rectangles.
func distance(a, b image.Rectangle) float64 {
	dx := max(b.Min.X-a.Max.X, a.Min.X-b.Max.X, 0)
	dy := max(b.Min.Y-a.Max.Y, a.Min.Y-b.Max.Y, 0)
	return math.Hypot(float64(dx), float64(dy))
}

// priorityFor bins a tile by its distance to the viewport: visible tiles
// are needed for draw, tiles within one viewport are soon, and tiles
// within the prepaint reach are eventually.
func (l *Layer) priorityFor(r image.Rectangle) tiles.TilePriority {
	d := distance(r, l.viewport)
	reach := float64(l.viewport.Dy())

	p := tiles.TilePriority{
		Resolution:        tiles.HighResolution,
		DistanceToVisible: d,
		TimeToVisible:     math.Inf(1),
	}
	if l.velocity != 0 && l.frameDur > 0 {
		p.TimeToVisible = d / math.Abs(float64(l.velocity)) * l.frameDur.Seconds()
	}
	switch {
	case r.Overlaps(l.viewport):
		p.Bin = tiles.BinRequiredForDraw
	case d <= reach:
		p.Bin = tiles.BinSoon
	case d <= prepaintViewports*reach:
		p.Bin = tiles.BinEventually
	default:
		p.Bin = tiles.BinNever
	}
	if l.cfg.ContentsScale < 1 {
		p.Resolution = tiles.LowResolution
	}
	return p
}

// prepaintViewports is how many viewport heights away a tile is still
// worth rasterizing.
const prepaintViewports = 4

// buildRasterQueue assigns this pass's priorities and pushes every tile.
func (l *Layer) buildRasterQueue(q *tiles.RasterQueue) {
	l.each(func(t *tiles.Tile, _ image.Point) {
		t.SetPriority(tiles.ActiveTree, tiles.NeverPriority())
		t.SetPriority(tiles.PendingTree, tiles.NeverPriority())
		t.MarkRequiredForActivation(false)
	})
	l.eachIn(l.active, func(t *tiles.Tile, _ image.Point) {
		t.SetPriority(tiles.ActiveTree, l.priorityFor(t.ContentRect()))
	})
	l.eachIn(l.pending, func(t *tiles.Tile, _ image.Point) {
		p := l.priorityFor(t.ContentRect())
		t.SetPriority(tiles.PendingTree, p)
		if p.Bin == tiles.BinRequiredForDraw {
			t.MarkRequiredForActivation(true)
		}
	})
	l.each(func(t *tiles.Tile, _ image.Point) { q.Push(t) })
}

func (l *Layer) buildEvictionQueue(q *tiles.EvictionQueue) {
	l.each(func(t *tiles.Tile, _ image.Point) {
		if t.HasResource() {
			q.Push(t)
		}
	})
}

// each visits every tile of both trees once.
func (l *Layer) each(fn func(*tiles.Tile, image.Point)) {
	l.eachIn(l.active, fn)
	l.eachIn(l.pending, func(t *tiles.Tile, cell image.Point) {
		if l.active != nil && l.active.handles[cell] == t.Handle() {
			return
		}
		fn(t, cell)
	})
}

func (l *Layer) eachIn(set *tileSet, fn func(*tiles.Tile, image.Point)) {
	if set == nil {
		return
	}
	for cell, h := range set.handles {
		if t, ok := l.mgr.Tile(h); ok {
			fn(t, cell)
		}
	}
}

// drawTile returns the tile shown for a cell: the active tree's, or the
// pending tree's before the first activation.
func (l *Layer) drawTile(cell image.Point) (*tiles.Tile, bool) {
	set := l.active
	if set == nil {
		set = l.pending
	}
	if set == nil {
		return nil, false
	}
	h, ok := set.handles[cell]
	if !ok {
		return nil, false
	}
	return l.mgr.Tile(h)
}

// Close releases every tile the layer holds.
func (l *Layer) Close() {
	for _, set := range []*tileSet{l.active, l.pending} {
		if set != nil && set.handles != nil {
			l.release(set)
		}
	}
	l.active, l.pending = nil, nil
}
