package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/tiles"
	"github.com/gogpu/tiles/raster"
	"github.com/gogpu/tiles/resource"
)

// cellKind classifies what a grid cell can draw.
type cellKind int

const (
	cellEmpty cellKind = iota
	cellRasterizing
	cellLowQuality
	cellHighQuality
	cellSolid
	cellFailed
)

var (
	cellGlyphs = [...]string{"·", "░", "▒", "█", "▪", "x"}
	cellStyles = [...]lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("#555555")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#56B6C2")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	viewportStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func classify(t *tiles.Tile) cellKind {
	if t == nil {
		return cellEmpty
	}
	hq := t.Version(raster.ModeHighQuality)
	lq := t.Version(raster.ModeLowQuality)
	switch {
	case hq.IsReadyToDraw() && hq.DrawMode() == tiles.DrawSolidColor,
		lq.IsReadyToDraw() && lq.DrawMode() == tiles.DrawSolidColor:
		return cellSolid
	case hq.IsReadyToDraw():
		return cellHighQuality
	case lq.IsReadyToDraw():
		return cellLowQuality
	case hq.State() == tiles.StateRasterFailed || lq.State() == tiles.StateRasterFailed:
		return cellFailed
	case hq.State() == tiles.StateRasterizing || lq.State() == tiles.StateRasterizing:
		return cellRasterizing
	}
	return cellEmpty
}

// mapMargin is how many rows around the viewport the map shows.
const mapMargin = 6

// RenderMap draws each layer's tile grid around its viewport.
func RenderMap(s *Scene) string {
	var blocks []string
	for _, l := range s.Layers() {
		var b strings.Builder
		ts := l.cfg.TileSize
		cols, rows := l.Grid()
		vp := l.Viewport()
		first := max(vp.Min.Y/ts-mapMargin, 0)
		last := min((vp.Max.Y-1)/ts+mapMargin, rows-1)

		b.WriteString(titleStyle.Render(fmt.Sprintf("layer %s", l.Name())))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  rows %d-%d of %d", first, last, rows)))
		b.WriteByte('\n')
		for row := first; row <= last; row++ {
			marker := "  "
			if row*ts < vp.Max.Y && (row+1)*ts > vp.Min.Y {
				marker = viewportStyle.Render("▶ ")
			}
			b.WriteString(marker)
			for col := range cols {
				t, _ := l.drawTile(image.Pt(col, row))
				k := classify(t)
				b.WriteString(cellStyles[k].Render(cellGlyphs[k]))
			}
			b.WriteByte('\n')
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, blocks...)
}

// legend returns the glyph key of RenderMap.
func legend() string {
	names := [...]string{"none", "rasterizing", "low quality", "high quality", "solid", "failed"}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = cellStyles[i].Render(cellGlyphs[i]) + " " + mutedStyle.Render(n)
	}
	return strings.Join(parts, "  ")
}

// RenderSummary formats the run statistics.
func RenderSummary(sim *Simulation) string {
	mgr := sim.Manager()
	run := sim.Stats()
	scene := sim.Scene().Stats()

	lines := []string{
		titleStyle.Render("tilesim"),
		fmt.Sprintf("%d frames in %s, %d visible updates", run.Frames, run.Elapsed.Round(time.Millisecond), run.VisibleUpdates),
		fmt.Sprintf("peak %d KB, worst checkerboard %d cells", run.PeakBytes/1024, run.CheckerboardMax),
		fmt.Sprintf("%d commits, %d activations (%d without notification), %d ready to draw",
			scene.Commits, scene.Activations, scene.ForcedActivations, scene.ReadyToDraw),
		mgr.Stats().String(),
		mgr.CompletionStats().String(),
		sim.Pool().Stats().String(),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// Dump is the YAML document written by --dump.
type Dump struct {
	Scenario *Config           `yaml:"scenario"`
	Run      RunStats          `yaml:"run"`
	Scene    SceneStats        `yaml:"scene"`
	Manager  tiles.BasicState  `yaml:"manager"`
	Pool     poolDump          `yaml:"pool"`
	Tiles    []tiles.TileState `yaml:"tiles"`
}

type poolDump struct {
	InUseBytes  uint64 `yaml:"in_use_bytes"`
	InUseCount  int    `yaml:"in_use_count"`
	CachedBytes uint64 `yaml:"cached_bytes"`
	CachedCount int    `yaml:"cached_count"`
	Acquires    uint64 `yaml:"acquires"`
	Reuses      uint64 `yaml:"reuses"`
}

func newPoolDump(s resource.PoolStats) poolDump {
	return poolDump{
		InUseBytes:  s.InUseBytes,
		InUseCount:  s.InUseCount,
		CachedBytes: s.CachedBytes,
		CachedCount: s.CachedCount,
		Acquires:    s.Acquires,
		Reuses:      s.Reuses,
	}
}

// WriteDump writes the simulation state as YAML.
func WriteDump(path string, sim *Simulation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	err = enc.Encode(Dump{
		Scenario: sim.cfg,
		Run:      sim.Stats(),
		Scene:    sim.Scene().Stats(),
		Manager:  sim.Manager().BasicState(),
		Pool:     newPoolDump(sim.Pool().Stats()),
		Tiles:    sim.Manager().TileStates(),
	})
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

var checkerboard = [2]color.RGBA{
	{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff},
	{R: 0x99, G: 0x99, B: 0x99, A: 0xff},
}

// checkerSize is the checkerboard square drawn for cells without content.
const checkerSize = 16

// Composite draws what the first layer's viewport would show: drawable
// tiles, solid colors, and a checkerboard where content is missing.
func Composite(l *Layer) *image.RGBA {
	vp := l.Viewport().Intersect(l.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, vp.Dx(), vp.Dy()))
	for y := 0; y < dst.Rect.Dy(); y++ {
		for x := 0; x < dst.Rect.Dx(); x++ {
			dst.SetRGBA(x, y, checkerboard[(x/checkerSize+y/checkerSize)%2])
		}
	}

	cols, rows := l.Grid()
	for row := range rows {
		for col := range cols {
			cell := image.Pt(col, row)
			rect := l.cellRect(cell)
			if !rect.Overlaps(vp) {
				continue
			}
			t, ok := l.drawTile(cell)
			if !ok {
				continue
			}
			drawTile(dst, rect.Intersect(vp).Sub(vp.Min), rect.Min.Sub(vp.Min), t)
		}
	}
	return dst
}

// drawTile draws the best ready version of t into r. origin is where the
// tile's top-left corner lands in dst.
func drawTile(dst *image.RGBA, r image.Rectangle, origin image.Point, t *tiles.Tile) {
	for _, mode := range []raster.Mode{raster.ModeHighQuality, raster.ModeLowQuality} {
		v := t.Version(mode)
		if !v.IsReadyToDraw() {
			continue
		}
		if v.DrawMode() == tiles.DrawSolidColor {
			draw.Draw(dst, r, image.NewUniform(v.SolidColor()), image.Point{}, draw.Over)
			return
		}
		if src := v.Resource().RGBA(); src != nil {
			draw.Draw(dst, r, src, src.Rect.Min.Add(r.Min.Sub(origin)), draw.Src)
			return
		}
	}
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}
