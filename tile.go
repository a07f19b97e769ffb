package tiles

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/tiles/raster"
	"github.com/gogpu/tiles/resource"
)

// TileFlags alter how a tile is rasterized.
type TileFlags uint32

const (
	// FlagUseLowQualityRaster always rasterizes the tile in low quality.
	FlagUseLowQualityRaster TileFlags = 1 << iota

	// FlagUsePictureAnalysis enables solid-color detection for the tile.
	FlagUsePictureAnalysis
)

// TileParams describes a tile to CreateTile.
type TileParams struct {
	// Source draws the tile's layer. It must be safe for concurrent use.
	Source raster.PictureSource

	// Size is the resource size in pixels.
	Size image.Point

	// ContentRect is the tile rectangle in scaled layer space.
	ContentRect image.Rectangle

	// OpaqueRect is the part of ContentRect known to be opaque.
	OpaqueRect image.Rectangle

	// ContentsScale is the layer-to-tile scale.
	ContentsScale float64

	LayerID           int
	SourceFrameNumber int
	Flags             TileFlags
}

// VersionState is the raster state of one (tile, mode) slot.
type VersionState int

// Slot states. A slot moves NotRequested → RasterScheduled → Rasterizing
// → Rasterized or RasterFailed, and back to NotRequested when its content
// is evicted, invalidated or its task is canceled.
const (
	StateNotRequested VersionState = iota
	StateRasterScheduled
	StateRasterizing
	StateRasterized
	StateRasterFailed
)

// String returns the state name.
func (s VersionState) String() string {
	switch s {
	case StateNotRequested:
		return "NotRequested"
	case StateRasterScheduled:
		return "RasterScheduled"
	case StateRasterizing:
		return "Rasterizing"
	case StateRasterized:
		return "Rasterized"
	case StateRasterFailed:
		return "RasterFailed"
	default:
		return fmt.Sprintf("VersionState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s VersionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// DrawMode says how a rasterized version is drawn.
type DrawMode int

const (
	// DrawResource draws from the bound resource.
	DrawResource DrawMode = iota

	// DrawSolidColor draws a single color; no resource is held.
	DrawSolidColor
)

// TileVersion is the content of a tile for one raster mode.
type TileVersion struct {
	state    VersionState
	drawMode DrawMode

	// resource is bound once the slot is Rasterized in DrawResource mode.
	// The pool owns it; the version only refers to it.
	resource *resource.Resource

	// task is the outstanding raster task, if any. At most one per slot.
	task *raster.Task

	analysis   raster.Analysis
	solidColor color.RGBA

	permanent bool
	err       error

	// stale marks an in-flight task whose result must be discarded because
	// the tile was invalidated after it was scheduled.
	stale bool
}

// State returns the slot state.
func (v *TileVersion) State() VersionState { return v.state }

// DrawMode returns how the version is drawn.
func (v *TileVersion) DrawMode() DrawMode { return v.drawMode }

// Resource returns the bound resource, or nil.
func (v *TileVersion) Resource() *resource.Resource { return v.resource }

// SolidColor returns the color of a DrawSolidColor version.
func (v *TileVersion) SolidColor() color.RGBA { return v.solidColor }

// Analysis returns the analysis recorded at completion.
func (v *TileVersion) Analysis() raster.Analysis { return v.analysis }

// Err returns the last raster error, if the slot failed.
func (v *TileVersion) Err() error { return v.err }

// PermanentlyFailed reports whether the slot failed in a way retrying
// cannot fix. Such a slot is not resubmitted until the tile is invalidated.
func (v *TileVersion) PermanentlyFailed() bool { return v.permanent }

// IsReadyToDraw reports whether the version has drawable content.
func (v *TileVersion) IsReadyToDraw() bool {
	if v.state != StateRasterized {
		return false
	}
	return v.drawMode == DrawSolidColor || v.resource != nil
}

// inFlight reports whether a task for the slot is outstanding.
func (v *TileVersion) inFlight() bool { return v.task != nil }

// setSolidColor records a solid-color result.
func (v *TileVersion) setSolidColor(a raster.Analysis) {
	v.state = StateRasterized
	v.drawMode = DrawSolidColor
	v.solidColor = a.Color
	v.analysis = a
	v.resource = nil
	v.err = nil
	v.permanent = false
}

// Tile is one rectangular raster unit of one layer at one scale.
//
// A Tile is a data holder. It never performs I/O or talks to the
// rasterizer; the Manager drives every side effect. Clients refer to tiles
// by Handle and receive *Tile only inside Client callbacks or from
// Manager.Tile, and must not keep the pointer past the tile's release.
type Tile struct {
	id     TileID
	handle Handle

	source            raster.PictureSource
	size              image.Point
	contentRect       image.Rectangle
	opaqueRect        image.Rectangle
	contentsScale     float64
	layerID           int
	sourceFrameNumber int
	flags             TileFlags

	priority              [NumTrees]TilePriority
	requiredForActivation bool

	versions   [raster.NumModes]TileVersion
	rasterMode raster.Mode

	// scheduledPriority is the tile's position in the last raster walk.
	scheduledPriority int

	// evictedPass is the pass that last evicted the tile's resources.
	evictedPass uint64

	refs     int
	released bool
}

func newTile(p TileParams) *Tile {
	t := &Tile{
		source:            p.Source,
		size:              p.Size,
		contentRect:       p.ContentRect,
		opaqueRect:        p.OpaqueRect,
		contentsScale:     p.ContentsScale,
		layerID:           p.LayerID,
		sourceFrameNumber: p.SourceFrameNumber,
		flags:             p.Flags,
		refs:              1,
	}
	for tree := range t.priority {
		t.priority[tree] = NeverPriority()
	}
	if t.flags&FlagUseLowQualityRaster != 0 {
		t.rasterMode = raster.ModeLowQuality
	}
	return t
}

// ID returns the tile's stable identity.
func (t *Tile) ID() TileID { return t.id }

// Handle returns the handle clients use to refer to the tile.
func (t *Tile) Handle() Handle { return t.handle }

// Size returns the resource size in pixels.
func (t *Tile) Size() image.Point { return t.size }

// ContentRect returns the tile rectangle in scaled layer space.
func (t *Tile) ContentRect() image.Rectangle { return t.contentRect }

// OpaqueRect returns the opaque part of the content rectangle.
func (t *Tile) OpaqueRect() image.Rectangle { return t.opaqueRect }

// ContentsScale returns the layer-to-tile scale.
func (t *Tile) ContentsScale() float64 { return t.contentsScale }

// LayerID returns the owning layer.
func (t *Tile) LayerID() int { return t.layerID }

// SourceFrameNumber returns the frame the tile's content was committed in.
func (t *Tile) SourceFrameNumber() int { return t.sourceFrameNumber }

// Flags returns the tile flags.
func (t *Tile) Flags() TileFlags { return t.flags }

// SetPriority stores the tile's priority in one tree for the current pass.
func (t *Tile) SetPriority(tree Tree, p TilePriority) {
	if tree < 0 || tree >= NumTrees {
		return
	}
	t.priority[tree] = p.normalized()
}

// Priority returns the tile's priority in one tree.
func (t *Tile) Priority(tree Tree) TilePriority {
	if tree < 0 || tree >= NumTrees {
		return NeverPriority()
	}
	return t.priority[tree]
}

// CombinedPriority returns the sharper of the two trees' priorities.
func (t *Tile) CombinedPriority() TilePriority {
	return t.priority[ActiveTree].Sharper(t.priority[PendingTree])
}

// MarkRequiredForActivation flags whether the ready-to-activate gate
// waits on this tile.
func (t *Tile) MarkRequiredForActivation(required bool) {
	t.requiredForActivation = required
}

// RequiredForActivation reports whether the activation gate waits on this
// tile.
func (t *Tile) RequiredForActivation() bool { return t.requiredForActivation }

// Version returns the tile's version for mode.
func (t *Tile) Version(mode raster.Mode) *TileVersion {
	if mode < 0 || mode >= raster.NumModes {
		return nil
	}
	return &t.versions[mode]
}

// RasterMode returns the mode chosen for the tile in the last pass.
func (t *Tile) RasterMode() raster.Mode { return t.rasterMode }

// ScheduledPriority returns the tile's position in the last raster walk.
func (t *Tile) ScheduledPriority() int { return t.scheduledPriority }

// IsReadyToDraw reports whether any version of the tile can be drawn.
func (t *Tile) IsReadyToDraw() bool {
	for mode := range t.versions {
		if t.versions[mode].IsReadyToDraw() {
			return true
		}
	}
	return false
}

// HasResource reports whether any version holds a bound resource.
func (t *Tile) HasResource() bool {
	for mode := range t.versions {
		if t.versions[mode].resource != nil {
			return true
		}
	}
	return false
}

// effectiveBin is the bin the tile is scheduled in: the sharper bin of
// both trees, promoted when the activation gate waits on the tile.
func (t *Tile) effectiveBin() Bin {
	b := t.CombinedPriority().Bin
	if t.requiredForActivation && b > BinRequiredForActivation {
		b = BinRequiredForActivation
	}
	return b
}

// hasTaskInFlight reports whether any version has an outstanding task.
func (t *Tile) hasTaskInFlight() bool {
	for mode := range t.versions {
		if t.versions[mode].inFlight() {
			return true
		}
	}
	return false
}

// boundBytes returns the bytes held by bound resources.
func (t *Tile) boundBytes() (bytes uint64, count int) {
	for mode := range t.versions {
		if r := t.versions[mode].resource; r != nil {
			bytes += r.Bytes()
			count++
		}
	}
	return bytes, count
}

// determineRasterMode picks the mode the tile should be rasterized in.
// While scrolling, visible tiles without content are rasterized in low
// quality first and tiles with content keep the version they have.
func (t *Tile) determineRasterMode(tp TreePriority) raster.Mode {
	if t.flags&FlagUseLowQualityRaster != 0 {
		return raster.ModeLowQuality
	}
	if tp == SmoothnessTakesPriority {
		switch {
		case t.versions[raster.ModeHighQuality].IsReadyToDraw():
			return raster.ModeHighQuality
		case t.versions[raster.ModeLowQuality].IsReadyToDraw():
			return raster.ModeLowQuality
		case t.effectiveBin() <= BinRequiredForDraw:
			return raster.ModeLowQuality
		}
	}
	return raster.ModeHighQuality
}

// TileState is a snapshot of a tile for dumps and debugging.
type TileState struct {
	ID                    string            `yaml:"id"`
	LayerID               int               `yaml:"layer_id"`
	ContentRect           string            `yaml:"content_rect"`
	Bin                   Bin               `yaml:"bin"`
	Resolution            Resolution        `yaml:"resolution"`
	DistanceToVisible     float64           `yaml:"distance_to_visible"`
	RequiredForActivation bool              `yaml:"required_for_activation"`
	HasResource           bool              `yaml:"has_resource"`
	IsUsingGPUMemory      bool              `yaml:"is_using_gpu_memory"`
	IsSolidColor          bool              `yaml:"is_solid_color"`
	IsTransparent         bool              `yaml:"is_transparent"`
	RasterMode            string            `yaml:"raster_mode"`
	ScheduledPriority     int               `yaml:"scheduled_priority"`
	Versions              map[string]string `yaml:"versions"`
}

// State returns a snapshot of the tile.
func (t *Tile) State() TileState {
	combined := t.CombinedPriority()
	current := &t.versions[t.rasterMode]
	s := TileState{
		ID:                    t.id.String(),
		LayerID:               t.layerID,
		ContentRect:           t.contentRect.String(),
		Bin:                   t.effectiveBin(),
		Resolution:            combined.Resolution,
		DistanceToVisible:     combined.DistanceToVisible,
		RequiredForActivation: t.requiredForActivation,
		HasResource:           t.HasResource(),
		IsUsingGPUMemory:      t.HasResource() || t.hasTaskInFlight(),
		IsSolidColor:          current.IsReadyToDraw() && current.drawMode == DrawSolidColor,
		RasterMode:            t.rasterMode.String(),
		ScheduledPriority:     t.scheduledPriority,
		Versions:              make(map[string]string, raster.NumModes),
	}
	s.IsTransparent = s.IsSolidColor && current.solidColor.A == 0
	for mode := range t.versions {
		s.Versions[raster.Mode(mode).String()] = t.versions[mode].state.String()
	}
	return s
}
