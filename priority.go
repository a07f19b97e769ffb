package tiles

import (
	"cmp"
	"fmt"
	"math"
)

// Bin is the coarse priority class of a tile. Lower values are more urgent.
type Bin int

// Priority bins, most urgent first.
const (
	// BinRequiredForActivation holds tiles the pending tree needs before it
	// can replace the active tree.
	BinRequiredForActivation Bin = iota

	// BinRequiredForDraw holds tiles visible in the current frame.
	BinRequiredForDraw

	// BinSoon holds tiles expected to become visible shortly.
	BinSoon

	// BinEventually holds tiles that may become visible later.
	BinEventually

	// BinNever holds tiles that must not be rasterized or keep memory.
	BinNever

	// NumBins is the number of bins.
	NumBins
)

var binNames = [NumBins]string{
	"RequiredForActivation",
	"RequiredForDraw",
	"Soon",
	"Eventually",
	"Never",
}

// String returns the bin name.
func (b Bin) String() string {
	if b >= 0 && b < NumBins {
		return binNames[b]
	}
	return fmt.Sprintf("Bin(%d)", int(b))
}

// MarshalText implements encoding.TextMarshaler.
func (b Bin) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// Resolution says how a tile's contents scale relates to the layer's ideal
// scale.
type Resolution int

// Resolutions.
const (
	HighResolution Resolution = iota
	LowResolution
	NonIdealResolution
)

// String returns the resolution name.
func (r Resolution) String() string {
	switch r {
	case HighResolution:
		return "High"
	case LowResolution:
		return "Low"
	case NonIdealResolution:
		return "NonIdeal"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// TilePriority is the per-tree priority the layer computes for a tile every
// pass. It is never cached across passes.
type TilePriority struct {
	Bin        Bin
	Resolution Resolution

	// DistanceToVisible is the distance in layer pixels from the tile to
	// the viewport. Zero means visible.
	DistanceToVisible float64

	// TimeToVisible estimates, in seconds, when the tile becomes visible
	// given the current scroll velocity.
	TimeToVisible float64
}

// NeverPriority returns the priority of a tile a tree knows nothing about.
func NeverPriority() TilePriority {
	return TilePriority{
		Bin:               BinNever,
		Resolution:        NonIdealResolution,
		DistanceToVisible: math.Inf(1),
		TimeToVisible:     math.Inf(1),
	}
}

// Sharper returns the more urgent of p and o: the lower bin, then the
// smaller distance.
func (p TilePriority) Sharper(o TilePriority) TilePriority {
	if o.Bin != p.Bin {
		if o.Bin < p.Bin {
			return o
		}
		return p
	}
	if o.DistanceToVisible < p.DistanceToVisible {
		return o
	}
	return p
}

// normalized clamps out-of-range values so comparisons stay a total order.
func (p TilePriority) normalized() TilePriority {
	if p.Bin < BinRequiredForActivation || p.Bin >= NumBins {
		p.Bin = BinNever
	}
	switch {
	case math.IsNaN(p.DistanceToVisible):
		p.DistanceToVisible = math.Inf(1)
	case p.DistanceToVisible < 0:
		p.DistanceToVisible = 0
	}
	if math.IsNaN(p.TimeToVisible) {
		p.TimeToVisible = math.Inf(1)
	}
	return p
}

// Tree identifies one of the two layer trees.
type Tree int

// Layer trees.
const (
	// ActiveTree is the tree being drawn.
	ActiveTree Tree = iota

	// PendingTree is the newly committed tree waiting to activate.
	PendingTree

	// NumTrees is the number of trees.
	NumTrees
)

// String returns the tree name.
func (t Tree) String() string {
	switch t {
	case ActiveTree:
		return "Active"
	case PendingTree:
		return "Pending"
	default:
		return fmt.Sprintf("Tree(%d)", int(t))
	}
}

// TreePriority selects which tree wins ties within a bin.
type TreePriority int

// Tree priorities.
const (
	// SamePriorityForBothTrees ranks by the closer of the two distances.
	SamePriorityForBothTrees TreePriority = iota

	// SmoothnessTakesPriority favors the active tree, keeping scrolling
	// smooth at the cost of new content.
	SmoothnessTakesPriority

	// NewContentTakesPriority favors the pending tree so it can activate.
	NewContentTakesPriority
)

var treePriorityNames = map[TreePriority]string{
	SamePriorityForBothTrees: "same",
	SmoothnessTakesPriority:  "smoothness",
	NewContentTakesPriority:  "new-content",
}

// String returns the tree priority name.
func (tp TreePriority) String() string {
	if s, ok := treePriorityNames[tp]; ok {
		return s
	}
	return fmt.Sprintf("TreePriority(%d)", int(tp))
}

// MarshalText implements encoding.TextMarshaler.
func (tp TreePriority) MarshalText() ([]byte, error) { return []byte(tp.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (tp *TreePriority) UnmarshalText(text []byte) error {
	for k, v := range treePriorityNames {
		if v == string(text) {
			*tp = k
			return nil
		}
	}
	return fmt.Errorf("tiles: unknown tree priority %q", text)
}

// favored returns the tree whose distance is compared first, and false
// when neither tree is favored.
func (tp TreePriority) favored() (Tree, bool) {
	switch tp {
	case SmoothnessTakesPriority:
		return ActiveTree, true
	case NewContentTakesPriority:
		return PendingTree, true
	default:
		return ActiveTree, false
	}
}

// sortKey is a tile's position in the total order for one pass.
type sortKey struct {
	bin     Bin
	primary float64
	other   float64
	id      TileID
}

// keyFor computes the ordering key of t under tree priority tp.
func keyFor(t *Tile, tp TreePriority) sortKey {
	active := t.priority[ActiveTree].DistanceToVisible
	pending := t.priority[PendingTree].DistanceToVisible

	k := sortKey{bin: t.effectiveBin(), id: t.id}
	if tree, ok := tp.favored(); ok {
		if tree == ActiveTree {
			k.primary, k.other = active, pending
		} else {
			k.primary, k.other = pending, active
		}
	} else {
		k.primary, k.other = math.Min(active, pending), math.Max(active, pending)
	}
	return k
}

// compareKeys orders keys in raster direction: negative when a should be
// rasterized before b.
func compareKeys(a, b sortKey) int {
	if c := cmp.Compare(a.bin, b.bin); c != 0 {
		return c
	}
	if c := cmp.Compare(a.primary, b.primary); c != 0 {
		return c
	}
	if c := cmp.Compare(a.other, b.other); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// comparePriority orders two tiles in raster direction under tp.
func comparePriority(a, b *Tile, tp TreePriority) int {
	return compareKeys(keyFor(a, tp), keyFor(b, tp))
}
