package tiles

import "fmt"

// TileID is the stable numeric identity of a tile. It combines the arena
// slot with the slot's generation, so an ID is never handed out twice
// while anything, including an in-flight raster task, still refers to it.
type TileID uint64

// Handle is what clients hold instead of a *Tile. A handle whose tile was
// cleaned up no longer resolves, even if its slot was reused.
type Handle struct {
	index      uint32
	generation uint32
}

// ID returns the tile ID the handle refers to.
func (h Handle) ID() TileID {
	return TileID(uint64(h.generation)<<32 | uint64(h.index))
}

// IsValid reports whether h was returned by CreateTile. It says nothing
// about whether the tile is still registered.
func (h Handle) IsValid() bool { return h.generation != 0 }

// String returns a short description for logs.
func (h Handle) String() string {
	return fmt.Sprintf("Tile[%d.%d]", h.index, h.generation)
}

// String returns the ID as slot.generation.
func (id TileID) String() string {
	return fmt.Sprintf("%d.%d", uint32(id), uint32(id>>32))
}

// arenaSlot is one entry of the tile arena.
type arenaSlot struct {
	generation uint32
	tile       *Tile
}

// tileArena owns every registered tile, indexed by generation-checked
// handles. Freed slots are reused with a bumped generation.
type tileArena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

// insert registers t and returns its handle.
func (a *tileArena) insert(t *Tile) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}

	s := &a.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	s.tile = t
	a.live++
	return Handle{index: idx, generation: s.generation}
}

// get resolves h, or returns nil for stale and unknown handles.
func (a *tileArena) get(h Handle) *Tile {
	if !h.IsValid() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if s.generation != h.generation {
		return nil
	}
	return s.tile
}

// remove unregisters the tile behind h. The slot's generation is bumped on
// the next insert, so h never resolves again.
func (a *tileArena) remove(h Handle) {
	if a.get(h) == nil {
		return
	}
	a.slots[h.index].tile = nil
	a.free = append(a.free, h.index)
	a.live--
}

// all reports whether fn returns true for every registered tile. It stops
// at the first false.
func (a *tileArena) all(fn func(*Tile) bool) bool {
	for i := range a.slots {
		if t := a.slots[i].tile; t != nil && !fn(t) {
			return false
		}
	}
	return true
}

// each calls fn for every registered tile in slot order.
func (a *tileArena) each(fn func(*Tile)) {
	for i := range a.slots {
		if t := a.slots[i].tile; t != nil {
			fn(t)
		}
	}
}
