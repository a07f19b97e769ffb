package tiles

import "container/heap"

// queueEntry is a tile and its ordering key, fixed when the queue is built.
type queueEntry struct {
	tile *Tile
	key  sortKey
}

// entryHeap is a binary heap of tiles. The comparator direction is chosen
// at construction: raster order or its exact reverse.
type entryHeap struct {
	entries []queueEntry
	reverse bool
}

func (h *entryHeap) Len() int { return len(h.entries) }

func (h *entryHeap) Less(i, j int) bool {
	c := compareKeys(h.entries[i].key, h.entries[j].key)
	if h.reverse {
		return c > 0
	}
	return c < 0
}

func (h *entryHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *entryHeap) Push(x any) {
	h.entries = append(h.entries, x.(queueEntry))
}

func (h *entryHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = queueEntry{}
	h.entries = old[:n-1]
	return e
}

// tileQueue is the shared cursor behind RasterQueue and EvictionQueue.
// It is filled with push, sealed with build and then drained with pop.
// Heapify is O(n) and every pop is O(log n); the full order is never
// materialized.
type tileQueue struct {
	heap  entryHeap
	seen  map[TileID]struct{}
	built bool
	tree  TreePriority
}

func (q *tileQueue) push(t *Tile) bool {
	if q.built {
		panic("tiles: Push on a built queue; call Reset first")
	}
	if t == nil || t.released {
		return false
	}
	if q.seen == nil {
		q.seen = make(map[TileID]struct{})
	}
	if _, dup := q.seen[t.id]; dup {
		return false
	}
	q.seen[t.id] = struct{}{}
	q.heap.entries = append(q.heap.entries, queueEntry{tile: t})
	return true
}

func (q *tileQueue) build(tp TreePriority) {
	if q.built {
		return
	}
	q.built = true
	q.tree = tp
	for i := range q.heap.entries {
		q.heap.entries[i].key = keyFor(q.heap.entries[i].tile, tp)
	}
	heap.Init(&q.heap)
}

func (q *tileQueue) mustBeBuilt() {
	if !q.built {
		panic("tiles: queue used before Build")
	}
}

func (q *tileQueue) empty() bool {
	q.mustBeBuilt()
	return q.heap.Len() == 0
}

func (q *tileQueue) top() *Tile {
	q.mustBeBuilt()
	if q.heap.Len() == 0 {
		return nil
	}
	return q.heap.entries[0].tile
}

func (q *tileQueue) topKey() (sortKey, bool) {
	q.mustBeBuilt()
	if q.heap.Len() == 0 {
		return sortKey{}, false
	}
	return q.heap.entries[0].key, true
}

func (q *tileQueue) pop() *Tile {
	q.mustBeBuilt()
	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(queueEntry).tile
}

func (q *tileQueue) reset() {
	clear(q.heap.entries)
	q.heap.entries = q.heap.entries[:0]
	clear(q.seen)
	q.built = false
}

// RasterQueue yields tiles in the order they should be rasterized: most
// urgent bin first, then closest to the viewport, then ascending ID.
//
// The client fills it with Push in BuildRasterQueue. Once built, it is a
// finite sequence that cannot be restarted; Reset empties it for reuse.
// Tiles in BinNever and duplicate pushes are dropped.
type RasterQueue struct {
	q tileQueue
}

// Push adds a tile. It panics if the queue was already built.
func (r *RasterQueue) Push(t *Tile) {
	if t != nil && t.effectiveBin() == BinNever {
		return
	}
	r.q.push(t)
}

// PushAll adds every tile in ts.
func (r *RasterQueue) PushAll(ts ...*Tile) {
	for _, t := range ts {
		r.Push(t)
	}
}

// Build seals the queue and orders it under tp. Building a built queue is
// a no-op.
func (r *RasterQueue) Build(tp TreePriority) { r.q.build(tp) }

// Len returns the number of tiles left.
func (r *RasterQueue) Len() int { return r.q.heap.Len() }

// Empty reports whether every tile was popped.
func (r *RasterQueue) Empty() bool { return r.q.empty() }

// Top returns the next tile without removing it, or nil.
func (r *RasterQueue) Top() *Tile { return r.q.top() }

// Pop removes and returns the next tile, or nil.
func (r *RasterQueue) Pop() *Tile { return r.q.pop() }

// Reset empties the queue so it can be filled again.
func (r *RasterQueue) Reset() { r.q.reset() }

// EvictionQueue yields tiles holding resources in the order they should
// lose them: the exact reverse of raster order, so BinNever first and,
// within a bin, the farthest tile first.
//
// Only tiles that hold a bound resource are accepted.
type EvictionQueue struct {
	q tileQueue
}

// Push adds a tile. It panics if the queue was already built.
func (e *EvictionQueue) Push(t *Tile) {
	if t == nil || !t.HasResource() {
		return
	}
	e.q.heap.reverse = true
	e.q.push(t)
}

// PushAll adds every tile in ts.
func (e *EvictionQueue) PushAll(ts ...*Tile) {
	for _, t := range ts {
		e.Push(t)
	}
}

// Build seals the queue and orders it under tp. Building a built queue is
// a no-op.
func (e *EvictionQueue) Build(tp TreePriority) {
	e.q.heap.reverse = true
	e.q.build(tp)
}

// Len returns the number of tiles left.
func (e *EvictionQueue) Len() int { return e.q.heap.Len() }

// Empty reports whether every tile was popped.
func (e *EvictionQueue) Empty() bool { return e.q.empty() }

// Top returns the next tile without removing it, or nil.
func (e *EvictionQueue) Top() *Tile { return e.q.top() }

// Pop removes and returns the next tile, or nil.
func (e *EvictionQueue) Pop() *Tile { return e.q.pop() }

// Reset empties the queue so it can be filled again.
func (e *EvictionQueue) Reset() { e.q.reset() }

// topBin returns the bin of the next tile as ordered at build time.
func (e *EvictionQueue) topBin() (Bin, bool) {
	k, ok := e.q.topKey()
	return k.bin, ok
}
