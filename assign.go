package tiles

import (
	"errors"

	"github.com/gogpu/tiles/raster"
	"github.com/gogpu/tiles/resource"
)

// assignWalk is the state of one memory assignment walk.
type assignWalk struct {
	state GlobalState

	// oomed is set once a tile was denied memory for lack of budget. Tiles
	// after it in raster order get no new memory and lose their place in
	// the raster schedule, so size never beats priority.
	oomed bool

	evictionBuilt bool

	// candidates holds tiles popped from the eviction queue but not
	// evicted yet, lowest priority first. Nil entries were consumed.
	candidates []*Tile

	allHaveMemory      bool
	requiredHaveMemory bool
	starved            int
	evicted            int
}

// fits reports whether need more bytes and one more resource fit the
// budget once freedBytes and freedCount are released.
func (m *Manager) fits(w *assignWalk, need, freedBytes uint64, freedCount int) bool {
	used := m.bytesUsed() - freedBytes
	if used+need > w.state.MemoryLimitBytes {
		return false
	}
	n := w.state.NumResourcesLimit
	return n <= 0 || m.resourcesUsed()-freedCount+1 <= n
}

// assignGpuMemoryAndSchedule walks the raster queue, assigns memory and
// submits the resulting task queue to the rasterizer.
func (m *Manager) assignGpuMemoryAndSchedule() {
	tp := m.globalState.TreePriority
	w := &assignWalk{
		state:              m.globalState,
		allHaveMemory:      true,
		requiredHaveMemory: true,
	}

	m.rasterQueue.Reset()
	m.client.BuildRasterQueue(&m.rasterQueue, tp)
	m.rasterQueue.Build(tp)
	m.evictionQueue.Reset()

	m.enforceLimits(w)

	m.taskQueue.Reset()
	priority := 0
	for !m.rasterQueue.Empty() {
		t := m.rasterQueue.Pop()
		if t.released {
			continue
		}
		t.scheduledPriority = priority
		priority++
		m.assignTile(w, t)
	}
	m.rasterQueue.Reset()
	m.evictionQueue.Reset()

	m.rasterizer.ScheduleTasks(&m.taskQueue)
	for _, task := range m.taskQueue.Tasks() {
		info := m.inFlight[task]
		if t := m.tiles.get(info.handle); t != nil {
			if v := &t.versions[info.mode]; v.task == task && v.state == StateRasterScheduled {
				v.state = StateRasterizing
			}
		}
	}

	m.allTilesHaveMemory = w.allHaveMemory
	m.requiredTilesHaveMemory = w.requiredHaveMemory
	m.starved = w.starved

	m.logger().Debug("tiles: pass",
		"pass", m.pass,
		"walked", priority,
		"scheduled", m.taskQueue.Len(),
		"evicted", w.evicted,
		"starved", w.starved,
		"bytes", m.bytesUsed(),
		"limit", w.state.MemoryLimitBytes)
	m.taskQueue.Reset()
}

// enforceLimits evicts content that no longer deserves memory: tiles in
// bins the policy excludes, BinNever included, and the lowest-priority
// tiles while usage exceeds a lowered limit.
func (m *Manager) enforceLimits(w *assignWalk) {
	policy := w.state.MemoryLimitPolicy
	if !m.overBudget() && m.tiles.all(func(t *Tile) bool {
		return t.released || !t.HasResource() || policy.allows(t.effectiveBin())
	}) {
		return
	}

	m.ensureEvictionQueue(w)
	for {
		b, ok := m.evictionQueue.topBin()
		if !ok || (!m.overBudget() && policy.allows(b)) {
			break
		}
		t := m.evictionQueue.Pop()
		if t.released || !t.HasResource() {
			continue
		}
		m.evictTile(w, t)
	}

	if m.overBudget() {
		// Only in-flight work is left above the limit. Let it drain.
		w.oomed = true
		m.logger().Warn("tiles: over budget after eviction",
			"bytes", m.bytesUsed(), "in_flight", m.inFlightBytes, "limit", w.state.MemoryLimitBytes)
	}
}

// assignTile decides what one tile gets in this pass.
func (m *Manager) assignTile(w *assignWalk, t *Tile) {
	bin := t.effectiveBin()
	allowed := w.state.MemoryLimitPolicy.allows(bin)
	mode := t.determineRasterMode(w.state.TreePriority)
	t.rasterMode = mode
	v := &t.versions[mode]

	switch {
	case v.IsReadyToDraw():
		if m.freeUnusedResources(t, mode) {
			m.client.NotifyTileStateChanged(t)
		}
		return

	case v.inFlight():
		if v.stale {
			// The discarded result must come back before the slot is reused.
			return
		}
		if w.oomed || !allowed {
			m.noteStarved(w, t)
			return
		}
		// Still wanted: keep its place.
		m.taskQueue.Append(v.task)
		return

	case v.permanent:
		return
	}

	if !allowed || w.oomed || t.evictedPass == m.pass {
		m.noteStarved(w, t)
		return
	}

	need := m.pool.MemorySizeBytes(t.size)
	if !m.makeRoom(w, need, bin) {
		m.noteStarved(w, t)
		w.oomed = true
		return
	}

	res, err := m.pool.Acquire(t.size)
	if err != nil {
		if errors.Is(err, resource.ErrInvalidSize) {
			v.state = StateRasterFailed
			v.permanent = true
			v.err = raster.Permanent(err)
			m.logger().Warn("tiles: tile cannot be rasterized", "id", t.id, "error", err)
			m.client.NotifyTileStateChanged(t)
			return
		}
		m.logger().Warn("tiles: resource acquire failed", "id", t.id, "error", err)
		m.noteStarved(w, t)
		w.oomed = true
		return
	}

	m.scheduleRaster(t, mode, res)
}

// noteStarved records a tile left without memory in this pass.
func (m *Manager) noteStarved(w *assignWalk, t *Tile) {
	w.allHaveMemory = false
	if t.requiredForActivation {
		w.requiredHaveMemory = false
	}
	w.starved++
}

// scheduleRaster creates the raster task for one (tile, mode) slot and
// appends it to this pass's task queue.
func (m *Manager) scheduleRaster(t *Tile, mode raster.Mode, res *resource.Resource) {
	v := &t.versions[mode]
	m.assertf(!v.inFlight(), "tile %s mode %s already has a task in flight", t.id, mode)

	in := raster.Input{
		TileID:                uint64(t.id),
		Source:                t.source,
		ContentRect:           t.contentRect,
		ContentsScale:         t.contentsScale,
		Mode:                  mode,
		Analyze:               m.opts.analysis || t.flags&FlagUsePictureAnalysis != 0,
		RequiredForActivation: t.requiredForActivation,
	}
	task := raster.NewTask(in, res, m.onRasterTaskCompleted)

	v.task = task
	v.state = StateRasterScheduled
	v.err = nil
	m.inFlight[task] = taskInfo{handle: t.handle, mode: mode, bytes: res.Bytes()}
	m.inFlightBytes += res.Bytes()
	m.taskQueue.Append(task)
}

// ensureEvictionQueue asks the client for the eviction queue once per pass.
func (m *Manager) ensureEvictionQueue(w *assignWalk) {
	if w.evictionBuilt {
		return
	}
	tp := w.state.TreePriority
	m.client.BuildEvictionQueue(&m.evictionQueue, tp)
	m.evictionQueue.Build(tp)
	w.evictionBuilt = true
}

// evictable reports whether t's resources may be taken in this pass.
// Resources being written by a raster task never are.
func (m *Manager) evictable(t *Tile) bool {
	return !t.released && t.HasResource() && !t.hasTaskInFlight()
}

// makeRoom evicts tiles in bins strictly below bin until need bytes fit.
// It evicts nothing unless the candidates together free enough room.
func (m *Manager) makeRoom(w *assignWalk, need uint64, bin Bin) bool {
	if m.fits(w, need, 0, 0) {
		return true
	}
	m.ensureEvictionQueue(w)

	var chosen []int
	var freedBytes uint64
	var freedCount int
	take := func(i int) {
		b, n := w.candidates[i].boundBytes()
		chosen = append(chosen, i)
		freedBytes += b
		freedCount += n
	}

	// Candidates popped for earlier tiles come first: they rank below
	// everything still in the queue.
	for i, c := range w.candidates {
		if c == nil || c.effectiveBin() <= bin {
			continue
		}
		if !m.evictable(c) {
			w.candidates[i] = nil
			continue
		}
		take(i)
		if m.fits(w, need, freedBytes, freedCount) {
			break
		}
	}

	for !m.fits(w, need, freedBytes, freedCount) {
		b, ok := m.evictionQueue.topBin()
		if !ok || b <= bin {
			break
		}
		c := m.evictionQueue.Pop()
		if !m.evictable(c) {
			continue
		}
		w.candidates = append(w.candidates, c)
		take(len(w.candidates) - 1)
	}

	if !m.fits(w, need, freedBytes, freedCount) {
		return false
	}
	for _, i := range chosen {
		m.evictTile(w, w.candidates[i])
		w.candidates[i] = nil
	}
	return true
}

// evictTile frees every bound resource of t. Solid-color versions hold no
// memory and survive.
func (m *Manager) evictTile(w *assignWalk, t *Tile) {
	wasReady := t.IsReadyToDraw()
	n := 0
	for mode := range t.versions {
		if t.versions[mode].resource != nil {
			m.freeResource(t, raster.Mode(mode))
			n++
		}
	}
	t.evictedPass = m.pass
	m.evictions += uint64(n)
	w.evicted += n

	m.logger().Debug("tiles: evicted tile", "id", t.id, "bin", t.effectiveBin(), "resources", n)
	if wasReady {
		m.client.NotifyTileStateChanged(t)
	}
	if t.requiredForActivation {
		m.scheduleReadyCheck()
	}
}
