package tiles

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/tiles/raster"
	"github.com/gogpu/tiles/resource"
)

// taskInfo is what the manager remembers about an outstanding task. The
// task refers to its tile by handle only, so a completion for a tile that
// was cleaned up in the meantime never touches freed state.
type taskInfo struct {
	handle Handle
	mode   raster.Mode
	bytes  uint64
}

// Manager decides which tiles get memory, which are evicted and which are
// rasterized, and processes raster completions.
//
// Thread safety: Manager is NOT safe for concurrent use. It must be used
// from a single goroutine, which is also the goroutine that receives raster
// completions through CheckForCompletedTasks.
type Manager struct {
	client     Client
	pool       *resource.Pool
	rasterizer raster.Rasterizer
	opts       managerOptions

	tiles    tileArena
	released []*Tile

	globalState    GlobalState
	hasGlobalState bool

	rasterQueue   RasterQueue
	evictionQueue EvictionQueue
	taskQueue     raster.TaskQueue

	inFlight      map[*raster.Task]taskInfo
	inFlightBytes uint64

	// boundBytes and boundCount account resources bound to tile versions.
	boundBytes uint64
	boundCount int

	pass   uint64
	inPass bool
	closed bool

	allTilesHaveMemory      bool
	requiredTilesHaveMemory bool
	starved                 int
	evictions               uint64
	completion              RasterTaskCompletionStats

	// completionsSincePass counts completions processed since the last
	// pass; rerunPending asks for a pass once all tasks have drained.
	completionsSincePass int
	rerunPending         bool

	readyToActivate          bool
	readyToDraw              bool
	readyCheckPending        bool
	didInitializeVisibleTile bool
}

// NewManager creates a tile manager. The manager installs itself as the
// rasterizer's client. pool should be dedicated to the manager.
//
// NewManager panics if client, pool or rasterizer is nil.
func NewManager(client Client, pool *resource.Pool, rasterizer raster.Rasterizer, opts ...Option) *Manager {
	if client == nil || pool == nil || rasterizer == nil {
		panic("tiles: NewManager requires a client, a pool and a rasterizer")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		client:                  client,
		pool:                    pool,
		rasterizer:              rasterizer,
		opts:                    o,
		inFlight:                make(map[*raster.Task]taskInfo),
		allTilesHaveMemory:      true,
		requiredTilesHaveMemory: true,
	}
	rasterizer.SetClient(rasterClient{m: m})
	return m
}

// logger returns the manager's logger.
func (m *Manager) logger() *slog.Logger {
	if m.opts.logger != nil {
		return m.opts.logger
	}
	return Logger()
}

// assertf panics with a formatted message when assertions are enabled and
// cond is false.
func (m *Manager) assertf(cond bool, format string, args ...any) {
	if m.opts.assertions && !cond {
		panic(fmt.Sprintf("tiles: invariant violated: "+format, args...))
	}
}

// CreateTile registers a new tile with one reference and returns its
// handle. The tile takes part in scheduling once the client pushes it into
// a raster queue.
func (m *Manager) CreateTile(p TileParams) Handle {
	t := newTile(p)
	h := m.tiles.insert(t)
	t.handle = h
	t.id = h.ID()

	m.logger().Debug("tiles: created tile",
		"id", t.id, "layer", p.LayerID, "rect", p.ContentRect, "size", p.Size)
	return h
}

// RetainTile adds a reference to a registered tile. It returns false if
// the handle is stale or the tile was already released.
func (m *Manager) RetainTile(h Handle) bool {
	t := m.tiles.get(h)
	if t == nil || t.released {
		return false
	}
	t.refs++
	return true
}

// ReleaseTile drops a reference. When the last reference goes, the tile
// stops taking part in scheduling immediately and its resources are freed
// at the start of the next pass. Releasing a stale handle is a no-op.
func (m *Manager) ReleaseTile(h Handle) {
	t := m.tiles.get(h)
	if t == nil || t.released {
		m.logger().Debug("tiles: release of unknown tile", "handle", h)
		return
	}
	t.refs--
	if t.refs > 0 {
		return
	}
	t.released = true
	m.released = append(m.released, t)
	m.scheduleReadyCheck()
}

// Tile resolves a handle. It returns false for stale handles and released
// tiles.
func (m *Manager) Tile(h Handle) (*Tile, bool) {
	t := m.tiles.get(h)
	if t == nil || t.released {
		return nil, false
	}
	return t, true
}

// TileCount returns the number of registered tiles, including tiles
// released since the last pass.
func (m *Manager) TileCount() int { return m.tiles.live }

// GlobalState returns the state of the last pass.
func (m *Manager) GlobalState() GlobalState { return m.globalState }

// InvalidateTile marks a tile's content stale. Every bound resource is
// evicted, an outstanding task's result will be discarded, and a permanent
// failure is cleared so the tile is rasterized again.
func (m *Manager) InvalidateTile(h Handle) {
	t, ok := m.Tile(h)
	if !ok {
		return
	}
	wasReady := t.IsReadyToDraw()
	for mode := range t.versions {
		v := &t.versions[mode]
		m.freeResource(t, raster.Mode(mode))
		if v.inFlight() {
			v.stale = true
		} else {
			v.state = StateNotRequested
		}
		v.drawMode = DrawResource
		v.permanent = false
		v.err = nil
	}
	if wasReady {
		m.client.NotifyTileStateChanged(t)
	}
	m.scheduleReadyCheck()
}

// ManageTiles runs one scheduling pass: it pulls priorities from the
// client, assigns memory in priority order, evicts lower-priority content
// where that makes room, and schedules raster work for tiles that got
// memory. It returns without waiting for raster work.
//
// ManageTiles is not re-entrant; a call from inside a Client callback
// during a pass is ignored.
func (m *Manager) ManageTiles(state GlobalState) {
	if m.closed || m.inPass {
		return
	}
	m.inPass = true
	m.managePass(state)
	m.inPass = false

	m.runDeferredChecks()
}

func (m *Manager) managePass(state GlobalState) {
	// Drain completions first so the walk sees current slot states.
	m.rasterizer.CheckForCompletedTasks()
	m.cleanUpReleasedTiles()

	if !m.hasGlobalState || state != m.globalState {
		m.logger().Info("tiles: global state changed", "state", state)
		m.globalState = state
		m.hasGlobalState = true
	}

	m.pass++
	m.completionsSincePass = 0
	m.rerunPending = false

	m.assignGpuMemoryAndSchedule()
	m.updatePoolLimits()

	if m.opts.assertions {
		m.checkInvariants()
	}
	m.scheduleReadyCheck()
}

// cleanUpReleasedTiles frees the resources of tiles whose last reference
// went away and unregisters them. Outstanding tasks keep their resources
// until they complete.
func (m *Manager) cleanUpReleasedTiles() {
	for _, t := range m.released {
		for mode := range t.versions {
			m.freeResource(t, raster.Mode(mode))
		}
		m.tiles.remove(t.handle)
		m.logger().Debug("tiles: cleaned up tile", "id", t.id)
	}
	clear(m.released)
	m.released = m.released[:0]
}

// updatePoolLimits lets the pool cache released buffers only within the
// budget headroom left after the pass.
func (m *Manager) updatePoolLimits() {
	used := m.bytesUsed()
	var headroom uint64
	if limit := m.globalState.MemoryLimitBytes; used < limit {
		headroom = limit - used
	}
	count := resource.DefaultMaxCachedCount
	if n := m.globalState.NumResourcesLimit; n > 0 {
		count = max(n-m.resourcesUsed(), 0)
	}
	m.pool.SetResourceUsageLimits(headroom, count)
	m.pool.ReduceResourceUsage()
}

// bytesUsed returns the bytes of bound and in-flight resources.
func (m *Manager) bytesUsed() uint64 { return m.boundBytes + m.inFlightBytes }

// resourcesUsed returns the number of bound and in-flight resources.
func (m *Manager) resourcesUsed() int { return m.boundCount + len(m.inFlight) }

// overBudget reports whether usage exceeds the limits of the last pass.
func (m *Manager) overBudget() bool {
	if m.bytesUsed() > m.globalState.MemoryLimitBytes {
		return true
	}
	n := m.globalState.NumResourcesLimit
	return n > 0 && m.resourcesUsed() > n
}

// bindResource binds a completed task's resource to a tile version.
func (m *Manager) bindResource(v *TileVersion, r *resource.Resource, a raster.Analysis) {
	v.resource = r
	v.state = StateRasterized
	v.drawMode = DrawResource
	v.analysis = a
	v.err = nil
	v.permanent = false
	m.boundBytes += r.Bytes()
	m.boundCount++
}

// freeResource releases the resource bound to one version of t and resets
// the version. It is a no-op for versions without a bound resource.
func (m *Manager) freeResource(t *Tile, mode raster.Mode) {
	v := &t.versions[mode]
	if v.resource == nil {
		return
	}
	m.boundBytes -= v.resource.Bytes()
	m.boundCount--
	m.releaseResource(v.resource)
	v.resource = nil
	v.state = StateNotRequested
	v.drawMode = DrawResource
}

// freeUnusedResources frees every bound resource except keep's.
func (m *Manager) freeUnusedResources(t *Tile, keep raster.Mode) bool {
	freed := false
	for mode := range t.versions {
		if raster.Mode(mode) != keep && t.versions[mode].resource != nil {
			m.freeResource(t, raster.Mode(mode))
			freed = true
		}
	}
	return freed
}

func (m *Manager) releaseResource(r *resource.Resource) {
	if err := m.pool.Release(r); err != nil {
		m.logger().Warn("tiles: resource release failed", "resource", r, "error", err)
	}
}

// Stats returns memory accounting.
func (m *Manager) Stats() MemoryStats {
	s := MemoryStats{
		TotalBudgetBytes:  m.globalState.MemoryLimitBytes,
		BytesAllocated:    m.bytesUsed(),
		BytesUnreleasable: m.inFlightBytes,
		ResourceCount:     m.resourcesUsed(),
		EvictionCount:     m.evictions,
		StarvedTiles:      m.starved,
	}
	if s.BytesAllocated > s.TotalBudgetBytes {
		s.BytesOverBudget = s.BytesAllocated - s.TotalBudgetBytes
	}
	return s
}

// BoundBytes returns the bytes held by resources bound to tile versions.
func (m *Manager) BoundBytes() uint64 { return m.boundBytes }

// CompletionStats returns raster task outcome counters.
func (m *Manager) CompletionStats() RasterTaskCompletionStats { return m.completion }

// TasksInFlight returns the number of outstanding raster tasks.
func (m *Manager) TasksInFlight() int { return len(m.inFlight) }

// BasicState returns a snapshot of the manager.
func (m *Manager) BasicState() BasicState {
	return BasicState{
		TileCount:          m.tiles.live,
		Passes:             m.pass,
		GlobalState:        m.globalState,
		Memory:             m.Stats(),
		Completion:         m.completion,
		ReadyToActivate:    m.readyToActivate,
		AllTilesHaveMemory: m.allTilesHaveMemory,
		TasksInFlight:      len(m.inFlight),
	}
}

// TileStates returns a snapshot of every registered tile in slot order.
func (m *Manager) TileStates() []TileState {
	out := make([]TileState, 0, m.tiles.live)
	m.tiles.each(func(t *Tile) {
		if !t.released {
			out = append(out, t.State())
		}
	})
	return out
}

// Close cancels outstanding raster work, waits for the rasterizer to shut
// down and frees every resource the manager holds. Tiles stay registered
// but hold no content. Close is safe to call multiple times.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.rasterizer.Shutdown()

	// A rasterizer that dropped replies still must not leak resources.
	for task, info := range m.inFlight {
		m.releaseResource(task.Resource())
		m.inFlightBytes -= info.bytes
		delete(m.inFlight, task)
	}
	m.tiles.each(func(t *Tile) {
		for mode := range t.versions {
			m.freeResource(t, raster.Mode(mode))
			t.versions[mode].task = nil
		}
	})
	m.cleanUpReleasedTiles()

	m.logger().Info("tiles: manager closed", "tiles", m.tiles.live, "stats", m.completion)
}

// checkInvariants verifies the accounting after a pass.
func (m *Manager) checkInvariants() {
	var bound uint64
	var count int
	slots := make(map[Handle][raster.NumModes]int)
	m.tiles.each(func(t *Tile) {
		b, n := t.boundBytes()
		bound += b
		count += n
		for mode := range t.versions {
			v := &t.versions[mode]
			if v.task == nil {
				continue
			}
			info, ok := m.inFlight[v.task]
			m.assertf(ok, "tile %s mode %d has an untracked task", t.id, mode)
			m.assertf(info.handle == t.handle && int(info.mode) == mode,
				"tile %s mode %d task tracked for %s mode %d", t.id, mode, info.handle, info.mode)
		}
	})
	for _, info := range m.inFlight {
		n := slots[info.handle]
		n[info.mode]++
		m.assertf(n[info.mode] <= 1, "%s mode %s has %d tasks in flight", info.handle, info.mode, n[info.mode])
		slots[info.handle] = n
	}
	m.assertf(bound == m.boundBytes && count == m.boundCount,
		"bound accounting %d bytes / %d resources, recount %d / %d", m.boundBytes, m.boundCount, bound, count)
	m.assertf(m.boundBytes <= m.globalState.MemoryLimitBytes,
		"bound bytes %d exceed limit %d", m.boundBytes, m.globalState.MemoryLimitBytes)
}
