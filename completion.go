package tiles

import (
	"github.com/gogpu/tiles/raster"
)

// rasterClient receives the rasterizer's drain notifications.
type rasterClient struct {
	m *Manager
}

func (c rasterClient) DidFinishRunningTasks() { c.m.didFinishRunningTasks() }

func (c rasterClient) DidFinishRunningTasksRequiredForActivation() { c.m.scheduleReadyCheck() }

// didFinishRunningTasks runs when every scheduled task has completed. If
// the last pass left tiles without memory, completions may have freed
// room, so another pass is requested.
func (m *Manager) didFinishRunningTasks() {
	if !m.allTilesHaveMemory {
		m.rerunPending = true
	}
	m.scheduleReadyCheck()
}

// onRasterTaskCompleted is every task's reply. It runs on the owning
// goroutine, from inside the rasterizer's CheckForCompletedTasks or
// Shutdown.
func (m *Manager) onRasterTaskCompleted(task *raster.Task, res raster.Result) {
	info, ok := m.inFlight[task]
	if !ok {
		// Already accounted for by Close.
		return
	}
	delete(m.inFlight, task)
	m.inFlightBytes -= info.bytes
	m.completionsSincePass++

	discard := func() {
		m.releaseResource(task.Resource())
		m.completion.Discarded++
	}

	if m.closed {
		m.releaseResource(task.Resource())
		if res.Canceled {
			m.completion.Canceled++
		} else {
			m.completion.Discarded++
		}
		return
	}

	t := m.tiles.get(info.handle)
	if t == nil || t.released {
		discard()
		return
	}
	v := &t.versions[info.mode]
	if v.task != task {
		discard()
		return
	}
	v.task = nil

	if v.stale {
		v.stale = false
		v.state = StateNotRequested
		discard()
		return
	}

	switch {
	case res.Canceled:
		m.releaseResource(task.Resource())
		v.state = StateNotRequested
		m.completion.Canceled++
		return

	case res.Err != nil:
		m.releaseResource(task.Resource())
		v.state = StateRasterFailed
		v.permanent = raster.IsPermanent(res.Err)
		v.err = res.Err
		m.completion.Failed++
		m.logger().Warn("tiles: raster failed",
			"id", t.id, "mode", info.mode, "permanent", v.permanent, "error", res.Err)
		m.client.NotifyTileStateChanged(t)
		m.scheduleReadyCheck()
		return
	}

	switch {
	case res.Analysis.SolidColor && task.Input().Analyze:
		m.releaseResource(task.Resource())
		v.setSolidColor(res.Analysis)
	case !m.wantsResult(t, info.mode, info.bytes):
		v.state = StateNotRequested
		discard()
		return
	default:
		m.bindResource(v, task.Resource(), res.Analysis)
	}
	m.completion.Completed++

	if t.versions[t.rasterMode].IsReadyToDraw() {
		m.freeUnusedResources(t, t.rasterMode)
	}
	if t.priority[ActiveTree].Bin <= BinRequiredForDraw {
		m.didInitializeVisibleTile = true
	}

	m.client.NotifyTileStateChanged(t)
	m.scheduleReadyCheck()
}

// wantsResult reports whether a finished resource may be bound. Binding is
// refused when the tile fell out of the policy, when the budget shrank
// below what is held, or when another mode's content already serves the
// tile.
func (m *Manager) wantsResult(t *Tile, mode raster.Mode, bytes uint64) bool {
	if !m.globalState.MemoryLimitPolicy.allows(t.effectiveBin()) {
		return false
	}
	if m.bytesUsed()+bytes > m.globalState.MemoryLimitBytes {
		return false
	}
	if n := m.globalState.NumResourcesLimit; n > 0 && m.resourcesUsed()+1 > n {
		return false
	}
	return mode == t.rasterMode || !t.versions[t.rasterMode].IsReadyToDraw()
}

// CheckForCompletedTasks processes finished raster work. The owner calls
// it whenever the rasterizer signals completions. If the last pass starved
// tiles and all its tasks have since drained, a new pass is run with the
// last global state.
func (m *Manager) CheckForCompletedTasks() {
	if m.closed || m.inPass {
		return
	}
	m.rasterizer.CheckForCompletedTasks()

	if m.rerunPending && m.completionsSincePass > 0 && m.hasGlobalState {
		m.rerunPending = false
		m.logger().Debug("tiles: rerunning pass after tasks drained",
			"completions", m.completionsSincePass)
		m.ManageTiles(m.globalState)
		return
	}
	m.runDeferredChecks()
}

// UpdateVisibleTiles processes completions and reports whether a tile
// visible in the active tree gained content since the previous call.
func (m *Manager) UpdateVisibleTiles() bool {
	m.CheckForCompletedTasks()
	changed := m.didInitializeVisibleTile
	m.didInitializeVisibleTile = false
	return changed
}

// scheduleReadyCheck defers the readiness checks until the current pass or
// completion batch is done, so clients see one notification per change.
func (m *Manager) scheduleReadyCheck() { m.readyCheckPending = true }

// runDeferredChecks fires the edge-triggered readiness notifications.
func (m *Manager) runDeferredChecks() {
	if !m.readyCheckPending || m.closed {
		return
	}
	m.readyCheckPending = false

	ready := m.IsReadyToActivate()
	if ready && !m.readyToActivate {
		m.readyToActivate = true
		m.logger().Debug("tiles: ready to activate", "pass", m.pass)
		m.client.NotifyReadyToActivate()
	} else {
		m.readyToActivate = ready
	}

	if n, ok := m.client.(ReadyToDrawNotifier); ok {
		ready := m.isReadyToDraw()
		if ready && !m.readyToDraw {
			m.readyToDraw = true
			n.NotifyReadyToDraw()
		} else {
			m.readyToDraw = ready
		}
	}
}

// IsReadyToActivate reports whether every tile marked required for
// activation can be drawn. With no required tiles it is true.
func (m *Manager) IsReadyToActivate() bool {
	return m.tiles.all(func(t *Tile) bool {
		return t.released || !t.requiredForActivation || t.IsReadyToDraw()
	})
}

// isReadyToDraw reports whether every tile visible in the active tree can
// be drawn.
func (m *Manager) isReadyToDraw() bool {
	return m.tiles.all(func(t *Tile) bool {
		return t.released || t.priority[ActiveTree].Bin > BinRequiredForDraw || t.IsReadyToDraw()
	})
}
