package tiles

import (
	"errors"
	"image/color"
	"slices"
	"testing"

	"github.com/gogpu/tiles/raster"
)

// =============================================================================
// Assignment and budget
// =============================================================================

func TestManager_BudgetScenario(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.addTile(10, 10) // 100 bytes
	t2 := env.addTile(15, 10) // 150 bytes
	t3 := env.addTile(10, 10) // 100 bytes
	setBin(t1, BinRequiredForDraw, 0)
	setBin(t2, BinSoon, 10)
	setBin(t3, BinSoon, 20)

	env.pass(300)

	if got, want := env.queuedIDs(), []TileID{t1.ID(), t2.ID()}; !slices.Equal(got, want) {
		t.Errorf("task queue = %v, want %v", got, want)
	}
	if got := env.mgr.Stats().BytesAllocated; got != 250 {
		t.Errorf("BytesAllocated = %d, want 250", got)
	}
	if got := env.mgr.Stats().StarvedTiles; got != 1 {
		t.Errorf("StarvedTiles = %d, want 1", got)
	}
	env.checkBudget(300)

	// Completion triggers a rerun; T3 still has nothing below it to evict.
	env.drain()
	if !t1.IsReadyToDraw() || !t2.IsReadyToDraw() {
		t.Fatal("T1 and T2 should be ready to draw after completion")
	}
	if t3.HasResource() {
		t.Error("T3 should stay starved")
	}
	if got := env.mgr.Stats().EvictionCount; got != 0 {
		t.Errorf("EvictionCount = %d, want 0", got)
	}

	// A new visible tile evicts the farther SOON tile to make room.
	t4 := env.addTile(10, 10)
	setBin(t4, BinRequiredForDraw, 5)
	env.pass(300)

	if t2.HasResource() {
		t.Error("T2 should have been evicted for T4")
	}
	if !t1.HasResource() {
		t.Error("T1 should keep its resource")
	}
	if got, want := env.queuedIDs(), []TileID{t4.ID(), t3.ID()}; !slices.Equal(got, want) {
		t.Errorf("task queue = %v, want %v", got, want)
	}
	env.checkBudget(300)

	env.drain()
	for _, tile := range []*Tile{t1, t3, t4} {
		if !tile.IsReadyToDraw() {
			t.Errorf("%s should be ready to draw", tile.ID())
		}
	}
	env.checkBudget(300)
}

func TestManager_ResourceCountLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := range 3 {
		setBin(env.addTile(10, 10), BinSoon, float64(i))
	}

	env.mgr.ManageTiles(GlobalState{MemoryLimitBytes: 10000, NumResourcesLimit: 2})

	if got := len(env.rast.lastQueue()); got != 2 {
		t.Errorf("scheduled %d tasks, want 2", got)
	}
	if got := env.mgr.Stats().ResourceCount; got != 2 {
		t.Errorf("ResourceCount = %d, want 2", got)
	}
}

func TestManager_LimitShrinkEvictsLowestFirst(t *testing.T) {
	env := newTestEnv(t)
	t1 := env.addTile(10, 10)
	t2 := env.addTile(10, 10)
	t3 := env.addTile(10, 10)
	setBin(t1, BinRequiredForDraw, 0)
	setBin(t2, BinSoon, 1)
	setBin(t3, BinSoon, 2)

	env.pass(1000)
	env.drain()
	if got := env.mgr.BoundBytes(); got != 300 {
		t.Fatalf("BoundBytes() = %d, want 300", got)
	}

	env.pass(150)

	if !t1.HasResource() {
		t.Error("T1 should keep its resource")
	}
	if t2.HasResource() || t3.HasResource() {
		t.Error("T2 and T3 should be evicted")
	}
	if got := env.mgr.Stats().EvictionCount; got != 2 {
		t.Errorf("EvictionCount = %d, want 2", got)
	}
	env.checkBudget(150)
}

func TestManager_PriorityMonotonicity(t *testing.T) {
	env := newTestEnv(t)
	var ts []*Tile
	for range 5 {
		ts = append(ts, env.addTile(10, 10))
	}

	checkMonotonic := func(round string) {
		t.Helper()
		ordered := slices.Clone(ts)
		slices.SortFunc(ordered, func(a, b *Tile) int {
			return comparePriority(a, b, SamePriorityForBothTrees)
		})
		starved := false
		for _, tile := range ordered {
			if !tile.HasResource() {
				starved = true
				continue
			}
			if starved {
				t.Errorf("%s: %s holds memory below a starved tile", round, tile.ID())
			}
		}
		env.checkBudget(300)
	}

	setBin(ts[0], BinRequiredForDraw, 0)
	setBin(ts[1], BinSoon, 1)
	setBin(ts[2], BinSoon, 2)
	setBin(ts[3], BinEventually, 3)
	setBin(ts[4], BinEventually, 4)
	env.pass(300)
	env.drain()
	checkMonotonic("initial")

	setBin(ts[4], BinRequiredForDraw, 0)
	setBin(ts[3], BinSoon, 0)
	setBin(ts[0], BinEventually, 1)
	setBin(ts[1], BinEventually, 2)
	setBin(ts[2], BinEventually, 3)
	env.pass(300)
	env.drain()
	checkMonotonic("reversed")

	for _, i := range []int{4, 3, 0} {
		if !ts[i].IsReadyToDraw() {
			t.Errorf("tile %d should be ready after reversal", i)
		}
	}
}

func TestManager_NoThrash(t *testing.T) {
	env := newTestEnv(t)
	for i := range 4 {
		setBin(env.addTile(10, 10), BinSoon, float64(i))
	}

	env.pass(250)
	env.drain()
	before := env.mgr.Stats()

	for range 3 {
		env.pass(250)
		if got := len(env.rast.lastQueue()); got != 0 {
			t.Errorf("steady pass scheduled %d tasks, want 0", got)
		}
	}

	after := env.mgr.Stats()
	if after.EvictionCount != 0 {
		t.Errorf("EvictionCount = %d, want 0", after.EvictionCount)
	}
	if after.BytesAllocated != before.BytesAllocated {
		t.Errorf("BytesAllocated changed from %d to %d", before.BytesAllocated, after.BytesAllocated)
	}
}

func TestManager_TreePriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		tp    TreePriority
		first int
	}{
		{"smoothness favors active", SmoothnessTakesPriority, 0},
		{"new content favors pending", NewContentTakesPriority, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			a := env.addTile(10, 10)
			b := env.addTile(10, 10)
			a.SetPriority(ActiveTree, TilePriority{Bin: BinSoon, DistanceToVisible: 1})
			a.SetPriority(PendingTree, TilePriority{Bin: BinSoon, DistanceToVisible: 10})
			b.SetPriority(ActiveTree, TilePriority{Bin: BinSoon, DistanceToVisible: 10})
			b.SetPriority(PendingTree, TilePriority{Bin: BinSoon, DistanceToVisible: 1})

			env.mgr.ManageTiles(GlobalState{MemoryLimitBytes: 1000, TreePriority: tt.tp})

			ids := env.queuedIDs()
			want := []*Tile{a, b}[tt.first].ID()
			if len(ids) != 2 || ids[0] != want {
				t.Errorf("task queue = %v, want %s first", ids, want)
			}
		})
	}
}

func TestManager_MemoryLimitPolicy(t *testing.T) {
	env := newTestEnv(t)
	draw := env.addTile(10, 10)
	soon := env.addTile(10, 10)
	later := env.addTile(10, 10)
	setBin(draw, BinRequiredForDraw, 0)
	setBin(soon, BinSoon, 1)
	setBin(later, BinEventually, 2)

	env.pass(1000)
	env.drain()

	env.mgr.ManageTiles(GlobalState{MemoryLimitBytes: 1000, MemoryLimitPolicy: AllowAbsoluteMinimum})
	if !draw.HasResource() {
		t.Error("RequiredForDraw tile should keep memory under AllowAbsoluteMinimum")
	}
	if soon.HasResource() || later.HasResource() {
		t.Error("Soon and Eventually tiles should lose memory under AllowAbsoluteMinimum")
	}

	env.mgr.ManageTiles(GlobalState{MemoryLimitBytes: 1000, MemoryLimitPolicy: AllowNothing})
	if draw.HasResource() {
		t.Error("AllowNothing should release every resource")
	}
	if got := len(env.rast.lastQueue()); got != 0 {
		t.Errorf("AllowNothing scheduled %d tasks, want 0", got)
	}
	if got := env.pool.TotalBytesUsed(); got != 0 {
		t.Errorf("pool TotalBytesUsed() = %d, want 0", got)
	}
}

// =============================================================================
// Raster tasks
// =============================================================================

func TestManager_AtMostOneTaskInFlight(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinRequiredForDraw, 0)

	env.pass(1000)
	first := env.rast.taskFor(tile.ID())
	if first == nil {
		t.Fatal("no task scheduled")
	}

	for range 3 {
		env.pass(1000)
		if got := len(env.rast.outstanding()); got != 1 {
			t.Fatalf("outstanding tasks = %d, want 1", got)
		}
		if got := env.rast.lastQueue(); len(got) != 1 || got[0] != first {
			t.Fatal("pass should resubmit the same task")
		}
	}
	if got := tile.Version(raster.ModeHighQuality).State(); got != StateRasterizing {
		t.Errorf("State() = %s, want Rasterizing", got)
	}
}

func TestManager_CompletionAfterDeprioritize(t *testing.T) {
	tests := []struct {
		name      string
		bin       Bin
		wantBytes uint64
		wantState VersionState
	}{
		{"never discards", BinNever, 0, StateNotRequested},
		{"eventually binds", BinEventually, 100, StateRasterized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tile := env.addTile(10, 10)
			setBin(tile, BinSoon, 0)

			env.pass(1000)
			env.rast.startAll()
			task := env.rast.taskFor(tile.ID())

			setBin(tile, tt.bin, 0)
			env.pass(1000)

			env.rast.finish(task, raster.Result{})
			env.mgr.CheckForCompletedTasks()

			if got := env.pool.TotalBytesUsed(); got != tt.wantBytes {
				t.Errorf("pool TotalBytesUsed() = %d, want %d", got, tt.wantBytes)
			}
			if got := env.mgr.BoundBytes(); got != tt.wantBytes {
				t.Errorf("BoundBytes() = %d, want %d", got, tt.wantBytes)
			}
			if got := tile.Version(raster.ModeHighQuality).State(); got != tt.wantState {
				t.Errorf("State() = %s, want %s", got, tt.wantState)
			}
		})
	}
}

func TestManager_ReleaseMidFlight(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinSoon, 0)
	old := tile.Handle()

	env.pass(1000)
	env.rast.startAll()
	task := env.rast.taskFor(tile.ID())

	env.mgr.ReleaseTile(old)
	if _, ok := env.mgr.Tile(old); ok {
		t.Error("released tile should not resolve")
	}

	// The pass unregisters the tile and a new tile takes its slot.
	env.pass(1000)
	if got := env.mgr.TileCount(); got != 0 {
		t.Errorf("TileCount() = %d, want 0", got)
	}
	fresh := env.addTile(10, 10)
	if fresh.ID() == old.ID() {
		t.Fatalf("reused slot kept ID %s", old.ID())
	}

	env.rast.finish(task, raster.Result{})
	env.mgr.CheckForCompletedTasks()

	if got := env.pool.TotalBytesUsed(); got != 0 {
		t.Errorf("pool TotalBytesUsed() = %d, want 0", got)
	}
	if got := env.mgr.CompletionStats().Discarded; got != 1 {
		t.Errorf("Discarded = %d, want 1", got)
	}
	if fresh.HasResource() || fresh.Version(raster.ModeHighQuality).State() != StateNotRequested {
		t.Error("completion of the released tile leaked into the new tile")
	}
}

func TestManager_ReleaseBeforeCleanup(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinSoon, 0)

	env.pass(1000)
	env.mgr.ReleaseTile(tile.Handle())
	env.drain()

	if got := env.pool.TotalBytesUsed(); got != 0 {
		t.Errorf("pool TotalBytesUsed() = %d, want 0", got)
	}
	if tile.HasResource() {
		t.Error("released tile must not receive its result")
	}
}

func TestManager_CanceledTask(t *testing.T) {
	env := newTestEnv(t)
	keep := env.addTile(10, 10)
	drop := env.addTile(10, 10)
	setBin(keep, BinSoon, 0)
	setBin(drop, BinSoon, 1)

	env.pass(1000)
	setBin(drop, BinNever, 0)
	env.pass(1000)
	env.mgr.CheckForCompletedTasks()

	if got := env.mgr.CompletionStats().Canceled; got != 1 {
		t.Errorf("Canceled = %d, want 1", got)
	}
	if got := drop.Version(raster.ModeHighQuality).State(); got != StateNotRequested {
		t.Errorf("canceled State() = %s, want NotRequested", got)
	}
	if got := env.pool.TotalBytesUsed(); got != 100 {
		t.Errorf("pool TotalBytesUsed() = %d, want 100", got)
	}
}

func TestManager_RasterFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		permanent   bool
		rescheduled bool
	}{
		{"permanent", raster.Permanent(errors.New("bad picture")), true, false},
		{"decode", raster.ErrDecode, true, false},
		{"transient", errors.New("device lost"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tile := env.addTile(10, 10)
			setBin(tile, BinRequiredForDraw, 0)

			env.pass(1000)
			env.rast.finish(env.rast.taskFor(tile.ID()), raster.Result{Err: tt.err})
			env.mgr.CheckForCompletedTasks()

			v := tile.Version(raster.ModeHighQuality)
			if v.State() != StateRasterFailed {
				t.Errorf("State() = %s, want RasterFailed", v.State())
			}
			if v.PermanentlyFailed() != tt.permanent {
				t.Errorf("PermanentlyFailed() = %v, want %v", v.PermanentlyFailed(), tt.permanent)
			}
			if !errors.Is(v.Err(), tt.err) {
				t.Errorf("Err() = %v, want %v", v.Err(), tt.err)
			}
			if got := env.mgr.CompletionStats().Failed; got != 1 {
				t.Errorf("Failed = %d, want 1", got)
			}
			if got := env.pool.TotalBytesUsed(); got != 0 {
				t.Errorf("pool TotalBytesUsed() = %d, want 0", got)
			}

			env.pass(1000)
			if got := len(env.rast.lastQueue()) == 1; got != tt.rescheduled {
				t.Errorf("rescheduled = %v, want %v", got, tt.rescheduled)
			}
		})
	}
}

func TestManager_SolidColor(t *testing.T) {
	env := newTestEnv(t, WithSolidColorAnalysis(true))
	tile := env.addTile(10, 10)
	setBin(tile, BinRequiredForDraw, 0)

	env.pass(1000)
	task := env.rast.taskFor(tile.ID())
	if !task.Input().Analyze {
		t.Fatal("task should request analysis")
	}

	red := color.RGBA{R: 255, A: 255}
	env.rast.finish(task, raster.Result{Analysis: raster.Analysis{SolidColor: true, Color: red}})
	env.mgr.CheckForCompletedTasks()

	v := tile.Version(raster.ModeHighQuality)
	if !v.IsReadyToDraw() || v.DrawMode() != DrawSolidColor {
		t.Fatalf("version ready=%v mode=%v, want solid color", v.IsReadyToDraw(), v.DrawMode())
	}
	if v.SolidColor() != red {
		t.Errorf("SolidColor() = %v, want %v", v.SolidColor(), red)
	}
	if tile.HasResource() || env.pool.TotalBytesUsed() != 0 {
		t.Error("solid color tile must not hold a resource")
	}

	env.pass(1000)
	if got := len(env.rast.lastQueue()); got != 0 {
		t.Errorf("solid color tile rescheduled %d tasks", got)
	}
}

func TestManager_LowQualityWhileScrolling(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinRequiredForDraw, 0)

	env.mgr.ManageTiles(GlobalState{MemoryLimitBytes: 1000, TreePriority: SmoothnessTakesPriority})
	if got := env.rast.taskFor(tile.ID()).Input().Mode; got != raster.ModeLowQuality {
		t.Fatalf("scrolling raster mode = %s, want LowQuality", got)
	}
	env.drain()

	env.pass(1000)
	if got := env.rast.taskFor(tile.ID()).Input().Mode; got != raster.ModeHighQuality {
		t.Fatalf("idle raster mode = %s, want HighQuality", got)
	}
	if !tile.IsReadyToDraw() {
		t.Error("low-quality content should stay drawable while high quality rasterizes")
	}

	env.drain()
	if tile.Version(raster.ModeLowQuality).Resource() != nil {
		t.Error("low-quality resource should be freed once high quality is ready")
	}
	if got := env.mgr.BoundBytes(); got != 100 {
		t.Errorf("BoundBytes() = %d, want 100", got)
	}
}

func TestManager_InvalidateTile(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinRequiredForDraw, 0)

	env.pass(1000)
	env.drain()
	env.mgr.InvalidateTile(tile.Handle())

	if tile.IsReadyToDraw() || env.pool.TotalBytesUsed() != 0 {
		t.Fatal("invalidated tile should drop its content")
	}

	// Invalidate while a task runs: its result is discarded.
	env.pass(1000)
	env.rast.startAll()
	task := env.rast.taskFor(tile.ID())
	env.mgr.InvalidateTile(tile.Handle())

	env.pass(1000)
	if got := len(env.rast.lastQueue()); got != 0 {
		t.Errorf("stale slot rescheduled %d tasks before its result returned", got)
	}
	env.rast.finish(task, raster.Result{})
	env.mgr.CheckForCompletedTasks()

	if tile.HasResource() {
		t.Error("stale result must not be bound")
	}
	if got := env.mgr.CompletionStats().Discarded; got != 1 {
		t.Errorf("Discarded = %d, want 1", got)
	}

	env.pass(1000)
	if env.rast.taskFor(tile.ID()) == nil {
		t.Error("invalidated tile should be rasterized again")
	}
}

// =============================================================================
// Notifications
// =============================================================================

func TestManager_ReadyToActivateEdgeTriggered(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinSoon, 0)
	tile.MarkRequiredForActivation(true)

	env.pass(1000)
	if env.client.readyToActivate != 0 {
		t.Fatalf("notified %d times before content, want 0", env.client.readyToActivate)
	}

	env.drain()
	if env.client.readyToActivate != 1 {
		t.Fatalf("notified %d times after raster, want 1", env.client.readyToActivate)
	}

	env.pass(1000)
	env.pass(1000)
	if env.client.readyToActivate != 1 {
		t.Errorf("notified %d times while steady, want 1", env.client.readyToActivate)
	}

	// Evicted, then rasterized again: the gate fires once more.
	env.pass(0)
	if env.mgr.IsReadyToActivate() {
		t.Fatal("IsReadyToActivate() = true after eviction")
	}
	env.pass(1000)
	env.drain()
	if env.client.readyToActivate != 2 {
		t.Errorf("notified %d times after re-raster, want 2", env.client.readyToActivate)
	}
}

func TestManager_ReadyToActivateWithoutRequiredTiles(t *testing.T) {
	env := newTestEnv(t)
	setBin(env.addTile(10, 10), BinSoon, 0)

	env.pass(1000)
	env.pass(1000)
	if env.client.readyToActivate != 1 {
		t.Errorf("notified %d times, want 1", env.client.readyToActivate)
	}
}

func TestManager_ReadyToDrawAndVisibleTiles(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinRequiredForDraw, 0)

	env.pass(1000)
	readyBefore := env.client.readyToDraw

	env.rast.finishAll()
	if !env.mgr.UpdateVisibleTiles() {
		t.Error("UpdateVisibleTiles() = false after a visible tile completed")
	}
	if env.mgr.UpdateVisibleTiles() {
		t.Error("UpdateVisibleTiles() = true with nothing new")
	}
	if got := env.client.readyToDraw - readyBefore; got != 1 {
		t.Errorf("NotifyReadyToDraw called %d times, want 1", got)
	}
	if env.client.changed[tile.ID()] == 0 {
		t.Error("NotifyTileStateChanged not called for the completed tile")
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestManager_RetainRelease(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	h := tile.Handle()

	if !env.mgr.RetainTile(h) {
		t.Fatal("RetainTile() = false for a live tile")
	}
	env.mgr.ReleaseTile(h)
	if _, ok := env.mgr.Tile(h); !ok {
		t.Fatal("tile released while a reference remains")
	}
	env.mgr.ReleaseTile(h)
	if _, ok := env.mgr.Tile(h); ok {
		t.Fatal("tile still resolves after the last release")
	}
	if env.mgr.RetainTile(h) {
		t.Error("RetainTile() = true for a released tile")
	}

	// Releasing again, or a handle that was never issued, is a no-op.
	env.mgr.ReleaseTile(h)
	env.mgr.ReleaseTile(Handle{})

	if got := env.mgr.TileCount(); got != 1 {
		t.Errorf("TileCount() before pass = %d, want 1", got)
	}
	env.pass(1000)
	if got := env.mgr.TileCount(); got != 0 {
		t.Errorf("TileCount() after pass = %d, want 0", got)
	}
}

func TestManager_Close(t *testing.T) {
	env := newTestEnv(t)
	bound := env.addTile(10, 10)
	queued := env.addTile(10, 10)
	setBin(bound, BinRequiredForDraw, 0)
	setBin(queued, BinSoon, 1)

	env.pass(1000)
	env.rast.finish(env.rast.taskFor(bound.ID()), raster.Result{})
	env.mgr.CheckForCompletedTasks()

	env.mgr.Close()

	if !env.rast.shutdown {
		t.Error("Close() did not shut the rasterizer down")
	}
	if got := env.pool.TotalBytesUsed(); got != 0 {
		t.Errorf("pool TotalBytesUsed() = %d, want 0", got)
	}
	if got := env.mgr.CompletionStats().Canceled; got != 1 {
		t.Errorf("Canceled = %d, want 1", got)
	}
	if got := env.mgr.TasksInFlight(); got != 0 {
		t.Errorf("TasksInFlight() = %d, want 0", got)
	}

	passes := env.mgr.BasicState().Passes
	env.pass(1000)
	env.mgr.Close()
	if got := env.mgr.BasicState().Passes; got != passes {
		t.Errorf("ManageTiles ran after Close: passes %d -> %d", passes, got)
	}
}

func TestManager_NewManagerPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewManager(nil, ...) did not panic")
		}
	}()
	NewManager(nil, nil, nil)
}

func TestManager_TileStates(t *testing.T) {
	env := newTestEnv(t)
	tile := env.addTile(10, 10)
	setBin(tile, BinRequiredForDraw, 0)
	env.pass(1000)
	env.drain()

	states := env.mgr.TileStates()
	if len(states) != 1 {
		t.Fatalf("TileStates() len = %d, want 1", len(states))
	}
	s := states[0]
	if s.ID != tile.ID().String() || !s.HasResource || s.Bin != BinRequiredForDraw {
		t.Errorf("TileStates()[0] = %+v", s)
	}
	if got := s.Versions["HighQuality"]; got != "Rasterized" {
		t.Errorf("HighQuality version = %q, want Rasterized", got)
	}

	bs := env.mgr.BasicState()
	if bs.TileCount != 1 || bs.Memory.BytesAllocated != 100 || bs.Completion.Completed != 1 {
		t.Errorf("BasicState() = %+v", bs)
	}
}
