package tiles

import (
	"image"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/tiles/raster"
	"github.com/gogpu/tiles/resource"
)

// =============================================================================
// fakeRasterizer
// =============================================================================

type fakeCompletion struct {
	task *raster.Task
	res  raster.Result
}

// fakeRasterizer runs nothing on its own. Tests start, finish or fail
// tasks explicitly; replies are delivered on CheckForCompletedTasks like
// the real rasterizer does.
type fakeRasterizer struct {
	client raster.Client

	pending []*raster.Task
	running []*raster.Task
	done    []fakeCompletion

	notifyAll      bool
	notifyRequired bool

	// queues records every ScheduleTasks call.
	queues [][]*raster.Task

	shutdown bool
}

func (f *fakeRasterizer) SetClient(c raster.Client) { f.client = c }

func (f *fakeRasterizer) ScheduleTasks(q *raster.TaskQueue) {
	tasks := slices.Clone(q.Tasks())
	f.queues = append(f.queues, tasks)

	var keep []*raster.Task
	for _, t := range f.pending {
		if slices.Contains(tasks, t) {
			continue
		}
		f.done = append(f.done, fakeCompletion{task: t, res: raster.Result{Canceled: true}})
	}
	for _, t := range tasks {
		if slices.Contains(f.running, t) {
			continue
		}
		keep = append(keep, t)
	}
	f.pending = keep
	f.notifyAll = true
	f.notifyRequired = true
}

func (f *fakeRasterizer) CheckForCompletedTasks() {
	done := f.done
	f.done = nil
	for _, c := range done {
		c.task.Complete(c.res)
	}

	if f.notifyRequired && !f.hasRequired() {
		f.notifyRequired = false
		f.client.DidFinishRunningTasksRequiredForActivation()
	}
	if f.notifyAll && len(f.pending) == 0 && len(f.running) == 0 {
		f.notifyAll = false
		f.client.DidFinishRunningTasks()
	}
}

func (f *fakeRasterizer) Shutdown() {
	f.shutdown = true
	for _, t := range f.pending {
		f.done = append(f.done, fakeCompletion{task: t, res: raster.Result{Canceled: true}})
	}
	for _, t := range f.running {
		f.done = append(f.done, fakeCompletion{task: t, res: raster.Result{}})
	}
	f.pending, f.running = nil, nil
	f.CheckForCompletedTasks()
}

func (f *fakeRasterizer) hasRequired() bool {
	for _, t := range slices.Concat(f.pending, f.running) {
		if t.Input().RequiredForActivation {
			return true
		}
	}
	return false
}

// outstanding returns every task not yet finished.
func (f *fakeRasterizer) outstanding() []*raster.Task {
	return slices.Concat(f.running, f.pending)
}

// lastQueue returns the task queue of the last ScheduleTasks call.
func (f *fakeRasterizer) lastQueue() []*raster.Task {
	if len(f.queues) == 0 {
		return nil
	}
	return f.queues[len(f.queues)-1]
}

// startAll moves every pending task to running; running tasks are not
// canceled when a later pass drops them.
func (f *fakeRasterizer) startAll() {
	f.running = append(f.running, f.pending...)
	f.pending = nil
}

// finish completes one outstanding task with res.
func (f *fakeRasterizer) finish(t *raster.Task, res raster.Result) {
	f.pending = slices.DeleteFunc(f.pending, func(p *raster.Task) bool { return p == t })
	f.running = slices.DeleteFunc(f.running, func(p *raster.Task) bool { return p == t })
	f.done = append(f.done, fakeCompletion{task: t, res: res})
}

// finishAll completes every outstanding task successfully.
func (f *fakeRasterizer) finishAll() {
	for _, t := range f.outstanding() {
		f.finish(t, raster.Result{})
	}
}

// taskFor returns the outstanding task of tile id, or nil.
func (f *fakeRasterizer) taskFor(id TileID) *raster.Task {
	for _, t := range f.outstanding() {
		if TileID(t.Input().TileID) == id {
			return t
		}
	}
	return nil
}

var _ raster.Rasterizer = (*fakeRasterizer)(nil)

// =============================================================================
// fakeClient
// =============================================================================

// fakeClient pushes every live tile into both queues. Tests set
// priorities on the tiles directly.
type fakeClient struct {
	mgr     *Manager
	handles []Handle

	readyToActivate int
	readyToDraw     int
	changed         map[TileID]int

	// onReadyToActivate runs inside NotifyReadyToActivate.
	onReadyToActivate func()
}

func (c *fakeClient) NotifyReadyToActivate() {
	c.readyToActivate++
	if c.onReadyToActivate != nil {
		c.onReadyToActivate()
	}
}

func (c *fakeClient) NotifyReadyToDraw() { c.readyToDraw++ }

func (c *fakeClient) NotifyTileStateChanged(t *Tile) {
	if c.changed == nil {
		c.changed = make(map[TileID]int)
	}
	c.changed[t.ID()]++
}

func (c *fakeClient) BuildRasterQueue(q *RasterQueue, _ TreePriority) {
	for _, h := range c.handles {
		if t, ok := c.mgr.Tile(h); ok {
			q.Push(t)
		}
	}
}

func (c *fakeClient) BuildEvictionQueue(q *EvictionQueue, _ TreePriority) {
	for _, h := range c.handles {
		if t, ok := c.mgr.Tile(h); ok {
			q.Push(t)
		}
	}
}

var (
	_ Client              = (*fakeClient)(nil)
	_ ReadyToDrawNotifier = (*fakeClient)(nil)
)

// =============================================================================
// testEnv
// =============================================================================

// testEnv wires a Manager to fakes. The pool uses one byte per pixel so
// tile sizes read as byte counts: a 10x10 tile is 100 bytes.
type testEnv struct {
	t      *testing.T
	mgr    *Manager
	pool   *resource.Pool
	rast   *fakeRasterizer
	client *fakeClient
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	pool := resource.NewPool(resource.Config{Format: gputypes.TextureFormatR8Unorm})
	rast := &fakeRasterizer{}
	client := &fakeClient{}
	opts = append([]Option{WithAssertions(true)}, opts...)
	mgr := NewManager(client, pool, rast, opts...)
	client.mgr = mgr
	return &testEnv{t: t, mgr: mgr, pool: pool, rast: rast, client: client}
}

// state returns an AllowAnything global state with the given byte limit.
func (e *testEnv) state(limit uint64) GlobalState {
	return GlobalState{MemoryLimitBytes: limit, TreePriority: SamePriorityForBothTrees}
}

// addTile creates a tile of w*h bytes and registers it with the client.
func (e *testEnv) addTile(w, h int) *Tile {
	e.t.Helper()
	hd := e.mgr.CreateTile(TileParams{
		Source:        raster.SourceFunc(func(*image.RGBA, image.Rectangle, float64, raster.Mode) error { return nil }),
		Size:          image.Pt(w, h),
		ContentRect:   image.Rect(0, 0, w, h),
		ContentsScale: 1,
	})
	e.client.handles = append(e.client.handles, hd)
	t, ok := e.mgr.Tile(hd)
	if !ok {
		e.t.Fatalf("Tile(%s) not found after CreateTile", hd)
	}
	return t
}

// setBin gives t the same priority in both trees.
func setBin(t *Tile, b Bin, distance float64) {
	p := TilePriority{Bin: b, DistanceToVisible: distance}
	t.SetPriority(ActiveTree, p)
	t.SetPriority(PendingTree, p)
}

// pass runs ManageTiles with limit.
func (e *testEnv) pass(limit uint64) {
	e.mgr.ManageTiles(e.state(limit))
}

// drain finishes every outstanding task and delivers the replies.
func (e *testEnv) drain() {
	e.rast.finishAll()
	e.mgr.CheckForCompletedTasks()
}

// queuedIDs returns the tile IDs of the last scheduled task queue.
func (e *testEnv) queuedIDs() []TileID {
	var ids []TileID
	for _, task := range e.rast.lastQueue() {
		ids = append(ids, TileID(task.Input().TileID))
	}
	return ids
}

// checkBudget fails the test when held memory exceeds limit.
func (e *testEnv) checkBudget(limit uint64) {
	e.t.Helper()
	if got := e.mgr.Stats().BytesAllocated; got > limit {
		e.t.Errorf("BytesAllocated = %d, want <= %d", got, limit)
	}
	if got := e.pool.TotalBytesUsed(); got != e.mgr.Stats().BytesAllocated {
		e.t.Errorf("pool TotalBytesUsed() = %d, manager accounts %d", got, e.mgr.Stats().BytesAllocated)
	}
}
