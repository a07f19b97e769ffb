// Package tiles schedules tile rasterization under a GPU memory budget.
//
// # Overview
//
// A tiled compositor splits every layer into fixed-size tiles. Each frame
// the layer tree decides how urgent every tile is; tiles decides which of
// them get memory, which get evicted to make room, and which are sent to a
// pool of raster workers. It never draws anything itself: pixels come from
// an opaque [raster.PictureSource] and land in buffers handed out by a
// [resource.Pool].
//
// # Quick Start
//
//	pool := resource.NewPool(resource.Config{})
//	rast := raster.NewWorkerRasterizer(0)
//	mgr := tiles.NewManager(layerTree, pool, rast)
//	defer mgr.Close()
//
//	h := mgr.CreateTile(tiles.TileParams{
//	    Source:        raster.NewImageSource(img),
//	    Size:          image.Pt(256, 256),
//	    ContentRect:   image.Rect(0, 0, 256, 256),
//	    ContentsScale: 1,
//	})
//
//	// Once per frame:
//	mgr.ManageTiles(tiles.GlobalState{
//	    MemoryLimitBytes: 64 << 20,
//	    TreePriority:     tiles.SmoothnessTakesPriority,
//	})
//
//	// Whenever rast.Ready() fires:
//	mgr.CheckForCompletedTasks()
//
// # Scheduling
//
// Priorities are pulled, not pushed: every pass the [Client] fills a
// [RasterQueue] and, when memory is short, an [EvictionQueue]. Both walk
// the same total order in opposite directions:
//
//  1. bin ([BinRequiredForActivation] first, [BinNever] last),
//  2. distance to the viewport in the favored tree, then the other tree,
//  3. ascending tile ID.
//
// A tile only evicts tiles in a strictly lower bin, and only when the
// eviction frees enough room, so assignment and eviction never thrash.
//
// # Threading
//
// A Manager is owned by one goroutine. Raster tasks run on worker
// goroutines but their completions are delivered through
// [Manager.CheckForCompletedTasks] on the owner goroutine, so no Tile or
// pool state is ever shared.
package tiles
