package tiles

// Client is the layer tree collaborator of a Manager. Priority computation
// is pulled through it: the manager asks for queues every pass instead of
// being told about priority changes.
//
// Every method is called on the goroutine that owns the Manager. A client
// may call ReleaseTile from any callback; cleanup is deferred to the next
// pass.
type Client interface {
	// NotifyReadyToActivate is called once each time every tile marked
	// required for activation becomes ready to draw.
	NotifyReadyToActivate()

	// NotifyTileStateChanged is called whenever a tile's drawable content
	// may have changed: a version was rasterized, evicted or failed.
	NotifyTileStateChanged(t *Tile)

	// BuildRasterQueue sets each tile's priorities for this pass and pushes
	// the tiles that may need raster. The manager builds the queue with
	// tree after the call returns.
	BuildRasterQueue(q *RasterQueue, tree TreePriority)

	// BuildEvictionQueue pushes the tiles that hold resources. It is only
	// called in passes that need to evict.
	BuildEvictionQueue(q *EvictionQueue, tree TreePriority)
}

// ReadyToDrawNotifier is an optional Client extension. NotifyReadyToDraw
// is called once each time every tile in BinRequiredForDraw becomes ready
// to draw.
type ReadyToDrawNotifier interface {
	NotifyReadyToDraw()
}
