package main

import (
	"github.com/gogpu/tiles"
)

// SceneStats counts client notifications.
type SceneStats struct {
	Commits           int `yaml:"commits"`
	Activations       int `yaml:"activations"`
	ReadyToDraw       int `yaml:"ready_to_draw"`
	TileStateChanges  int `yaml:"tile_state_changes"`
	ForcedActivations int `yaml:"forced_activations"`
}

// Scene is the tile manager's client. It owns every layer, commits them
// together and activates their pending trees together.
type Scene struct {
	layers []*Layer
	mgr    *tiles.Manager
	stats  SceneStats
}

var (
	_ tiles.Client              = (*Scene)(nil)
	_ tiles.ReadyToDrawNotifier = (*Scene)(nil)
)

// NewScene creates a scene over layers. Attach must be called before the
// scene is used.
func NewScene(layers []*Layer) *Scene {
	return &Scene{layers: layers}
}

// Attach binds the scene and its layers to the manager that calls it.
func (s *Scene) Attach(mgr *tiles.Manager) {
	s.mgr = mgr
	for _, l := range s.layers {
		l.attach(mgr)
	}
}

// Layers returns the scene's layers.
func (s *Scene) Layers() []*Layer { return s.layers }

// Stats returns notification counters.
func (s *Scene) Stats() SceneStats { return s.stats }

// Commit commits every layer whose commit interval divides frame. Frame 0
// commits every layer.
func (s *Scene) Commit(frame int) {
	for _, l := range s.layers {
		if frame == 0 || (l.cfg.CommitEvery > 0 && frame%l.cfg.CommitEvery == 0) {
			l.Commit()
			s.stats.Commits++
		}
	}
}

// Scroll advances every layer's viewport by one frame.
func (s *Scene) Scroll() {
	for _, l := range s.layers {
		l.Scroll()
	}
}

func (s *Scene) hasPending() bool {
	for _, l := range s.layers {
		if l.pending != nil {
			return true
		}
	}
	return false
}

func (s *Scene) activate() bool {
	activated := false
	for _, l := range s.layers {
		if l.activate() {
			activated = true
		}
	}
	return activated
}

// ActivateIfReady activates pending trees that are ready without an
// edge notification, which happens when every required tile was shared
// with the active tree and already drawable.
func (s *Scene) ActivateIfReady() bool {
	if !s.hasPending() || !s.mgr.IsReadyToActivate() {
		return false
	}
	if s.activate() {
		s.stats.ForcedActivations++
		return true
	}
	return false
}

// NotifyReadyToActivate implements tiles.Client.
func (s *Scene) NotifyReadyToActivate() {
	if s.activate() {
		s.stats.Activations++
	}
}

// NotifyTileStateChanged implements tiles.Client.
func (s *Scene) NotifyTileStateChanged(*tiles.Tile) { s.stats.TileStateChanges++ }

// NotifyReadyToDraw implements tiles.ReadyToDrawNotifier.
func (s *Scene) NotifyReadyToDraw() { s.stats.ReadyToDraw++ }

// BuildRasterQueue implements tiles.Client.
func (s *Scene) BuildRasterQueue(q *tiles.RasterQueue, _ tiles.TreePriority) {
	for _, l := range s.layers {
		l.buildRasterQueue(q)
	}
}

// BuildEvictionQueue implements tiles.Client.
func (s *Scene) BuildEvictionQueue(q *tiles.EvictionQueue, _ tiles.TreePriority) {
	for _, l := range s.layers {
		l.buildEvictionQueue(q)
	}
}

// Close releases every layer's tiles.
func (s *Scene) Close() {
	for _, l := range s.layers {
		l.Close()
	}
}
