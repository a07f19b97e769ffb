package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/tiles"
	"github.com/gogpu/tiles/raster"
	"github.com/gogpu/tiles/resource"
)

// settleTimeout bounds how long Run waits for raster work after the last
// frame.
const settleTimeout = 30 * time.Second

// errSettleTimeout is returned when raster work does not drain in time.
var errSettleTimeout = errors.New("tilesim: raster work did not drain")

// RunStats summarizes a simulation run.
type RunStats struct {
	Frames          int           `yaml:"frames"`
	VisibleUpdates  int           `yaml:"visible_updates"`
	CheckerboardMax int           `yaml:"checkerboard_max"`
	PeakBytes       uint64        `yaml:"peak_bytes"`
	Elapsed         time.Duration `yaml:"elapsed"`
}

// Simulation drives a scene through the tile manager, one frame at a time.
type Simulation struct {
	cfg   *Config
	state tiles.GlobalState

	pool  *resource.Pool
	rast  *raster.WorkerRasterizer
	mgr   *tiles.Manager
	scene *Scene

	stats RunStats
	log   *slog.Logger
}

// NewSimulation builds the layers, the resource pool, the rasterizer and
// the manager a scenario describes.
func NewSimulation(cfg *Config, log *slog.Logger) (*Simulation, error) {
	state, err := cfg.GlobalState()
	if err != nil {
		return nil, err
	}

	viewport := image.Pt(cfg.Viewport.Width, cfg.Viewport.Height)
	layers := make([]*Layer, 0, len(cfg.Layers))
	for i, lc := range cfg.Layers {
		var img []byte
		if lc.Image != "" {
			img, err = os.ReadFile(cfg.imagePath(lc.Image))
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", lc.Name, err)
			}
		}
		l, err := NewLayer(i, lc, viewport, cfg.FrameInterval(), img)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}

	// The pool's hard limit only guards against runaway allocation; the
	// manager keeps usage within the budget.
	hard := uint64(resource.DefaultHardLimitBytes)
	hard = max(hard, 2*state.MemoryLimitBytes)

	s := &Simulation{
		cfg:   cfg,
		state: state,
		pool:  resource.NewPool(resource.Config{HardLimitBytes: hard}),
		rast:  raster.NewWorkerRasterizer(cfg.Workers),
		scene: NewScene(layers),
		log:   log,
	}
	s.mgr = tiles.NewManager(s.scene, s.pool, s.rast,
		tiles.WithLogger(log),
		tiles.WithSolidColorAnalysis(true),
	)
	s.scene.Attach(s.mgr)
	return s, nil
}

// Manager returns the simulation's tile manager.
func (s *Simulation) Manager() *tiles.Manager { return s.mgr }

// Scene returns the simulated scene.
func (s *Simulation) Scene() *Scene { return s.scene }

// Pool returns the resource pool.
func (s *Simulation) Pool() *resource.Pool { return s.pool }

// Stats returns the run summary.
func (s *Simulation) Stats() RunStats { return s.stats }

// Run simulates frames frames and then waits for outstanding raster work.
func (s *Simulation) Run(ctx context.Context, frames int) error {
	start := time.Now()
	defer func() { s.stats.Elapsed = time.Since(start) }()

	ticker := time.NewTicker(max(s.cfg.FrameInterval(), time.Millisecond))
	defer ticker.Stop()

	for frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if frame > 0 {
			s.scene.Scroll()
		}
		s.scene.Commit(frame)
		s.mgr.ManageTiles(s.state)
		s.scene.ActivateIfReady()
		s.observe()

		if err := s.waitFrame(ctx, ticker.C); err != nil {
			return err
		}
		if s.mgr.UpdateVisibleTiles() {
			s.stats.VisibleUpdates++
		}
		s.stats.Frames++

		if frame%30 == 0 {
			s.log.Info("tilesim: frame",
				"frame", frame,
				"memory", s.mgr.Stats(),
				"tasks", s.mgr.TasksInFlight(),
			)
		}
	}
	return s.settle(ctx)
}

// waitFrame processes completions until the next frame tick.
func (s *Simulation) waitFrame(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.rast.Ready():
			s.mgr.CheckForCompletedTasks()
			s.scene.ActivateIfReady()
			s.observe()
		case <-tick:
			return nil
		}
	}
}

// settle runs passes until no raster work is outstanding.
func (s *Simulation) settle(ctx context.Context) error {
	timeout := time.NewTimer(settleTimeout)
	defer timeout.Stop()

	for {
		s.mgr.ManageTiles(s.state)
		s.scene.ActivateIfReady()
		s.observe()
		if s.mgr.TasksInFlight() == 0 && s.rast.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w: %d tasks in flight", errSettleTimeout, s.mgr.TasksInFlight())
		case <-s.rast.Ready():
			s.mgr.CheckForCompletedTasks()
		}
	}
}

// observe records peak memory and how many visible cells have nothing to
// draw.
func (s *Simulation) observe() {
	s.stats.PeakBytes = max(s.stats.PeakBytes, s.mgr.Stats().BytesAllocated)

	missing := 0
	for _, l := range s.scene.Layers() {
		cols, rows := l.Grid()
		for row := range rows {
			for col := range cols {
				cell := image.Pt(col, row)
				if !l.cellRect(cell).Overlaps(l.Viewport()) {
					continue
				}
				if t, ok := l.drawTile(cell); !ok || !t.IsReadyToDraw() {
					missing++
				}
			}
		}
	}
	s.stats.CheckerboardMax = max(s.stats.CheckerboardMax, missing)
}

// Close releases the scene, the manager, the rasterizer and the pool.
func (s *Simulation) Close() {
	s.scene.Close()
	s.mgr.Close()
	s.rast.Shutdown()
	s.pool.Close()
}
