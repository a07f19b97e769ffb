package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/gogpu/tiles"
)

type Config struct {
	Frames          int `hcl:"frames,optional" yaml:"frames"`
	Workers         int `hcl:"workers,optional" yaml:"workers"`
	FrameIntervalMs int `hcl:"frame_interval_ms,optional" yaml:"frame_interval_ms"`

	Viewport *ViewportConfigBlock `hcl:"viewport,block" yaml:"viewport"`
	Budget   *BudgetConfigBlock   `hcl:"budget,block" yaml:"budget"`
	Layers   []*LayerConfigBlock  `hcl:"layer,block" yaml:"layers"`

	// dir is the directory of the scenario file; image paths are relative
	// to it.
	dir string
}

type ViewportConfigBlock struct {
	Width  int `hcl:"width" yaml:"width"`
	Height int `hcl:"height" yaml:"height"`
}

type BudgetConfigBlock struct {
	MemoryLimit       int64  `hcl:"memory_limit" yaml:"memory_limit"`
	NumResourcesLimit int    `hcl:"num_resources_limit,optional" yaml:"num_resources_limit"`
	TreePriority      string `hcl:"tree_priority,optional" yaml:"tree_priority"`
	Policy            string `hcl:"policy,optional" yaml:"policy"`
}

type LayerConfigBlock struct {
	Name           string  `hcl:"name,label" yaml:"name"`
	Width          int     `hcl:"width,optional" yaml:"width"`
	Height         int     `hcl:"height,optional" yaml:"height"`
	Image          string  `hcl:"image,optional" yaml:"image,omitempty"`
	TileSize       int     `hcl:"tile_size,optional" yaml:"tile_size"`
	ContentsScale  float64 `hcl:"contents_scale,optional" yaml:"contents_scale"`
	ScrollPerFrame int     `hcl:"scroll_per_frame,optional" yaml:"scroll_per_frame"`
	CommitEvery    int     `hcl:"commit_every,optional" yaml:"commit_every"`
	DamageRows     int     `hcl:"damage_rows,optional" yaml:"damage_rows"`
	Colors         int     `hcl:"colors,optional" yaml:"colors"`
	BandHeight     int     `hcl:"band_height,optional" yaml:"band_height"`
	LowQuality     bool    `hcl:"low_quality,optional" yaml:"low_quality"`
	Analysis       bool    `hcl:"analysis,optional" yaml:"analysis"`
}

// Scenario defaults.
const (
	defaultFrames          = 120
	defaultFrameIntervalMs = 16
	defaultViewportWidth   = 1024
	defaultViewportHeight  = 768
	defaultTileSize        = 256
	defaultColors          = 6
	defaultTreePriority    = "same"
	defaultPolicy          = "anything"
)

func newHCLEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"KiB": cty.NumberIntVal(1 << 10),
			"MiB": cty.NumberIntVal(1 << 20),
			"GiB": cty.NumberIntVal(1 << 30),
		},
		Functions: map[string]function.Function{
			"min": stdlib.MinFunc,
			"max": stdlib.MaxFunc,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	var cfg Config
	evalCtx := newHCLEvalContext()
	err := hclsimple.DecodeFile(path, evalCtx, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Frames == 0 {
		c.Frames = defaultFrames
	}
	if c.FrameIntervalMs == 0 {
		c.FrameIntervalMs = defaultFrameIntervalMs
	}
	if c.Viewport == nil {
		c.Viewport = &ViewportConfigBlock{Width: defaultViewportWidth, Height: defaultViewportHeight}
	}
	if c.Budget != nil {
		if c.Budget.TreePriority == "" {
			c.Budget.TreePriority = defaultTreePriority
		}
		if c.Budget.Policy == "" {
			c.Budget.Policy = defaultPolicy
		}
	}
	for _, l := range c.Layers {
		if l.TileSize == 0 {
			l.TileSize = defaultTileSize
		}
		if l.ContentsScale == 0 {
			l.ContentsScale = 1
		}
		if l.Colors == 0 {
			l.Colors = defaultColors
		}
		if l.BandHeight == 0 {
			l.BandHeight = 3 * l.TileSize / 2
		}
	}
}

// Validate reports every problem in the scenario at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames must not be negative, got %d", c.Frames))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.FrameIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("frame_interval_ms must not be negative, got %d", c.FrameIntervalMs))
	}
	if c.Viewport != nil && (c.Viewport.Width <= 0 || c.Viewport.Height <= 0) {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", c.Viewport.Width, c.Viewport.Height))
	}
	if c.Budget == nil {
		errs = append(errs, errors.New("missing budget block"))
	} else if _, err := c.GlobalState(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Layers) == 0 {
		errs = append(errs, errors.New("at least one layer block is required"))
	}

	names := make(map[string]bool)
	for _, l := range c.Layers {
		if names[l.Name] {
			errs = append(errs, fmt.Errorf("layer %q: duplicate name", l.Name))
		}
		names[l.Name] = true
		if l.Image == "" && (l.Width <= 0 || l.Height <= 0) {
			errs = append(errs, fmt.Errorf("layer %q: width and height are required without an image", l.Name))
		}
		if l.TileSize <= 0 {
			errs = append(errs, fmt.Errorf("layer %q: tile_size must be positive", l.Name))
		}
		if l.ContentsScale <= 0 {
			errs = append(errs, fmt.Errorf("layer %q: contents_scale must be positive", l.Name))
		}
		if l.Colors <= 0 || l.BandHeight <= 0 {
			errs = append(errs, fmt.Errorf("layer %q: colors and band_height must be positive", l.Name))
		}
		if l.CommitEvery < 0 || l.DamageRows < 0 {
			errs = append(errs, fmt.Errorf("layer %q: commit_every and damage_rows must not be negative", l.Name))
		}
	}
	return errors.Join(errs...)
}

// GlobalState returns the manager state the budget block describes.
func (c *Config) GlobalState() (tiles.GlobalState, error) {
	b := c.Budget
	if b.MemoryLimit < 0 {
		return tiles.GlobalState{}, fmt.Errorf("budget: memory_limit must not be negative, got %d", b.MemoryLimit)
	}
	if b.NumResourcesLimit < 0 {
		return tiles.GlobalState{}, fmt.Errorf("budget: num_resources_limit must not be negative, got %d", b.NumResourcesLimit)
	}

	state := tiles.GlobalState{
		MemoryLimitBytes:  uint64(b.MemoryLimit),
		NumResourcesLimit: b.NumResourcesLimit,
	}
	if err := state.TreePriority.UnmarshalText([]byte(b.TreePriority)); err != nil {
		return tiles.GlobalState{}, fmt.Errorf("budget: %w", err)
	}
	if err := state.MemoryLimitPolicy.UnmarshalText([]byte(b.Policy)); err != nil {
		return tiles.GlobalState{}, fmt.Errorf("budget: %w", err)
	}
	return state, nil
}

// FrameInterval returns the simulated frame duration.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

// imagePath resolves a layer image relative to the scenario file.
func (c *Config) imagePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}
