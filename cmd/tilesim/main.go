// Command tilesim drives the tile manager through a scrolling scenario
// described in HCL and reports how the memory budget was spent.
//
// Usage:
//
//	tilesim run --config scenario.hcl --png frame.png --dump state.yaml
//	tilesim check --config scenario.hcl
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/tiles"
)

func main() {
	app := &cli.App{
		Name:        "tilesim",
		Usage:       "simulate tile raster scheduling under a memory budget",
		Description: "scrolls tiled layers through a tile manager and reports memory use, evictions and checkerboarding",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run a scenario",
				Action: commandRun,
				Flags: []cli.Flag{
					configFlag(),
					&cli.IntFlag{
						Name:  "frames",
						Usage: "override the number of simulated frames",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "override the number of raster workers",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "log every pass at debug level",
					},
					&cli.BoolFlag{
						Name:  "map",
						Usage: "print the tile map after the run",
						Value: true,
					},
					&cli.PathFlag{
						Name:  "dump",
						Usage: "write the final manager state as YAML",
					},
					&cli.PathFlag{
						Name:  "png",
						Usage: "write the first layer's final viewport as PNG",
					},
				},
			},
			{
				Name:   "check",
				Usage:  "validate a scenario and print it with defaults applied",
				Action: commandCheck,
				Flags:  []cli.Flag{configFlag()},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func configFlag() cli.Flag {
	return &cli.PathFlag{
		Name:  "config",
		Usage: "path to the scenario file",
		Value: "scenario.hcl",
	}
}

func commandRun(ctx *cli.Context) error {
	cfg, err := LoadConfig(ctx.Path("config"))
	if err != nil {
		return err
	}
	if ctx.IsSet("frames") {
		cfg.Frames = ctx.Int("frames")
	}
	if ctx.IsSet("workers") {
		cfg.Workers = ctx.Int("workers")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	tiles.SetLogger(logger)

	sim, err := NewSimulation(cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()
	if err := sim.Run(runCtx, cfg.Frames); err != nil && runCtx.Err() == nil {
		return err
	}

	fmt.Println(RenderSummary(sim))
	if ctx.Bool("map") {
		fmt.Println(RenderMap(sim.Scene()))
		fmt.Println(legend())
	}
	if p := ctx.Path("png"); p != "" {
		if err := WritePNG(p, Composite(sim.Scene().Layers()[0])); err != nil {
			return err
		}
	}
	if p := ctx.Path("dump"); p != "" {
		if err := WriteDump(p, sim); err != nil {
			return err
		}
	}
	return nil
}

func commandCheck(ctx *cli.Context) error {
	cfg, err := LoadConfig(ctx.Path("config"))
	if err != nil {
		return err
	}
	state, err := cfg.GlobalState()
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(struct {
		Scenario *Config           `yaml:"scenario"`
		State    tiles.GlobalState `yaml:"global_state"`
	}{cfg, state})
}
