package raster

import "fmt"

// Mode is a raster quality mode. Each tile keeps one version per mode.
type Mode int

// Raster modes, best quality first.
const (
	// ModeHighQuality rasterizes with a high-quality filter.
	ModeHighQuality Mode = iota

	// ModeLowQuality rasterizes with a cheap filter, used while scrolling
	// fast or for tiles flagged for low-quality raster.
	ModeLowQuality

	// NumModes is the number of raster modes.
	NumModes
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeHighQuality:
		return "HighQuality"
	case ModeLowQuality:
		return "LowQuality"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}
