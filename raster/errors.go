package raster

import (
	"errors"
	"fmt"
)

// Raster errors.
var (
	// ErrPermanent marks a failure that retrying will not fix. Tiles whose
	// raster fails permanently are not resubmitted.
	ErrPermanent = errors.New("raster: permanent failure")

	// ErrDecode is returned when an image the picture depends on cannot be
	// decoded. Decode failures are permanent.
	ErrDecode = errors.New("raster: image decode failed")

	// ErrUnsupportedFormat is returned when a resource cannot be viewed as
	// RGBA pixels.
	ErrUnsupportedFormat = errors.New("raster: unsupported resource format")

	// ErrPanic wraps a panic recovered while running a task.
	ErrPanic = errors.New("raster: task panicked")

	// ErrRasterizerClosed is returned for tasks scheduled after Shutdown.
	ErrRasterizerClosed = errors.New("raster: rasterizer closed")
)

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err is a failure that must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrUnsupportedFormat)
}
