package tiles

import "log/slog"

// Option configures a Manager during creation.
// Use functional options to customize Manager behavior.
//
// Example:
//
//	// Defaults: package logger, no invariant checks, per-tile analysis
//	mgr := tiles.NewManager(client, pool, rast)
//
//	// Debug build: panic on invariant violations, analyze every tile
//	mgr := tiles.NewManager(client, pool, rast,
//	    tiles.WithAssertions(true),
//	    tiles.WithSolidColorAnalysis(true))
type Option func(*managerOptions)

// managerOptions holds optional configuration for Manager creation.
type managerOptions struct {
	logger     *slog.Logger
	assertions bool
	analysis   bool
}

// defaultOptions returns the default manager options.
func defaultOptions() managerOptions {
	return managerOptions{
		logger:     nil, // Falls back to Logger() on every call
		assertions: false,
		analysis:   false,
	}
}

// WithLogger sets a logger for one Manager, overriding the package logger
// set with SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithAssertions enables internal invariant checks. A failed check is a
// logic defect in the manager and panics. Intended for tests and debug
// builds; the checks walk every tile after each pass.
func WithAssertions(enabled bool) Option {
	return func(o *managerOptions) {
		o.assertions = enabled
	}
}

// WithSolidColorAnalysis enables solid-color detection for every tile.
// Without it, only tiles created with FlagUsePictureAnalysis are analyzed.
//
// A tile whose content is one color is drawn from that color and its
// resource is returned to the pool immediately.
func WithSolidColorAnalysis(enabled bool) Option {
	return func(o *managerOptions) {
		o.analysis = enabled
	}
}
