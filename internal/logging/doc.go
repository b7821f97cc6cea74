// Package logging assembles structured slog loggers and formatting helpers
// used across the frame randomizer.
//
// It owns the configurable console/JSON handlers, centralizes level and
// output plumbing, and supplies component loggers so pipeline code tags log
// lines consistently with frame and run identifiers. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
