// Package durations caches probed video durations so restarts do not re-run
// ffprobe over an unchanged library.
package durations
