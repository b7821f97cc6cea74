// Package config loads, normalizes, and validates frame randomizer
// configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the daemon and CLI need: video source and image output directories, pool
// sizing, quality thresholds, store TTLs, and run archival settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
