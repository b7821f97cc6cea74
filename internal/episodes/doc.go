// Package episodes supplies the episode metadata the generator draws from:
// loading the data file, resolving video files, and probing durations at
// startup.
//
// Filename-to-episode parsing is deliberately not implemented here; the data
// file carries explicit season/episode numbers and the Source interface keeps
// alternative loaders pluggable.
package episodes
