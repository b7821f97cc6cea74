// Package sweep runs the periodic eviction pass over the frame, answer,
// and run stores, deletes expired image files, and reclaims orphaned
// output files.
package sweep
