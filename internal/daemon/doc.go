// Package daemon wires the frame pipeline together: it enforces
// single-instance execution, supervises the pregeneration pool and cleanup
// sweeper, and exposes the HTTP API for serving frames and checking guesses.
package daemon
