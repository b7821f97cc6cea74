// Command framerd runs the frame randomizer daemon: episode probing, the
// pregeneration pool, expiry sweeping, and the HTTP API.
package main
