// Command framer is the operator CLI for the frame randomizer daemon:
// configuration management, daemon status, duration probing, and archived
// run verification.
package main
