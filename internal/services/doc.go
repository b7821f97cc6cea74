// Package services defines the shared error taxonomy for pipeline components
// and hosts clients for the external tools the daemon spawns.
package services
