// Package pregen maintains the warm pool of extracted frames so serving a
// frame never waits on ffmpeg in the common case.
package pregen
