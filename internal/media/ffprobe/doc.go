// Package ffprobe wraps the ffprobe command-line tool for media inspection,
// primarily container duration probing.
package ffprobe
