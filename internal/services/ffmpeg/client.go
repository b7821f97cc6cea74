package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// Client defines single-frame extraction behaviour.
type Client interface {
	ExtractFrame(ctx context.Context, videoPath string, seekSeconds float64, outputPath string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithImageArgs appends extra encoder arguments to every extraction.
func WithImageArgs(args []string) Option {
	return func(c *CLI) {
		c.imageArgs = append([]string(nil), args...)
	}
}

// CLI wraps the ffmpeg command-line tool.
type CLI struct {
	binary    string
	imageArgs []string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// ExtractFrame decodes exactly one frame at the given timestamp and writes it
// to outputPath. The seek happens before input open, which is fast and
// accurate enough for keyframe-aligned sources.
func (c *CLI) ExtractFrame(ctx context.Context, videoPath string, seekSeconds float64, outputPath string) error {
	if videoPath == "" {
		return errors.New("video path required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}
	if seekSeconds < 0 {
		seekSeconds = 0
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(seekSeconds, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
	}
	args = append(args, c.imageArgs...)
	args = append(args, "-y", outputPath)

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("ffmpeg extract: %w: %s", err, detail)
		}
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	return nil
}

var _ Client = (*CLI)(nil)
