package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateFrames(); err != nil {
		return err
	}
	if err := c.validateTTL(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if _, err := uuid.Parse(c.UUIDNamespace); err != nil {
		return fmt.Errorf("uuid_namespace %q is not a valid UUID: %w", c.UUIDNamespace, err)
	}
	if strings.TrimSpace(c.Paths.VideoSourceDir) == "" {
		return errors.New("paths.video_source_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ImageOutputDir) == "" {
		return errors.New("paths.image_output_dir must be set")
	}
	return nil
}

func (c *Config) validateFrames() error {
	switch c.Frames.OutputExtension {
	case "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("frames.output_extension %q is unsupported (use png, jpg, or jpeg)", c.Frames.OutputExtension)
	}
	if err := ensurePositiveMap(map[string]int{
		"frames.gen_max_attempts":      c.Frames.GenMaxAttempts,
		"frames.pregen_count":          c.Frames.PregenCount,
		"frames.gen_max_parallelism":   c.Frames.GenMaxParallelism,
		"frames.serve_timeout_seconds": c.Frames.ServeTimeoutSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTTL() error {
	return ensurePositiveMap(map[string]int{
		"ttl.frame_expiry_seconds":           c.TTL.FrameExpirySeconds,
		"ttl.answer_expiry_seconds":          c.TTL.AnswerExpirySeconds,
		"ttl.run_expiry_seconds":             c.TTL.RunExpirySeconds,
		"ttl.cleanup_interval_seconds":       c.TTL.CleanupIntervalSeconds,
		"run_verification.retention_threshold": c.RunVerification.RetentionThreshold,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
