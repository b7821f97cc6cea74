package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFrames()
	if err := c.normalizeEpisodes(); err != nil {
		return err
	}
	c.normalizeTTL()
	if err := c.normalizeRunVerification(); err != nil {
		return err
	}
	c.normalizeLogging()

	c.InstanceName = strings.TrimSpace(c.InstanceName)
	if c.InstanceName == "" {
		c.InstanceName = defaultInstanceName
	}
	c.UUIDNamespace = strings.TrimSpace(c.UUIDNamespace)
	if c.UUIDNamespace == "" {
		c.UUIDNamespace = defaultUUIDNamespace
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.VideoSourceDir, err = expandPath(c.Paths.VideoSourceDir); err != nil {
		return fmt.Errorf("paths.video_source_dir: %w", err)
	}
	if c.Paths.ImageOutputDir, err = expandPath(c.Paths.ImageOutputDir); err != nil {
		return fmt.Errorf("paths.image_output_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeFrames() {
	c.Frames.OutputExtension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Frames.OutputExtension)), ".")
	if c.Frames.OutputExtension == "" {
		c.Frames.OutputExtension = defaultOutputExtension
	}
	if c.Frames.GenMaxAttempts <= 0 {
		c.Frames.GenMaxAttempts = defaultGenMaxAttempts
	}
	if c.Frames.PregenCount <= 0 {
		c.Frames.PregenCount = defaultPregenCount
	}
	if c.Frames.GenMaxParallelism <= 0 {
		c.Frames.GenMaxParallelism = defaultGenMaxParallelism
	}
	if c.Frames.ServeTimeoutSeconds <= 0 {
		c.Frames.ServeTimeoutSeconds = defaultServeTimeout
	}
	if c.Frames.RequiredStandardDeviation < 0 {
		c.Frames.RequiredStandardDeviation = 0
	}
}

func (c *Config) normalizeEpisodes() error {
	var err error
	if c.Episodes.DataPath != "" {
		if c.Episodes.DataPath, err = expandPath(c.Episodes.DataPath); err != nil {
			return fmt.Errorf("episodes.data_path: %w", err)
		}
	}
	if c.Episodes.ProbeConcurrency < 0 {
		c.Episodes.ProbeConcurrency = 0
	}
	if len(c.Episodes.VideoExtensions) == 0 {
		c.Episodes.VideoExtensions = defaultVideoExtensions()
	} else {
		exts := make([]string, 0, len(c.Episodes.VideoExtensions))
		for _, ext := range c.Episodes.VideoExtensions {
			cleaned := strings.ToLower(strings.TrimSpace(ext))
			if cleaned == "" {
				continue
			}
			if !strings.HasPrefix(cleaned, ".") {
				cleaned = "." + cleaned
			}
			exts = append(exts, cleaned)
		}
		if len(exts) == 0 {
			exts = defaultVideoExtensions()
		}
		c.Episodes.VideoExtensions = exts
	}
	return nil
}

func (c *Config) normalizeTTL() {
	if c.TTL.FrameExpirySeconds <= 0 {
		c.TTL.FrameExpirySeconds = defaultFrameExpiry
	}
	if c.TTL.AnswerExpirySeconds <= 0 {
		c.TTL.AnswerExpirySeconds = defaultAnswerExpiry
	}
	if c.TTL.RunExpirySeconds <= 0 {
		c.TTL.RunExpirySeconds = defaultRunExpiry
	}
	if c.TTL.CleanupIntervalSeconds <= 0 {
		c.TTL.CleanupIntervalSeconds = defaultCleanupInterval
	}
}

func (c *Config) normalizeRunVerification() error {
	var err error
	if c.RunVerification.RetentionThreshold <= 0 {
		c.RunVerification.RetentionThreshold = defaultRetentionThreshold
	}
	if c.RunVerification.SigningKeyPath != "" {
		if c.RunVerification.SigningKeyPath, err = expandPath(c.RunVerification.SigningKeyPath); err != nil {
			return fmt.Errorf("run_verification.signing_key_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
