package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	VideoSourceDir string `toml:"video_source_dir"`
	ImageOutputDir string `toml:"image_output_dir"`
	DataDir        string `toml:"data_dir"`
	LogDir         string `toml:"log_dir"`
	APIBind        string `toml:"api_bind"`
}

// Frames contains configuration for frame generation and serving.
type Frames struct {
	OutputExtension           string   `toml:"output_extension"`
	RequiredStandardDeviation float64  `toml:"required_standard_deviation"`
	GenMaxAttempts            int      `toml:"gen_max_attempts"`
	PregenCount               int      `toml:"pregen_count"`
	GenMaxParallelism         int      `toml:"gen_max_parallelism"`
	ServeTimeoutSeconds       int      `toml:"serve_timeout_seconds"`
	WaitForReady              bool     `toml:"wait_for_ready"`
	FfmpegImageArgs           []string `toml:"ffmpeg_image_args"`
}

// Episodes contains configuration for episode metadata and video discovery.
type Episodes struct {
	DataPath          string   `toml:"data_path"`
	AllowMissing      bool     `toml:"allow_missing"`
	SearchRecursively bool     `toml:"search_recursively"`
	ProbeConcurrency  int      `toml:"probe_concurrency"`
	VideoExtensions   []string `toml:"video_extensions"`
}

// TTL contains expiry configuration for the keyed stores.
type TTL struct {
	FrameExpirySeconds     int `toml:"frame_expiry_seconds"`
	AnswerExpirySeconds    int `toml:"answer_expiry_seconds"`
	RunExpirySeconds       int `toml:"run_expiry_seconds"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`
}

// RunVerification contains configuration for run tracking and archival.
type RunVerification struct {
	RetentionThreshold int    `toml:"retention_threshold"`
	SigningKeyPath     string `toml:"signing_key_path"`
}

// DurationCache contains configuration for the probed-duration cache.
type DurationCache struct {
	Enabled bool `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the frame randomizer.
//
// Configuration sections by subsystem:
//   - Paths: video source, generated image output, store data, logs, API bind
//   - Frames: generation quality gate, retry budget, pregeneration pool sizing
//   - Episodes: episode metadata file and startup duration probing
//   - TTL: expiry policy for frame, answer, and run stores plus sweep interval
//   - RunVerification: guess-run retention threshold and signing key
//   - DurationCache: probed-duration persistence toggle
//   - Logging: log format and level
type Config struct {
	InstanceName  string `toml:"instance_name"`
	UUIDNamespace string `toml:"uuid_namespace"`

	Paths           Paths           `toml:"paths"`
	Frames          Frames          `toml:"frames"`
	Episodes        Episodes        `toml:"episodes"`
	TTL             TTL             `toml:"ttl"`
	RunVerification RunVerification `toml:"run_verification"`
	DurationCache   DurationCache   `toml:"duration_cache"`
	Logging         Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/framer/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("framer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ImageOutputDir, c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for frame extraction.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for duration probing.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FrameTTL returns the expiry applied to generated-but-unserved frames.
func (c *Config) FrameTTL() time.Duration {
	return time.Duration(c.TTL.FrameExpirySeconds) * time.Second
}

// AnswerTTL returns the expiry applied to an answer once its frame is served.
func (c *Config) AnswerTTL() time.Duration {
	return time.Duration(c.TTL.AnswerExpirySeconds) * time.Second
}

// RunTTL returns the idle expiry applied to run verification state.
func (c *Config) RunTTL() time.Duration {
	return time.Duration(c.TTL.RunExpirySeconds) * time.Second
}

// CleanupInterval returns the period between sweeper passes.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.TTL.CleanupIntervalSeconds) * time.Second
}

// ServeTimeout returns how long a blocking serve call may wait for a ready frame.
func (c *Config) ServeTimeout() time.Duration {
	return time.Duration(c.Frames.ServeTimeoutSeconds) * time.Second
}

// StoreDBPath returns the location of the SQLite file backing the keyed stores.
func (c *Config) StoreDBPath() string {
	return filepath.Join(c.Paths.DataDir, "framer.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
