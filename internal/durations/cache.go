package durations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
)

// Entry represents a cached probe result for one video file.
type Entry struct {
	Path        string    `json:"path"`
	DurationSec float64   `json:"duration_sec"`
	ProbedAt    time.Time `json:"probed_at"`
}

// Prober resolves a video file path to its duration in seconds.
type Prober func(ctx context.Context, path string) (float64, error)

// Backing is the persistence surface the cache needs. Satisfied by
// *kvstore.Store[Entry].
type Backing interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value Entry, ttl time.Duration) error
}

// Cache answers duration probes, remembering results across restarts so
// unchanged video files are probed exactly once. When disabled the backing
// store is fully bypassed: no reads, no writes.
type Cache struct {
	enabled bool
	store   Backing
	probe   Prober
	logger  *slog.Logger
	clock   func() time.Time
}

// New constructs a duration cache. A nil store or enabled=false yields a
// pass-through cache that always probes.
func New(enabled bool, store Backing, probe Prober, logger *slog.Logger) (*Cache, error) {
	if probe == nil {
		return nil, errors.New("durations: prober required")
	}
	if store == nil {
		enabled = false
	}
	return &Cache{
		enabled: enabled,
		store:   store,
		probe:   probe,
		logger:  logging.NewComponentLogger(logger, "durations"),
		clock:   time.Now,
	}, nil
}

// Enabled reports whether probe results are persisted.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Probe returns the duration for path, consulting the cache first when
// enabled. Probe failures surface as per-path errors; the caller decides
// whether the episode is skippable.
func (c *Cache) Probe(ctx context.Context, path string) (float64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("durations: empty path")
	}

	if c.enabled {
		entry, found, err := c.store.Get(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("duration cache read: %w", err)
		}
		if found {
			c.logger.Debug("duration cache hit",
				logging.String("path", path),
				logging.Float64("duration_sec", entry.DurationSec))
			return entry.DurationSec, nil
		}
	}

	duration, err := c.probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	if math.IsNaN(duration) {
		return 0, fmt.Errorf("probe %s: no duration reported", path)
	}

	if c.enabled {
		entry := Entry{Path: path, DurationSec: duration, ProbedAt: c.clock().UTC()}
		// Durations never expire; the cache is trusted until manually cleared.
		if err := c.store.Set(ctx, path, entry, 0); err != nil {
			return 0, fmt.Errorf("duration cache write: %w", err)
		}
		c.logger.Debug("cached probed duration",
			logging.String("path", path),
			logging.Float64("duration_sec", duration))
	}

	return duration, nil
}
