package episodes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/DayBreakerBrony/frame-randomizer/internal/durations"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
)

// ProbeDurations fills in DurationSec for every episode through the duration
// cache, probing concurrently under the given limit (0 means unlimited).
// With allowMissing, episodes without a resolved video or with a failing
// probe are dropped with a warning; otherwise the first failure aborts.
func ProbeDurations(ctx context.Context, eps []Episode, cache *durations.Cache, limit int, allowMissing bool, logger *slog.Logger) ([]Episode, error) {
	logger = logging.NewComponentLogger(logger, "episodes")

	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	var mu sync.Mutex
	probed := make([]Episode, 0, len(eps))

	for _, ep := range eps {
		ep := ep
		if ep.Path == "" {
			if !allowMissing {
				return nil, fmt.Errorf("episode %s has no video file", ep.Key())
			}
			logger.Warn("skipping episode without video file",
				logging.String(logging.FieldEpisodeKey, ep.Key()),
				logging.String("name", ep.Name))
			continue
		}

		group.Go(func() error {
			duration, err := cache.Probe(groupCtx, ep.Path)
			if err != nil {
				if !allowMissing {
					return fmt.Errorf("episode %s: %w", ep.Key(), err)
				}
				logger.Warn("skipping unprobeable episode",
					logging.String(logging.FieldEpisodeKey, ep.Key()),
					logging.Error(err))
				return nil
			}
			if math.IsNaN(duration) || duration <= 0 {
				if !allowMissing {
					return fmt.Errorf("episode %s reports unusable duration %v", ep.Key(), duration)
				}
				logger.Warn("skipping episode without usable duration",
					logging.String(logging.FieldEpisodeKey, ep.Key()))
				return nil
			}
			ep.DurationSec = duration
			mu.Lock()
			probed = append(probed, ep)
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return probed, nil
}
