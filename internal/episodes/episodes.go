package episodes

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// Episode ties a season/episode answer to a playable video file.
type Episode struct {
	Season      int     `json:"season"`
	Episode     int     `json:"episode"`
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	DurationSec float64 `json:"duration_sec"`
}

// Key returns the canonical s01e02-style identifier.
func (e Episode) Key() string {
	return fmt.Sprintf("s%02de%02d", e.Season, e.Episode)
}

// Source supplies episode metadata. Loading and filename parsing live behind
// this interface; the pipeline only consumes the resolved episodes.
type Source interface {
	Episodes(ctx context.Context) ([]Episode, error)
}

// Index holds the playable episode set and answers random picks.
type Index struct {
	mu       sync.RWMutex
	episodes []Episode
	rng      *rand.Rand
}

// NewIndex builds an index over episodes with playable durations.
func NewIndex(episodes []Episode, rng *rand.Rand) (*Index, error) {
	playable := make([]Episode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.DurationSec > 0 && ep.Path != "" {
			playable = append(playable, ep)
		}
	}
	if len(playable) == 0 {
		return nil, errors.New("episodes: no playable episodes")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Index{episodes: playable, rng: rng}, nil
}

// Len returns the number of playable episodes.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.episodes)
}

// Random returns a uniformly chosen episode.
func (i *Index) Random() Episode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.episodes[i.rng.Intn(len(i.episodes))]
}

// All returns a copy of the playable episode list.
func (i *Index) All() []Episode {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Episode, len(i.episodes))
	copy(out, i.episodes)
	return out
}
