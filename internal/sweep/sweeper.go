package sweep

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/pregen"
	"github.com/DayBreakerBrony/frame-randomizer/internal/runverify"
)

// Forgetter lets the sweeper tell the pool a frame id no longer exists so
// the pool can replenish.
type Forgetter interface {
	Forget(id string)
}

// Retirer finalizes an expired run as it leaves the live store.
type Retirer interface {
	Retire(ctx context.Context, runID string, state runverify.RunState) error
}

// Options times the sweeper and locates generated image files.
type Options struct {
	Interval        time.Duration
	FrameTTL        time.Duration
	OutputDir       string
	OutputExtension string
}

// Summary counts what one sweep pass removed.
type Summary struct {
	Frames  int
	Answers int
	Runs    int
	Orphans int
}

// Sweeper is the single process-wide eviction loop across all expiring
// stores plus orphaned output files. Per-key failures are logged and
// skipped; a sweep pass never aborts half way.
type Sweeper struct {
	opts    Options
	frames  *kvstore.Store[pregen.FrameRecord]
	answers *kvstore.Store[pregen.AnswerRecord]
	runs    *kvstore.Store[runverify.RunState]
	pool    Forgetter
	retirer Retirer
	logger  *slog.Logger
	clock   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a sweeper. Pool and retirer hooks are optional.
func New(opts Options, frames *kvstore.Store[pregen.FrameRecord], answers *kvstore.Store[pregen.AnswerRecord], runs *kvstore.Store[runverify.RunState], pool Forgetter, retirer Retirer, logger *slog.Logger) (*Sweeper, error) {
	if frames == nil || answers == nil || runs == nil {
		return nil, errors.New("sweep: frame, answer, and run stores required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("sweep: interval must be positive")
	}
	return &Sweeper{
		opts:    opts,
		frames:  frames,
		answers: answers,
		runs:    runs,
		pool:    pool,
		retirer: retirer,
		logger:  logging.NewComponentLogger(logger, "sweeper"),
		clock:   time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Start runs sweep passes on the configured interval until Stop or context
// cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// SweepOnce runs a single eviction pass over every store and the output
// directory.
func (s *Sweeper) SweepOnce(ctx context.Context) Summary {
	now := s.clock()
	summary := Summary{
		Answers: s.sweepAnswers(ctx, now),
		Frames:  s.sweepFrames(ctx, now),
		Runs:    s.sweepRuns(ctx, now),
		Orphans: s.sweepOrphans(ctx, now),
	}
	if summary != (Summary{}) {
		s.logger.Info("sweep pass complete",
			logging.Int("frames", summary.Frames),
			logging.Int("answers", summary.Answers),
			logging.Int("runs", summary.Runs),
			logging.Int("orphans", summary.Orphans))
	}
	return summary
}

func (s *Sweeper) sweepAnswers(ctx context.Context, now time.Time) int {
	expired, err := s.answers.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("answer sweep failed", logging.Error(err))
		return 0
	}
	for _, entry := range expired {
		s.removeFramePair(ctx, entry.Key)
	}
	return len(expired)
}

func (s *Sweeper) sweepFrames(ctx context.Context, now time.Time) int {
	expired, err := s.frames.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("frame sweep failed", logging.Error(err))
		return 0
	}
	for _, entry := range expired {
		s.removeImage(entry.Value.Path, entry.Key)
		if s.pool != nil {
			s.pool.Forget(entry.Key)
		}
	}
	return len(expired)
}

func (s *Sweeper) sweepRuns(ctx context.Context, now time.Time) int {
	expired, err := s.runs.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("run sweep failed", logging.Error(err))
		return 0
	}
	for _, entry := range expired {
		if s.retirer == nil {
			continue
		}
		if err := s.retirer.Retire(ctx, entry.Key, entry.Value); err != nil {
			s.logger.Error("run retirement failed",
				logging.String(logging.FieldRunID, entry.Key),
				logging.Error(err))
		}
	}
	return len(expired)
}

// sweepOrphans removes output files past the frame lifetime that no live
// frame record claims, covering crashes between extraction and store write.
func (s *Sweeper) sweepOrphans(ctx context.Context, now time.Time) int {
	if s.opts.OutputDir == "" || s.opts.FrameTTL <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.opts.OutputDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("read output directory failed", logging.Error(err))
		}
		return 0
	}

	removed := 0
	cutoff := now.Add(-s.opts.FrameTTL)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		_, found, err := s.frames.Get(ctx, id)
		if err != nil {
			s.logger.Error("orphan lookup failed", logging.String(logging.FieldFrameID, id), logging.Error(err))
			continue
		}
		if found {
			continue
		}
		path := filepath.Join(s.opts.OutputDir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("orphan removal failed", logging.String("path", path), logging.Error(err))
			continue
		}
		s.logger.Warn("removed orphaned output file", logging.String("path", path))
		removed++
	}
	return removed
}

// removeFramePair drops the frame record paired with a swept answer and
// deletes its image file.
func (s *Sweeper) removeFramePair(ctx context.Context, id string) {
	record, found, err := s.frames.Get(ctx, id)
	if err != nil {
		s.logger.Error("paired frame lookup failed", logging.String(logging.FieldFrameID, id), logging.Error(err))
		return
	}

	path := filepath.Join(s.opts.OutputDir, id+"."+s.opts.OutputExtension)
	if found {
		path = record.Path
		if _, err := s.frames.Remove(ctx, id); err != nil {
			s.logger.Error("paired frame removal failed", logging.String(logging.FieldFrameID, id), logging.Error(err))
		}
	}
	s.removeImage(path, id)
	if s.pool != nil {
		s.pool.Forget(id)
	}
}

func (s *Sweeper) removeImage(path, id string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// A missing file is fine, anything else gets logged and skipped.
		s.logger.Error("image removal failed",
			logging.String(logging.FieldFrameID, id),
			logging.String("path", path),
			logging.Error(err))
	}
}
