package pregen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DayBreakerBrony/frame-randomizer/internal/episodes"
	"github.com/DayBreakerBrony/frame-randomizer/internal/extractor"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services"
)

// ErrNotReady reports an empty pool in fail-fast serving mode. Callers should
// retry after a short delay.
var ErrNotReady = services.Wrap(services.ErrTransient, "pool", "serve", "no pregenerated frame ready", nil)

// Options sizes and times the pool.
type Options struct {
	Target          int
	MaxParallelism  int
	FrameTTL        time.Duration
	AnswerTTL       time.Duration
	WaitForReady    bool
	ServeTimeout    time.Duration
	OutputDir       string
	OutputExtension string
	Namespace       uuid.UUID
	// RetryDelay spaces replacement jobs after a failed generation.
	RetryDelay time.Duration
}

// Stats summarizes pool activity for the status API.
type Stats struct {
	Ready        int   `json:"ready"`
	InFlight     int   `json:"in_flight"`
	Generated    int64 `json:"generated"`
	Served       int64 `json:"served"`
	SubThreshold int64 `json:"sub_threshold"`
	Failed       int64 `json:"failed"`
}

// Pool keeps a target number of ready, unserved frame/answer pairs, bounding
// concurrent extractions. The target is eventually consistent: a burst of
// serves leaves it transiently short until replenishment jobs land.
type Pool struct {
	opts    Options
	index   *episodes.Index
	ext     *extractor.Extractor
	frames  *kvstore.Store[FrameRecord]
	answers *kvstore.Store[AnswerRecord]
	logger  *slog.Logger
	clock   func() time.Time

	slots  chan struct{}
	notify chan struct{}

	mu       sync.Mutex
	ready    []string
	inFlight int
	stats    Stats

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a pool. Start must be called before Serve.
func New(opts Options, index *episodes.Index, ext *extractor.Extractor, frames *kvstore.Store[FrameRecord], answers *kvstore.Store[AnswerRecord], logger *slog.Logger) (*Pool, error) {
	if index == nil || ext == nil || frames == nil || answers == nil {
		return nil, errors.New("pregen: index, extractor, and stores required")
	}
	if opts.Target <= 0 {
		return nil, errors.New("pregen: target must be positive")
	}
	if opts.MaxParallelism <= 0 {
		return nil, errors.New("pregen: max parallelism must be positive")
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Pool{
		opts:    opts,
		index:   index,
		ext:     ext,
		frames:  frames,
		answers: answers,
		logger:  logging.NewComponentLogger(logger, "pool"),
		clock:   time.Now,
		slots:   make(chan struct{}, opts.MaxParallelism),
		notify:  make(chan struct{}, 1),
	}, nil
}

// WithClock overrides the time source, for tests.
func (p *Pool) WithClock(clock func() time.Time) *Pool {
	p.clock = clock
	return p
}

// Start begins filling the pool toward its target.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pregen: pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("ensure output directory: %w", err)
	}

	p.EnsureTarget()
	return nil
}

// Stop cancels in-flight work and waits for workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.started = false
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// EnsureTarget schedules generation jobs until ready + in-flight covers the
// configured target.
func (p *Pool) EnsureTarget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureTargetLocked()
}

func (p *Pool) ensureTargetLocked() {
	if !p.started {
		return
	}
	for len(p.ready)+p.inFlight < p.opts.Target {
		p.inFlight++
		p.wg.Add(1)
		go p.runJob()
	}
}

// Forget drops a frame id from the ready list, typically after the sweeper
// reclaimed it, and replenishes.
func (p *Pool) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ready := range p.ready {
		if ready == id {
			p.ready = append(p.ready[:i], p.ready[i+1:]...)
			break
		}
	}
	p.ensureTargetLocked()
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.Ready = len(p.ready)
	stats.InFlight = p.inFlight
	return stats
}

// Serve pops the oldest ready frame, marks it served, and starts its answer
// expiry clock. An empty pool either fails fast with ErrNotReady or blocks
// until a job completes, bounded by the serve timeout.
func (p *Pool) Serve(ctx context.Context) (FrameRecord, error) {
	var timeout <-chan time.Time
	if p.opts.WaitForReady && p.opts.ServeTimeout > 0 {
		timer := time.NewTimer(p.opts.ServeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		record, found, err := p.popReady(ctx)
		if err != nil {
			return FrameRecord{}, err
		}
		if found {
			return record, nil
		}

		if !p.opts.WaitForReady {
			return FrameRecord{}, ErrNotReady
		}
		select {
		case <-p.notify:
		case <-timeout:
			return FrameRecord{}, ErrNotReady
		case <-ctx.Done():
			return FrameRecord{}, ctx.Err()
		}
	}
}

// popReady takes ids off the ready list oldest-first until one resolves to a
// live, unserved record. Swept or corrupt entries are skipped.
func (p *Pool) popReady(ctx context.Context) (FrameRecord, bool, error) {
	for {
		p.mu.Lock()
		if len(p.ready) == 0 {
			p.ensureTargetLocked()
			p.mu.Unlock()
			return FrameRecord{}, false, nil
		}
		id := p.ready[0]
		p.ready = p.ready[1:]
		p.mu.Unlock()

		record, found, err := p.frames.Get(ctx, id)
		if err != nil {
			return FrameRecord{}, false, err
		}
		now := p.clock()
		if !found || record.Served || !record.ExpiresAt.After(now) {
			// Swept, already served, or expired-but-unswept: leave it to the
			// sweeper and try the next entry.
			p.logger.Debug("skipping stale ready entry", logging.String(logging.FieldFrameID, id))
			continue
		}

		record.Served = true
		record.ServedAt = now
		if err := p.frames.Set(ctx, id, record, record.ExpiresAt.Sub(now)); err != nil {
			return FrameRecord{}, false, err
		}

		// The answer clock starts at serve time.
		answer, found, err := p.answers.Get(ctx, id)
		if err != nil {
			return FrameRecord{}, false, err
		}
		if found {
			answer.ExpiresAt = now.Add(p.opts.AnswerTTL)
			if err := p.answers.Set(ctx, id, answer, p.opts.AnswerTTL); err != nil {
				return FrameRecord{}, false, err
			}
		}

		p.mu.Lock()
		p.stats.Served++
		p.ensureTargetLocked()
		p.mu.Unlock()

		p.logger.Info("served frame",
			logging.String(logging.FieldFrameID, id),
			logging.String(logging.FieldEpisodeKey, record.EpisodeKey))
		return record, true, nil
	}
}

func (p *Pool) runJob() {
	defer p.wg.Done()

	ctx := p.ctx
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.jobDone(func() {})
		return
	}
	defer func() { <-p.slots }()

	episode := p.index.Random()
	id := p.newID()
	outputPath := filepath.Join(p.opts.OutputDir, id+"."+p.opts.OutputExtension)

	result, err := p.ext.Extract(ctx, extractor.Request{
		VideoPath:   episode.Path,
		DurationSec: episode.DurationSec,
		OutputPath:  outputPath,
	})
	if err != nil {
		p.logger.Error("frame generation failed",
			logging.String(logging.FieldFrameID, id),
			logging.String(logging.FieldEpisodeKey, episode.Key()),
			logging.Error(err))
		p.jobDone(func() { p.stats.Failed++ })
		p.retryLater()
		return
	}

	now := p.clock()
	answer := AnswerRecord{
		ID:          id,
		Season:      episode.Season,
		Episode:     episode.Episode,
		Name:        episode.Name,
		SeekTimeSec: result.SeekSeconds,
		CreatedAt:   now,
		ExpiresAt:   now.Add(p.opts.FrameTTL),
	}
	frame := FrameRecord{
		ID:          id,
		Path:        result.OutputPath,
		EpisodeKey:  episode.Key(),
		Quality:     result.Quality,
		SubQuality:  result.SubThreshold,
		CreatedAt:   now,
		ExpiresAt:   now.Add(p.opts.FrameTTL),
		SeekTimeSec: result.SeekSeconds,
	}

	// Answer first so a served frame always has its answer retrievable.
	if err := p.answers.Set(ctx, id, answer, p.opts.FrameTTL); err != nil {
		p.logger.Error("store answer failed", logging.String(logging.FieldFrameID, id), logging.Error(err))
		_ = os.Remove(result.OutputPath)
		p.jobDone(func() { p.stats.Failed++ })
		p.retryLater()
		return
	}
	if err := p.frames.Set(ctx, id, frame, p.opts.FrameTTL); err != nil {
		p.logger.Error("store frame failed", logging.String(logging.FieldFrameID, id), logging.Error(err))
		_, _ = p.answers.Remove(ctx, id)
		_ = os.Remove(result.OutputPath)
		p.jobDone(func() { p.stats.Failed++ })
		p.retryLater()
		return
	}

	// A completed job is always kept, even when another job already
	// restored the target; discarding it would waste the extraction.
	p.mu.Lock()
	p.ready = append(p.ready, id)
	p.inFlight--
	p.stats.Generated++
	if result.SubThreshold {
		p.stats.SubThreshold++
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}

	p.logger.Debug("frame ready",
		logging.String(logging.FieldFrameID, id),
		logging.String(logging.FieldEpisodeKey, episode.Key()),
		logging.Float64("quality", result.Quality),
		logging.Int("attempts", result.Attempts))
}

func (p *Pool) jobDone(update func()) {
	p.mu.Lock()
	p.inFlight--
	update()
	p.mu.Unlock()
}

// retryLater reschedules after a failed job so transient extraction problems
// do not permanently shrink the pool.
func (p *Pool) retryLater() {
	ctx := p.ctx
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-time.After(p.opts.RetryDelay):
			p.EnsureTarget()
		case <-ctx.Done():
		}
	}()
}

// newID derives a namespaced identifier so frames from different instances
// sharing storage cannot collide.
func (p *Pool) newID() string {
	return uuid.NewSHA1(p.opts.Namespace, []byte(uuid.NewString())).String()
}
