package extractor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/DayBreakerBrony/frame-randomizer/internal/imagestat"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services/ffmpeg"
)

// Request describes one frame to produce.
type Request struct {
	VideoPath   string
	DurationSec float64
	OutputPath  string
}

// Result reports the produced candidate.
type Result struct {
	OutputPath  string
	SeekSeconds float64
	Quality     float64
	// SubThreshold marks a frame served despite failing the quality bar
	// after the attempt budget ran out.
	SubThreshold bool
	Attempts     int
}

// Option configures the extractor.
type Option func(*Extractor)

// WithSeekFunc overrides timestamp sampling, for tests.
func WithSeekFunc(seek func(durationSec float64) float64) Option {
	return func(e *Extractor) {
		if seek != nil {
			e.seek = seek
		}
	}
}

// WithMetric overrides the quality metric.
func WithMetric(metric imagestat.Metric) Option {
	return func(e *Extractor) {
		if metric != nil {
			e.metric = metric
		}
	}
}

// Extractor produces single frames under a bounded retry budget with a
// quality gate.
type Extractor struct {
	client      ffmpeg.Client
	metric      imagestat.Metric
	minStdDev   float64
	maxAttempts int
	seek        func(durationSec float64) float64
	logger      *slog.Logger
}

// New constructs an extractor. A minStdDev of 0 disables the quality gate so
// every first candidate is accepted.
func New(client ffmpeg.Client, minStdDev float64, maxAttempts int, logger *slog.Logger, opts ...Option) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("extractor: ffmpeg client required")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("extractor: attempt budget must be positive")
	}
	e := &Extractor{
		client:      client,
		metric:      imagestat.StandardDeviation,
		minStdDev:   minStdDev,
		maxAttempts: maxAttempts,
		seek:        defaultSeek(),
		logger:      logging.NewComponentLogger(logger, "extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract runs up to the attempt budget, resampling the timestamp each try.
// Quality failures fall back to the last produced candidate; process
// failures that exhaust the budget are fatal for the request.
func (e *Extractor) Extract(ctx context.Context, req Request) (Result, error) {
	if req.VideoPath == "" || req.OutputPath == "" {
		return Result{}, services.Wrap(services.ErrInput, "extractor", "extract", "video and output paths required", nil)
	}
	if req.DurationSec <= 0 {
		return Result{}, services.Wrap(services.ErrInput, "extractor", "extract", "non-positive video duration", nil)
	}

	var (
		lastErr   error
		candidate *Result
	)

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		seekSec := e.seek(req.DurationSec)
		if err := e.client.ExtractFrame(ctx, req.VideoPath, seekSec, req.OutputPath); err != nil {
			lastErr = err
			e.logger.Warn("frame extraction attempt failed",
				logging.String("video", req.VideoPath),
				logging.Float64("seek_sec", seekSec),
				logging.Int("attempt", attempt),
				logging.Error(err))
			continue
		}

		result := Result{
			OutputPath:  req.OutputPath,
			SeekSeconds: seekSec,
			Attempts:    attempt,
		}

		if e.minStdDev <= 0 {
			return result, nil
		}

		quality, err := e.metric(req.OutputPath)
		if err != nil {
			lastErr = err
			e.logger.Warn("quality metric failed",
				logging.String("output", req.OutputPath),
				logging.Int("attempt", attempt),
				logging.Error(err))
			continue
		}
		result.Quality = quality
		candidate = &result

		if quality >= e.minStdDev {
			return result, nil
		}
		e.logger.Debug("candidate below quality bar",
			logging.Float64("quality", quality),
			logging.Float64("required", e.minStdDev),
			logging.Int("attempt", attempt))
	}

	if candidate == nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "extractor", "extract",
			"attempt budget exhausted without a candidate", lastErr)
	}

	// Serving a low-information frame beats failing the request, but it must
	// be observable rather than silent.
	candidate.SubThreshold = true
	candidate.Attempts = e.maxAttempts
	e.logger.Warn("serving sub-threshold frame after exhausting attempts",
		logging.String("output", candidate.OutputPath),
		logging.Float64("quality", candidate.Quality),
		logging.Float64("required", e.minStdDev),
		logging.Int("attempts", e.maxAttempts))
	return *candidate, nil
}

// defaultSeek samples a uniformly random timestamp, keeping a one second
// margin off the tail so the seek never lands past the final frame.
func defaultSeek() func(float64) float64 {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(rand.Int63()))
	return func(durationSec float64) float64 {
		mu.Lock()
		defer mu.Unlock()
		span := durationSec
		if span > 2 {
			span = durationSec - 1
		}
		return span * rng.Float64()
	}
}
