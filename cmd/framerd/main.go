package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"log/slog"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/DayBreakerBrony/frame-randomizer/internal/config"
	"github.com/DayBreakerBrony/frame-randomizer/internal/daemon"
	"github.com/DayBreakerBrony/frame-randomizer/internal/durations"
	"github.com/DayBreakerBrony/frame-randomizer/internal/episodes"
	"github.com/DayBreakerBrony/frame-randomizer/internal/extractor"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/media/ffprobe"
	"github.com/DayBreakerBrony/frame-randomizer/internal/pregen"
	"github.com/DayBreakerBrony/frame-randomizer/internal/runverify"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services/ffmpeg"
	"github.com/DayBreakerBrony/frame-randomizer/internal/sweep"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if err := preflight(cfg); err != nil {
		logger.Error("preflight failed", logging.Error(err))
		return
	}

	d, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("framerd shutting down")
}

// preflight checks external tools and the signing key before any state is
// touched. A configured retention threshold without a loadable key is fatal.
func preflight(cfg *config.Config) error {
	for _, binary := range []string{cfg.FFmpegBinary(), cfg.FFprobeBinary()} {
		if _, err := exec.LookPath(binary); err != nil {
			return services.Wrap(services.ErrConfiguration, "framerd", "preflight",
				fmt.Sprintf("required tool %s not found on PATH", binary), err)
		}
	}
	if cfg.RunVerification.RetentionThreshold > 0 && cfg.RunVerification.SigningKeyPath != "" {
		if _, err := runverify.LoadSigningKey(cfg.RunVerification.SigningKeyPath); err != nil {
			return services.Wrap(services.ErrConfiguration, "framerd", "preflight",
				"run archival requires a signing key (generate one with `framer run keygen`)", err)
		}
	}
	return nil
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	db, err := kvstore.Open(cfg.StoreDBPath())
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	frames, err := kvstore.NewStore[pregen.FrameRecord](db, "frames")
	if err != nil {
		return nil, err
	}
	answers, err := kvstore.NewStore[pregen.AnswerRecord](db, "answers")
	if err != nil {
		return nil, err
	}
	runs, err := kvstore.NewStore[runverify.RunState](db, "runs")
	if err != nil {
		return nil, err
	}
	archive, err := kvstore.NewStore[runverify.Artifact](db, "archived_runs")
	if err != nil {
		return nil, err
	}
	durationStore, err := kvstore.NewStore[durations.Entry](db, "durations")
	if err != nil {
		return nil, err
	}

	index, err := buildIndex(ctx, cfg, durationStore, logger)
	if err != nil {
		return nil, err
	}

	client := ffmpeg.NewCLI(
		ffmpeg.WithBinary(cfg.FFmpegBinary()),
		ffmpeg.WithImageArgs(cfg.Frames.FfmpegImageArgs),
	)
	ext, err := extractor.New(client, cfg.Frames.RequiredStandardDeviation, cfg.Frames.GenMaxAttempts, logger)
	if err != nil {
		return nil, err
	}

	namespace, err := uuid.Parse(cfg.UUIDNamespace)
	if err != nil {
		return nil, fmt.Errorf("parse uuid namespace: %w", err)
	}
	pool, err := pregen.New(pregen.Options{
		Target:          cfg.Frames.PregenCount,
		MaxParallelism:  cfg.Frames.GenMaxParallelism,
		FrameTTL:        cfg.FrameTTL(),
		AnswerTTL:       cfg.AnswerTTL(),
		WaitForReady:    cfg.Frames.WaitForReady,
		ServeTimeout:    cfg.ServeTimeout(),
		OutputDir:       cfg.Paths.ImageOutputDir,
		OutputExtension: cfg.Frames.OutputExtension,
		Namespace:       namespace,
	}, index, ext, frames, answers, logger)
	if err != nil {
		return nil, err
	}

	archiver, err := buildArchiver(cfg, archive, logger)
	if err != nil {
		return nil, err
	}
	tracker, err := runverify.NewTracker(runs, archiver, cfg.RunTTL(), cfg.RunVerification.RetentionThreshold, logger)
	if err != nil {
		return nil, err
	}

	sweeper, err := sweep.New(sweep.Options{
		Interval:        cfg.CleanupInterval(),
		FrameTTL:        cfg.FrameTTL(),
		OutputDir:       cfg.Paths.ImageOutputDir,
		OutputExtension: cfg.Frames.OutputExtension,
	}, frames, answers, runs, pool, tracker, logger)
	if err != nil {
		return nil, err
	}

	return daemon.New(cfg, daemon.Services{
		Index:   index,
		Pool:    pool,
		Tracker: tracker,
		Sweeper: sweeper,
		Frames:  frames,
		Answers: answers,
		DB:      db,
	}, logger)
}

// buildIndex loads episode metadata and probes every video's duration
// through the cache before the pool starts generating.
func buildIndex(ctx context.Context, cfg *config.Config, store *kvstore.Store[durations.Entry], logger *slog.Logger) (*episodes.Index, error) {
	source := &episodes.FileSource{
		DataPath:        cfg.Episodes.DataPath,
		VideoSourceDir:  cfg.Paths.VideoSourceDir,
		Recursive:       cfg.Episodes.SearchRecursively,
		VideoExtensions: cfg.Episodes.VideoExtensions,
	}
	eps, err := source.Episodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load episodes: %w", err)
	}

	prober := func(ctx context.Context, path string) (float64, error) {
		result, err := ffprobe.Inspect(ctx, cfg.FFprobeBinary(), path)
		if err != nil {
			return 0, err
		}
		return result.DurationSeconds(), nil
	}
	cache, err := durations.New(cfg.DurationCache.Enabled, store, prober, logger)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	probed, err := episodes.ProbeDurations(ctx, eps, cache, cfg.Episodes.ProbeConcurrency, cfg.Episodes.AllowMissing, logger)
	if err != nil {
		return nil, fmt.Errorf("probe episode durations: %w", err)
	}
	logger.Info("episode durations probed",
		logging.Int("episodes", len(probed)),
		logging.Duration("elapsed", time.Since(started)))

	return episodes.NewIndex(probed, nil)
}

func buildArchiver(cfg *config.Config, store *kvstore.Store[runverify.Artifact], logger *slog.Logger) (*runverify.Archiver, error) {
	if cfg.RunVerification.RetentionThreshold <= 0 || cfg.RunVerification.SigningKeyPath == "" {
		return nil, nil
	}
	key, err := runverify.LoadSigningKey(cfg.RunVerification.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key %s has unexpected size", cfg.RunVerification.SigningKeyPath)
	}
	return runverify.NewArchiver(key, store, logger)
}
