package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/DayBreakerBrony/frame-randomizer/internal/config"
	"github.com/DayBreakerBrony/frame-randomizer/internal/episodes"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/pregen"
	"github.com/DayBreakerBrony/frame-randomizer/internal/runverify"
	"github.com/DayBreakerBrony/frame-randomizer/internal/sweep"
)

// Services holds the wired pipeline components the daemon coordinates.
type Services struct {
	Index   *episodes.Index
	Pool    *pregen.Pool
	Tracker *runverify.Tracker
	Sweeper *sweep.Sweeper
	Frames  *kvstore.Store[pregen.FrameRecord]
	Answers *kvstore.Store[pregen.AnswerRecord]
	DB      *kvstore.DB
}

// Daemon coordinates the frame pipeline services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	services Services
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool         `json:"running"`
	PID          int          `json:"pid"`
	InstanceName string       `json:"instance_name"`
	Episodes     int          `json:"episodes"`
	Pool         pregen.Stats `json:"pool"`
	Frames       int          `json:"frames"`
	Answers      int          `json:"answers"`
	Runs         int          `json:"runs"`
	StoreDBPath  string       `json:"store_db_path"`
	LockFilePath string       `json:"lock_file_path"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, services Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if services.Index == nil || services.Pool == nil || services.Tracker == nil || services.Sweeper == nil {
		return nil, errors.New("daemon requires index, pool, tracker, and sweeper")
	}
	if services.Frames == nil || services.Answers == nil {
		return nil, errors.New("daemon requires frame and answer stores")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "framerd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		services: services,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the pool, sweeper, and API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another framer daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.services.Pool.Start(runCtx); err != nil {
		d.teardown()
		return fmt.Errorf("start pool: %w", err)
	}
	d.services.Sweeper.Start(runCtx)

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.services.Sweeper.Stop()
			d.services.Pool.Stop()
			d.teardown()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("framer daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("episodes", d.services.Index.Len()))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
	}
	d.services.Sweeper.Stop()
	d.services.Pool.Stop()
	d.teardown()
	d.running.Store(false)
	d.logger.Info("framer daemon stopped")
}

// Close stops the daemon and releases the backing store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.services.DB != nil {
		return d.services.DB.Close()
	}
	return nil
}

// Status reports runtime information for the status API and CLI.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		InstanceName: d.cfg.InstanceName,
		Episodes:     d.services.Index.Len(),
		Pool:         d.services.Pool.Stats(),
		LockFilePath: d.lockPath,
	}
	if d.services.DB != nil {
		status.StoreDBPath = d.services.DB.Path()
	}
	if n, err := d.services.Frames.Len(ctx); err == nil {
		status.Frames = n
	}
	if n, err := d.services.Answers.Len(ctx); err == nil {
		status.Answers = n
	}
	if n, err := d.services.Tracker.Len(ctx); err == nil {
		status.Runs = n
	}
	return status
}

// APIAddr returns the bound API address, empty until Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

func (d *Daemon) teardown() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
