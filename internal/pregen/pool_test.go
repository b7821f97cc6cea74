package pregen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DayBreakerBrony/frame-randomizer/internal/episodes"
	"github.com/DayBreakerBrony/frame-randomizer/internal/extractor"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/services/ffmpeg"
)

type stubClient struct {
	delay time.Duration

	mu   sync.Mutex
	fail error
}

func (c *stubClient) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *stubClient) ExtractFrame(ctx context.Context, videoPath string, seekSeconds float64, outputPath string) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	return os.WriteFile(outputPath, []byte("frame"), 0o644)
}

type poolFixture struct {
	pool    *Pool
	frames  *kvstore.Store[FrameRecord]
	answers *kvstore.Store[AnswerRecord]
}

func newPoolFixture(t *testing.T, client ffmpeg.Client, opts Options) *poolFixture {
	t.Helper()

	dir := t.TempDir()
	db, err := kvstore.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open store db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	frames, err := kvstore.NewStore[FrameRecord](db, "frames")
	if err != nil {
		t.Fatalf("create frame store: %v", err)
	}
	answers, err := kvstore.NewStore[AnswerRecord](db, "answers")
	if err != nil {
		t.Fatalf("create answer store: %v", err)
	}

	index, err := episodes.NewIndex([]episodes.Episode{
		{Season: 1, Episode: 1, Name: "Pilot", Path: filepath.Join(dir, "s01e01.mkv"), DurationSec: 120},
		{Season: 1, Episode: 2, Name: "Second", Path: filepath.Join(dir, "s01e02.mkv"), DurationSec: 90},
	}, nil)
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	metric := func(string) (float64, error) { return 42, nil }
	ext, err := extractor.New(client, 10, 3, logging.NewNop(),
		extractor.WithSeekFunc(func(durationSec float64) float64 { return durationSec / 2 }),
		extractor.WithMetric(metric))
	if err != nil {
		t.Fatalf("build extractor: %v", err)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(dir, "frames")
	}
	if opts.OutputExtension == "" {
		opts.OutputExtension = "png"
	}
	if opts.Namespace == uuid.Nil {
		opts.Namespace = uuid.MustParse("b219dcdb-c910-417c-8403-01c6b40c5fb4")
	}
	if opts.FrameTTL == 0 {
		opts.FrameTTL = time.Hour
	}
	if opts.AnswerTTL == 0 {
		opts.AnswerTTL = 10 * time.Minute
	}

	pool, err := New(opts, index, ext, frames, answers, logging.NewNop())
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}
	return &poolFixture{pool: pool, frames: frames, answers: answers}
}

func waitForReady(t *testing.T, pool *Pool, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().Ready >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pool never reached %d ready frames, stats %+v", want, pool.Stats())
}

func TestPoolFillsToTarget(t *testing.T) {
	fx := newPoolFixture(t, &stubClient{}, Options{Target: 3, MaxParallelism: 2})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()

	waitForReady(t, fx.pool, 3)

	stats := fx.pool.Stats()
	if stats.Ready != 3 {
		t.Fatalf("ready = %d, want 3", stats.Ready)
	}
	if stats.Generated != 3 {
		t.Fatalf("generated = %d, want 3", stats.Generated)
	}

	nFrames, err := fx.frames.Len(ctx)
	if err != nil {
		t.Fatalf("frame store len: %v", err)
	}
	nAnswers, err := fx.answers.Len(ctx)
	if err != nil {
		t.Fatalf("answer store len: %v", err)
	}
	if nFrames != 3 || nAnswers != 3 {
		t.Fatalf("stored %d frames and %d answers, want 3 of each", nFrames, nAnswers)
	}
}

func TestPoolServeReplenishesWithoutRepeats(t *testing.T) {
	fx := newPoolFixture(t, &stubClient{}, Options{Target: 3, MaxParallelism: 2})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()
	waitForReady(t, fx.pool, 3)

	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		waitForReady(t, fx.pool, 1)
		record, err := fx.pool.Serve(ctx)
		if err != nil {
			t.Fatalf("serve %d: %v", i, err)
		}
		if seen[record.ID] {
			t.Fatalf("serve %d returned repeated id %s", i, record.ID)
		}
		seen[record.ID] = true
		if !record.Served {
			t.Fatalf("served record %s not marked served", record.ID)
		}
		if _, err := os.Stat(record.Path); err != nil {
			t.Fatalf("served frame file missing: %v", err)
		}

		stored, found, err := fx.frames.Get(ctx, record.ID)
		if err != nil || !found {
			t.Fatalf("served frame %s not in store (found=%v err=%v)", record.ID, found, err)
		}
		if !stored.Served || stored.ServedAt.IsZero() {
			t.Fatalf("store did not persist served mark for %s", record.ID)
		}
	}

	waitForReady(t, fx.pool, 3)
	stats := fx.pool.Stats()
	if stats.Served != 6 {
		t.Fatalf("served = %d, want 6", stats.Served)
	}
	if stats.Generated < 9 {
		t.Fatalf("generated = %d, want at least 9 after six serves", stats.Generated)
	}
}

func TestPoolServeStartsAnswerClock(t *testing.T) {
	fx := newPoolFixture(t, &stubClient{}, Options{
		Target:         1,
		MaxParallelism: 1,
		FrameTTL:       time.Hour,
		AnswerTTL:      10 * time.Minute,
	})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()
	waitForReady(t, fx.pool, 1)

	keys, err := fx.answers.Keys(ctx)
	if err != nil || len(keys) != 1 {
		t.Fatalf("answer keys: %v (err=%v)", keys, err)
	}
	before, _, err := fx.answers.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("get answer: %v", err)
	}
	// Until the frame is served, the answer follows the frame lifetime.
	if got := before.ExpiresAt.Sub(before.CreatedAt); got < 50*time.Minute {
		t.Fatalf("pre-serve answer lifetime = %v, want frame lifetime", got)
	}

	record, err := fx.pool.Serve(ctx)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	after, found, err := fx.answers.Get(ctx, record.ID)
	if err != nil || !found {
		t.Fatalf("answer missing after serve (found=%v err=%v)", found, err)
	}
	remaining := time.Until(after.ExpiresAt)
	if remaining <= 0 || remaining > 10*time.Minute {
		t.Fatalf("post-serve answer expiry in %v, want within the answer lifetime", remaining)
	}
}

func TestPoolServeFailsFastWhenEmpty(t *testing.T) {
	// A client that never completes keeps the pool empty.
	fx := newPoolFixture(t, &stubClient{delay: time.Hour}, Options{Target: 2, MaxParallelism: 1})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()

	if _, err := fx.pool.Serve(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("serve on empty pool = %v, want ErrNotReady", err)
	}
}

func TestPoolServeWaitsForFirstFrame(t *testing.T) {
	fx := newPoolFixture(t, &stubClient{delay: 30 * time.Millisecond}, Options{
		Target:         1,
		MaxParallelism: 1,
		WaitForReady:   true,
		ServeTimeout:   5 * time.Second,
	})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()

	record, err := fx.pool.Serve(ctx)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if record.ID == "" {
		t.Fatal("serve returned empty record")
	}
}

func TestPoolRecoversFromFailedJobs(t *testing.T) {
	client := &stubClient{}
	client.setFail(errors.New("boom"))
	fx := newPoolFixture(t, client, Options{Target: 1, MaxParallelism: 1, RetryDelay: 5 * time.Millisecond})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()

	// Let a few attempts fail, then heal the client.
	deadline := time.Now().Add(5 * time.Second)
	for fx.pool.Stats().Failed == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no failed jobs recorded, stats %+v", fx.pool.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.setFail(nil)

	waitForReady(t, fx.pool, 1)
	if _, err := fx.pool.Serve(ctx); err != nil {
		t.Fatalf("serve after recovery: %v", err)
	}
}

func TestPoolForgetReplenishes(t *testing.T) {
	fx := newPoolFixture(t, &stubClient{}, Options{Target: 2, MaxParallelism: 2})
	ctx := context.Background()

	if err := fx.pool.Start(ctx); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	defer fx.pool.Stop()
	waitForReady(t, fx.pool, 2)

	keys, err := fx.frames.Keys(ctx)
	if err != nil || len(keys) == 0 {
		t.Fatalf("frame keys: %v (err=%v)", keys, err)
	}
	victim := keys[0]
	if _, err := fx.frames.Remove(ctx, victim); err != nil {
		t.Fatalf("remove frame: %v", err)
	}
	fx.pool.Forget(victim)

	waitForReady(t, fx.pool, 2)
	record, err := fx.pool.Serve(ctx)
	if err != nil {
		t.Fatalf("serve after forget: %v", err)
	}
	if record.ID == victim {
		t.Fatalf("served forgotten frame %s", victim)
	}
}
