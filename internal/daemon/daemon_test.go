package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DayBreakerBrony/frame-randomizer/internal/config"
	"github.com/DayBreakerBrony/frame-randomizer/internal/episodes"
	"github.com/DayBreakerBrony/frame-randomizer/internal/extractor"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/pregen"
	"github.com/DayBreakerBrony/frame-randomizer/internal/runverify"
	"github.com/DayBreakerBrony/frame-randomizer/internal/sweep"
	"github.com/DayBreakerBrony/frame-randomizer/internal/testsupport"
)

type stubClient struct{}

func (stubClient) ExtractFrame(ctx context.Context, videoPath string, seekSeconds float64, outputPath string) error {
	return os.WriteFile(outputPath, []byte("frame"), 0o644)
}

func newDaemonServices(t *testing.T, cfg *config.Config) Services {
	t.Helper()

	db := testsupport.MustOpenDB(t, cfg)
	frames, err := kvstore.NewStore[pregen.FrameRecord](db, "frames")
	if err != nil {
		t.Fatalf("frame store: %v", err)
	}
	answers, err := kvstore.NewStore[pregen.AnswerRecord](db, "answers")
	if err != nil {
		t.Fatalf("answer store: %v", err)
	}
	runs, err := kvstore.NewStore[runverify.RunState](db, "runs")
	if err != nil {
		t.Fatalf("run store: %v", err)
	}

	index, err := episodes.NewIndex([]episodes.Episode{
		{Season: 3, Episode: 7, Name: "The Finale", Path: filepath.Join(cfg.Paths.VideoSourceDir, "s03e07.mkv"), DurationSec: 100},
	}, nil)
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	ext, err := extractor.New(stubClient{}, 0, 1, logging.NewNop())
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}

	pool, err := pregen.New(pregen.Options{
		Target:          cfg.Frames.PregenCount,
		MaxParallelism:  cfg.Frames.GenMaxParallelism,
		FrameTTL:        cfg.FrameTTL(),
		AnswerTTL:       cfg.AnswerTTL(),
		WaitForReady:    true,
		ServeTimeout:    5 * time.Second,
		OutputDir:       cfg.Paths.ImageOutputDir,
		OutputExtension: cfg.Frames.OutputExtension,
		Namespace:       uuid.MustParse(cfg.UUIDNamespace),
	}, index, ext, frames, answers, logging.NewNop())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	tracker, err := runverify.NewTracker(runs, nil, cfg.RunTTL(), 0, logging.NewNop())
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}

	sweeper, err := sweep.New(sweep.Options{
		Interval:        cfg.CleanupInterval(),
		FrameTTL:        cfg.FrameTTL(),
		OutputDir:       cfg.Paths.ImageOutputDir,
		OutputExtension: cfg.Frames.OutputExtension,
	}, frames, answers, runs, pool, tracker, logging.NewNop())
	if err != nil {
		t.Fatalf("sweeper: %v", err)
	}

	return Services{
		Index:   index,
		Pool:    pool,
		Tracker: tracker,
		Sweeper: sweeper,
		Frames:  frames,
		Answers: answers,
		DB:      db,
	}
}

func startDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	d, err := New(cfg, newDaemonServices(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, "http://" + d.APIAddr()
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestDaemonServeLoadCheckCycle(t *testing.T) {
	_, base := startDaemon(t)

	var frame frameResponse
	if code := getJSON(t, base+"/api/frame?runId=run-1", &frame); code != http.StatusOK {
		t.Fatalf("frame status = %d", code)
	}
	if frame.ID == "" || frame.ImageURL == "" {
		t.Fatalf("incomplete frame response: %+v", frame)
	}

	resp, err := http.Get(base + frame.ImageURL)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d", resp.StatusCode)
	}

	loadedURL := fmt.Sprintf("%s/api/frame/%s/loaded?runId=run-1", base, frame.ID)
	loadResp, err := http.Post(loadedURL, "", nil)
	if err != nil {
		t.Fatalf("POST loaded: %v", err)
	}
	loadResp.Body.Close()
	if loadResp.StatusCode != http.StatusNoContent {
		t.Fatalf("loaded status = %d", loadResp.StatusCode)
	}

	var check checkResponse
	checkURL := fmt.Sprintf("%s/api/frame/check/%s?season=3&episode=7&runId=run-1", base, frame.ID)
	if code := getJSON(t, checkURL, &check); code != http.StatusOK {
		t.Fatalf("check status = %d", code)
	}
	if !check.Correct {
		t.Fatalf("correct = false for matching guess: %+v", check)
	}
	if check.Season != 3 || check.Episode != 7 || check.Name != "The Finale" {
		t.Fatalf("answer fields wrong: %+v", check)
	}
	if check.CreatedAt.IsZero() || check.ExpiresAt.IsZero() {
		t.Fatalf("answer record timestamps missing: %+v", check)
	}

	var run runverify.RunState
	if code := getJSON(t, base+"/api/run/run-1", &run); code != http.StatusOK {
		t.Fatalf("run status = %d", code)
	}
	if len(run.History) != 1 || run.Pending != nil {
		t.Fatalf("run state = %+v, want one history entry and no pending", run)
	}
	if len(run.Errors) != 0 {
		t.Fatalf("unexpected run errors: %+v", run.Errors)
	}

	// Cleanup is detached from the check response; the answer disappears
	// shortly after.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if code := getJSON(t, checkURL, nil); code == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("checked answer never cleaned up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonCheckWrongGuess(t *testing.T) {
	_, base := startDaemon(t)

	var frame frameResponse
	if code := getJSON(t, base+"/api/frame", &frame); code != http.StatusOK {
		t.Fatalf("frame status = %d", code)
	}

	var check checkResponse
	url := fmt.Sprintf("%s/api/frame/check/%s?season=1&episode=1", base, frame.ID)
	if code := getJSON(t, url, &check); code != http.StatusOK {
		t.Fatalf("check status = %d", code)
	}
	if check.Correct {
		t.Fatalf("correct = true for wrong guess: %+v", check)
	}
}

func TestDaemonCheckErrors(t *testing.T) {
	_, base := startDaemon(t)

	if code := getJSON(t, base+"/api/frame/check/", nil); code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d, want 400", code)
	}
	if code := getJSON(t, base+"/api/frame/check/no-such-id?season=1&episode=1", nil); code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", code)
	}
	if code := getJSON(t, base+"/api/run/no-such-run", nil); code != http.StatusNotFound {
		t.Fatalf("unknown run status = %d, want 404", code)
	}
}

func TestDaemonStatusEndpoint(t *testing.T) {
	d, base := startDaemon(t)

	var status Status
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !status.Running {
		t.Fatal("status reports not running")
	}
	if status.Episodes != 1 {
		t.Fatalf("episodes = %d, want 1", status.Episodes)
	}
	if status.LockFilePath != filepath.Join(d.cfg.Paths.LogDir, "framerd.lock") {
		t.Fatalf("lock path = %s", status.LockFilePath)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first, err := New(cfg, newDaemonServices(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, newDaemonServices(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock")
	}
}
