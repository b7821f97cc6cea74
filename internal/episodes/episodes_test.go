package episodes

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/DayBreakerBrony/frame-randomizer/internal/durations"
)

func writeEpisodeData(t *testing.T, dir string, entries []fileEntry) string {
	t.Helper()
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal entries: %v", err)
	}
	path := filepath.Join(dir, "episodes.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	return path
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func TestFileSourceResolvesVideos(t *testing.T) {
	dir := t.TempDir()
	videoDir := filepath.Join(dir, "videos")
	touch(t, filepath.Join(videoDir, "s01e01.mkv"))
	touch(t, filepath.Join(videoDir, "notes.txt"))

	dataPath := writeEpisodeData(t, dir, []fileEntry{
		{Season: 1, Episode: 1, Name: "Pilot", Filename: "s01e01.mkv"},
		{Season: 1, Episode: 2, Name: "Lost", Filename: "s01e02.mkv"},
	})

	src := &FileSource{
		DataPath:        dataPath,
		VideoSourceDir:  videoDir,
		VideoExtensions: []string{".mkv"},
	}
	eps, err := src.Episodes(context.Background())
	if err != nil {
		t.Fatalf("Episodes: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(eps))
	}
	if eps[0].Path == "" {
		t.Fatal("expected resolved path for s01e01")
	}
	if eps[1].Path != "" {
		t.Fatalf("expected missing video for s01e02, got %q", eps[1].Path)
	}
	if eps[0].Key() != "s01e01" {
		t.Fatalf("unexpected key: %q", eps[0].Key())
	}
}

func TestFileSourceRecursiveScan(t *testing.T) {
	dir := t.TempDir()
	videoDir := filepath.Join(dir, "videos")
	touch(t, filepath.Join(videoDir, "season1", "s01e01.mkv"))

	dataPath := writeEpisodeData(t, dir, []fileEntry{
		{Season: 1, Episode: 1, Name: "Pilot", Filename: "S01E01.mkv"},
	})

	src := &FileSource{
		DataPath:        dataPath,
		VideoSourceDir:  videoDir,
		Recursive:       true,
		VideoExtensions: []string{".mkv"},
	}
	eps, err := src.Episodes(context.Background())
	if err != nil {
		t.Fatalf("Episodes: %v", err)
	}
	if eps[0].Path == "" {
		t.Fatal("expected recursive scan to find nested video")
	}
}

func TestFileSourceRejectsInvalidNumbers(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeEpisodeData(t, dir, []fileEntry{
		{Season: 0, Episode: 1, Name: "Bad", Filename: "x.mkv"},
	})
	src := &FileSource{DataPath: dataPath, VideoSourceDir: dir, VideoExtensions: []string{".mkv"}}
	if _, err := src.Episodes(context.Background()); err == nil {
		t.Fatal("expected error for invalid season number")
	}
}

func TestIndexRandomCoversAll(t *testing.T) {
	eps := []Episode{
		{Season: 1, Episode: 1, Path: "/a", DurationSec: 100},
		{Season: 1, Episode: 2, Path: "/b", DurationSec: 100},
		{Season: 2, Episode: 1, Path: "/c", DurationSec: 100},
	}
	index, err := NewIndex(eps, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[index.Random().Key()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all episodes picked eventually, saw %v", seen)
	}
}

func TestIndexRejectsUnplayable(t *testing.T) {
	eps := []Episode{
		{Season: 1, Episode: 1, Path: "", DurationSec: 100},
		{Season: 1, Episode: 2, Path: "/b", DurationSec: 0},
	}
	if _, err := NewIndex(eps, nil); err == nil {
		t.Fatal("expected error when no playable episodes exist")
	}
}

func TestProbeDurationsAllowMissing(t *testing.T) {
	cache, err := durations.New(false, nil, func(_ context.Context, path string) (float64, error) {
		if path == "/bad" {
			return 0, os.ErrNotExist
		}
		return 300, nil
	}, nil)
	if err != nil {
		t.Fatalf("durations.New: %v", err)
	}

	eps := []Episode{
		{Season: 1, Episode: 1, Path: "/good"},
		{Season: 1, Episode: 2, Path: "/bad"},
		{Season: 1, Episode: 3, Path: ""},
	}
	probed, err := ProbeDurations(context.Background(), eps, cache, 2, true, nil)
	if err != nil {
		t.Fatalf("ProbeDurations: %v", err)
	}
	if len(probed) != 1 || probed[0].Key() != "s01e01" {
		t.Fatalf("unexpected probed set: %+v", probed)
	}
	if probed[0].DurationSec != 300 {
		t.Fatalf("unexpected duration: %v", probed[0].DurationSec)
	}
}

func TestProbeDurationsRejectsUnusableDurations(t *testing.T) {
	cache, err := durations.New(false, nil, func(_ context.Context, path string) (float64, error) {
		if path == "/nan" {
			return math.NaN(), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		t.Fatalf("durations.New: %v", err)
	}

	eps := []Episode{
		{Season: 1, Episode: 1, Path: "/nan"},
		{Season: 1, Episode: 2, Path: "/zero"},
	}
	probed, err := ProbeDurations(context.Background(), eps, cache, 0, true, nil)
	if err != nil {
		t.Fatalf("ProbeDurations: %v", err)
	}
	if len(probed) != 0 {
		t.Fatalf("episodes without usable durations survived: %+v", probed)
	}

	for _, path := range []string{"/nan", "/zero"} {
		strict := []Episode{{Season: 1, Episode: 1, Path: path}}
		if _, err := ProbeDurations(context.Background(), strict, cache, 0, false, nil); err == nil {
			t.Fatalf("expected strict mode to fail for %s", path)
		}
	}
}

func TestProbeDurationsStrictFailsFast(t *testing.T) {
	cache, err := durations.New(false, nil, func(_ context.Context, path string) (float64, error) {
		return 0, os.ErrNotExist
	}, nil)
	if err != nil {
		t.Fatalf("durations.New: %v", err)
	}
	eps := []Episode{{Season: 1, Episode: 1, Path: "/gone"}}
	if _, err := ProbeDurations(context.Background(), eps, cache, 0, false, nil); err == nil {
		t.Fatal("expected strict mode to fail on probe error")
	}
}
