package episodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSource loads episode metadata from a JSON file and resolves each
// entry's video inside the configured source directory.
type FileSource struct {
	DataPath        string
	VideoSourceDir  string
	Recursive       bool
	VideoExtensions []string
}

type fileEntry struct {
	Season   int    `json:"season"`
	Episode  int    `json:"episode"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

// Episodes reads the data file and maps entries to video paths. Entries whose
// video cannot be located are returned with an empty Path; the caller applies
// the allow-missing policy.
func (s *FileSource) Episodes(ctx context.Context) ([]Episode, error) {
	raw, err := os.ReadFile(s.DataPath)
	if err != nil {
		return nil, fmt.Errorf("read episode data: %w", err)
	}

	var entries []fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse episode data: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("episode data %s contains no entries", s.DataPath)
	}

	videos, err := s.scanVideos()
	if err != nil {
		return nil, err
	}

	episodes := make([]Episode, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Season <= 0 || entry.Episode <= 0 {
			return nil, fmt.Errorf("episode data entry %q has invalid season/episode %d/%d", entry.Name, entry.Season, entry.Episode)
		}
		episodes = append(episodes, Episode{
			Season:  entry.Season,
			Episode: entry.Episode,
			Name:    entry.Name,
			Path:    videos[strings.ToLower(entry.Filename)],
		})
	}
	return episodes, nil
}

// scanVideos maps lowercase basenames to absolute paths for every video file
// under the source directory.
func (s *FileSource) scanVideos() (map[string]string, error) {
	videos := make(map[string]string)

	record := func(path string) {
		base := strings.ToLower(filepath.Base(path))
		if _, exists := videos[base]; !exists {
			videos[base] = path
		}
	}

	if s.Recursive {
		err := filepath.WalkDir(s.VideoSourceDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && s.isVideo(path) {
				record(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan video dir: %w", err)
		}
		return videos, nil
	}

	dirEntries, err := os.ReadDir(s.VideoSourceDir)
	if err != nil {
		return nil, fmt.Errorf("scan video dir: %w", err)
	}
	for _, entry := range dirEntries {
		if entry.IsDir() || !s.isVideo(entry.Name()) {
			continue
		}
		record(filepath.Join(s.VideoSourceDir, entry.Name()))
	}
	return videos, nil
}

func (s *FileSource) isVideo(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range s.VideoExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
