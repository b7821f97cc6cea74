package pregen

import "time"

// FrameRecord tracks one generated still image from creation until it is
// served and its answer claimed, or until the sweeper reclaims it.
type FrameRecord struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	EpisodeKey  string    `json:"episode_key"`
	Quality     float64   `json:"quality"`
	SubQuality  bool      `json:"sub_quality"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Served      bool      `json:"served"`
	ServedAt    time.Time `json:"served_at,omitempty"`
	SeekTimeSec float64   `json:"seek_time_sec"`
}

// AnswerRecord carries the season/episode solution paired with a frame. It
// shares the frame's identifier and is created in the same generation job.
type AnswerRecord struct {
	ID          string    `json:"id"`
	Season      int       `json:"season"`
	Episode     int       `json:"episode"`
	Name        string    `json:"name"`
	SeekTimeSec float64   `json:"seek_time_sec"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
