package runverify

import "time"

// Error record types appended when a client desynchronizes from the
// assign/load/check protocol.
const (
	ErrorNoPending       = "no_pending"
	ErrorPendingMismatch = "pending_mismatch"
	ErrorCheckUnloaded   = "check_unloaded"
	ErrorAssignOverride  = "assign_override"
)

// Guess pairs a season and episode number, used for both the submitted guess
// and the recorded answer.
type Guess struct {
	Season  int `json:"season"`
	Episode int `json:"episode"`
}

// PendingFrame tracks the frame a run is currently expected to answer.
// Timestamps are millisecond epoch values.
type PendingFrame struct {
	ID              string `json:"id"`
	AssignTs        int64  `json:"assignTs"`
	StartTs         int64  `json:"startTs,omitempty"`
	AssignLatencyMs int64  `json:"assignLatencyMs"`
}

// HistoryEntry is one completed guess. Immutable once appended.
type HistoryEntry struct {
	ID              string  `json:"id"`
	AssignTs        int64   `json:"assignTs"`
	StartTs         int64   `json:"startTs"`
	GuessTs         int64   `json:"guessTs"`
	Guess           Guess   `json:"guess"`
	Answer          Guess   `json:"answer"`
	AssignLatencyMs int64   `json:"assignLatencyMs"`
	SeekTimeSec     float64 `json:"seekTimeSec"`
}

// ErrorRecord is one protocol violation observed on a run. These are
// diagnostics for a desynchronized client, not server faults.
type ErrorRecord struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Ts          int64         `json:"ts"`
	AttemptedID string        `json:"attemptedId,omitempty"`
	Mismatched  *PendingFrame `json:"mismatched,omitempty"`
}

// RunState is the full verification state for one run id.
type RunState struct {
	Pending  *PendingFrame  `json:"pending"`
	History  []HistoryEntry `json:"history"`
	Errors   []ErrorRecord  `json:"errors"`
	ExpiryTs int64          `json:"expiryTs"`
}

func msEpoch(t time.Time) int64 {
	return t.UnixMilli()
}
