package runverify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
)

// Tracker drives the per-run verification state machine over the run store.
// All transitions for one run id are serialized; concurrent calls against
// different runs proceed independently.
type Tracker struct {
	runs      *kvstore.Store[RunState]
	archiver  *Archiver
	ttl       time.Duration
	retention int
	logger    *slog.Logger
	clock     func() time.Time

	mu    sync.Mutex
	locks map[string]*runLock
}

// runLock serializes transitions for one run id. refs counts holders plus
// waiters so the map entry is only dropped once nobody references it.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// NewTracker constructs a tracker. The archiver may be nil, which disables
// signed archival entirely.
func NewTracker(runs *kvstore.Store[RunState], archiver *Archiver, ttl time.Duration, retention int, logger *slog.Logger) (*Tracker, error) {
	if runs == nil {
		return nil, errors.New("runverify: run store required")
	}
	if ttl <= 0 {
		return nil, errors.New("runverify: run lifetime must be positive")
	}
	return &Tracker{
		runs:      runs,
		archiver:  archiver,
		ttl:       ttl,
		retention: retention,
		logger:    logging.NewComponentLogger(logger, "runverify"),
		clock:     time.Now,
		locks:     make(map[string]*runLock),
	}, nil
}

// WithClock overrides the time source, for tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

func (t *Tracker) lockRun(runID string) func() {
	t.mu.Lock()
	lock, ok := t.locks[runID]
	if !ok {
		lock = &runLock{}
		t.locks[runID] = lock
	}
	lock.refs++
	t.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		t.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(t.locks, runID)
		}
		t.mu.Unlock()
	}
}

// Get returns the current state for a run id.
func (t *Tracker) Get(ctx context.Context, runID string) (RunState, bool, error) {
	return t.runs.Get(ctx, runID)
}

// Len reports the number of live runs.
func (t *Tracker) Len(ctx context.Context) (int, error) {
	return t.runs.Len(ctx)
}

// Assign records a newly served frame as the run's pending guess, creating
// the run on first contact. Assigning over an unanswered pending frame is a
// protocol violation; the new frame replaces it so the game can continue.
func (t *Tracker) Assign(ctx context.Context, runID, frameID string, assignLatency time.Duration) error {
	defer t.lockRun(runID)()

	state, _, err := t.runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	now := t.clock()
	if state.Pending != nil {
		state.Errors = append(state.Errors, ErrorRecord{
			Type:        ErrorAssignOverride,
			Description: "New frame assigned while a previous frame was still unanswered",
			Ts:          msEpoch(now),
			AttemptedID: frameID,
			Mismatched:  state.Pending,
		})
		t.logger.Warn("assigning over unanswered pending frame",
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldFrameID, frameID))
	}
	state.Pending = &PendingFrame{
		ID:              frameID,
		AssignTs:        msEpoch(now),
		AssignLatencyMs: assignLatency.Milliseconds(),
	}
	return t.save(ctx, runID, state, now)
}

// MarkLoaded records the client acknowledging the frame render. A missing
// run or mismatched pending frame is inconsistent but non-fatal.
func (t *Tracker) MarkLoaded(ctx context.Context, runID, frameID string) error {
	defer t.lockRun(runID)()

	state, found, err := t.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !found {
		t.logger.Warn("run not found when marking frame loaded", logging.String(logging.FieldRunID, runID))
		return nil
	}

	now := t.clock()
	if state.Pending == nil || state.Pending.ID != frameID {
		t.logger.Warn("loaded frame does not match pending frame",
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldFrameID, frameID))
		return t.save(ctx, runID, state, now)
	}
	state.Pending.StartTs = msEpoch(now)
	return t.save(ctx, runID, state, now)
}

// RecordCheck logs the outcome of an answer check against the run's pending
// frame. Desynchronized clients produce error records, never failures; the
// caller's answer comparison is unaffected by the branch taken.
func (t *Tracker) RecordCheck(ctx context.Context, runID, frameID string, guess, answer Guess, seekTimeSec float64) error {
	defer t.lockRun(runID)()

	state, found, err := t.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !found {
		t.logger.Error("run not found when tracking answer check", logging.String(logging.FieldRunID, runID))
		return nil
	}

	now := t.clock()
	switch {
	case state.Pending == nil:
		state.Errors = append(state.Errors, ErrorRecord{
			Type:        ErrorNoPending,
			Description: "Answer given, but no answer was expected (state incorrect)",
			Ts:          msEpoch(now),
			AttemptedID: frameID,
		})
	case state.Pending.ID != frameID:
		// The stale pending frame stays in place so a later check against
		// the right id can still resolve it.
		state.Errors = append(state.Errors, ErrorRecord{
			Type:        ErrorPendingMismatch,
			Description: "Answer given for the wrong frame (ids mismatched)",
			Ts:          msEpoch(now),
			AttemptedID: frameID,
			Mismatched:  state.Pending,
		})
	case state.Pending.StartTs == 0:
		state.Errors = append(state.Errors, ErrorRecord{
			Type:        ErrorCheckUnloaded,
			Description: "Checking an answer for a frame that wasn't loaded",
			Ts:          msEpoch(now),
			AttemptedID: frameID,
		})
	default:
		pending := state.Pending
		state.Pending = nil
		state.History = append(state.History, HistoryEntry{
			ID:              frameID,
			AssignTs:        pending.AssignTs,
			StartTs:         pending.StartTs,
			GuessTs:         msEpoch(now),
			Guess:           guess,
			Answer:          answer,
			AssignLatencyMs: pending.AssignLatencyMs,
			SeekTimeSec:     seekTimeSec,
		})
	}

	if err := t.save(ctx, runID, state, now); err != nil {
		return err
	}
	t.logger.Info("logged answer check to verified run", logging.String(logging.FieldRunID, runID))

	if t.eligible(state) {
		// Re-archived on every further check so the artifact tracks the
		// full history. Archival is best-effort relative to the check.
		if err := t.archiver.Archive(ctx, runID, state); err != nil {
			t.logger.Error("run archival failed",
				logging.String(logging.FieldRunID, runID),
				logging.Error(err))
		}
	}
	return nil
}

// Retire finalizes an expired run as it leaves the live store, archiving it
// when its history met the retention threshold.
func (t *Tracker) Retire(ctx context.Context, runID string, state RunState) error {
	defer t.lockRun(runID)()

	if !t.eligible(state) {
		return nil
	}
	return t.archiver.Archive(ctx, runID, state)
}

func (t *Tracker) eligible(state RunState) bool {
	return t.archiver != nil && t.retention > 0 && len(state.History) >= t.retention
}

func (t *Tracker) save(ctx context.Context, runID string, state RunState, now time.Time) error {
	// Every touch keeps an active run alive.
	state.ExpiryTs = msEpoch(now.Add(t.ttl))
	return t.runs.Set(ctx, runID, state, t.ttl)
}
