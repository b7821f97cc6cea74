package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store provides expiring key-value persistence for a single record type.
// Entries past their expiry stay retrievable until a sweep removes them;
// expiry is a sweeping policy, not a read barrier.
type Store[T any] struct {
	db    *DB
	table string
	clock func() time.Time

	// sweepHook runs between expired-candidate selection and deletion, for
	// tests exercising the expiry re-check.
	sweepHook func()
}

// NewStore binds a named store table on the shared database, creating the
// table on first use.
func NewStore[T any](db *DB, name string) (*Store[T], error) {
	if db == nil || db.db == nil {
		return nil, errors.New("kvstore: nil database")
	}
	if !tableNamePattern.MatchString(name) {
		return nil, fmt.Errorf("kvstore: invalid store name %q", name)
	}

	schema := `CREATE TABLE IF NOT EXISTS ` + name + ` (
        key TEXT PRIMARY KEY,
        payload TEXT NOT NULL,
        created_at TEXT NOT NULL,
        expires_at TEXT
    )`
	if _, err := db.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	index := `CREATE INDEX IF NOT EXISTS idx_` + name + `_expires ON ` + name + ` (expires_at)`
	if _, err := db.db.Exec(index); err != nil {
		return nil, fmt.Errorf("index store %s: %w", name, err)
	}

	return &Store[T]{db: db, table: name, clock: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (s *Store[T]) WithClock(clock func() time.Time) *Store[T] {
	s.clock = clock
	return s
}

// Name returns the store's table name.
func (s *Store[T]) Name() string {
	return s.table
}

// Get fetches the record stored under key. The second return reports presence.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	row := s.db.db.QueryRowContext(ctx, `SELECT payload FROM `+s.table+` WHERE key = ?`, key)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("get %s/%s: %w", s.table, key, err)
	}
	var value T
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return zero, false, fmt.Errorf("decode %s/%s: %w", s.table, key, err)
	}
	return value, true, nil
}

// Set stores value under key. A positive ttl sets the entry's expiry to
// now + ttl; ttl <= 0 stores the entry without expiry.
func (s *Store[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", s.table, key, err)
	}

	now := s.clock().UTC()
	var expires any
	if ttl > 0 {
		expires = now.Add(ttl).Format(time.RFC3339Nano)
	}

	_, err = s.db.db.ExecContext(
		ctx,
		`INSERT INTO `+s.table+` (key, payload, created_at, expires_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key,
		string(payload),
		now.Format(time.RFC3339Nano),
		expires,
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", s.table, key, err)
	}
	return nil
}

// Refresh moves an existing entry's expiry to now + ttl without touching the
// payload. Returns false when the key is absent.
func (s *Store[T]) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var expires any
	if ttl > 0 {
		expires = s.clock().UTC().Add(ttl).Format(time.RFC3339Nano)
	}
	res, err := s.db.db.ExecContext(ctx, `UPDATE `+s.table+` SET expires_at = ? WHERE key = ?`, expires, key)
	if err != nil {
		return false, fmt.Errorf("refresh %s/%s: %w", s.table, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes the entry under key, reporting whether one existed.
func (s *Store[T]) Remove(ctx context.Context, key string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("remove %s/%s: %w", s.table, key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Keys returns every stored key ordered by creation time.
func (s *Store[T]) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT key FROM `+s.table+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", s.table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Len returns the number of stored entries.
func (s *Store[T]) Len(ctx context.Context) (int, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+s.table)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return count, nil
}

// Expired holds a removed entry returned by SweepExpired.
type Expired[T any] struct {
	Key   string
	Value T
}

// SweepExpired removes every entry whose expiry is at or before now and
// returns the removed entries so callers can release attached resources.
// Each delete re-checks the expiry against the same cutoff, so an entry
// refreshed after selection stays alive and is not reported as removed.
// Entries with a corrupt payload are removed and skipped.
func (s *Store[T]) SweepExpired(ctx context.Context, now time.Time) ([]Expired[T], error) {
	cutoff := now.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.db.QueryContext(
		ctx,
		`SELECT key, payload FROM `+s.table+` WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY created_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired %s: %w", s.table, err)
	}

	type candidate struct {
		key     string
		payload string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.key, &c.payload); err != nil {
			_ = rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if s.sweepHook != nil {
		s.sweepHook()
	}

	var removed []Expired[T]
	for _, c := range candidates {
		res, err := s.db.db.ExecContext(
			ctx,
			`DELETE FROM `+s.table+` WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
			c.key,
			cutoff,
		)
		if err != nil {
			return removed, fmt.Errorf("delete expired %s/%s: %w", s.table, c.key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Touched after selection; the entry is live again.
			continue
		}
		var value T
		if err := json.Unmarshal([]byte(c.payload), &value); err != nil {
			continue
		}
		removed = append(removed, Expired[T]{Key: c.key, Value: value})
	}
	return removed, nil
}
