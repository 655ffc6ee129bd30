// Package store implements the durable, idempotent event log that
// backs the relay: a de-duplicated, time-indexed log of events on top
// of an embedded SQLite database (modernc.org/sqlite).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nostrelay/relay/internal/nostr"

	_ "modernc.org/sqlite"
)

// PutResult reports the outcome of Store.Put.
type PutResult int

const (
	Added PutResult = iota
	Duplicate
)

// ErrStoreError wraps failures bubbled up from the underlying engine.
// The caller rejects the offending ingest with a NOTICE and logs at
// error level, without terminating the session.
type ErrStoreError struct {
	Op  string
	Err error
}

func (e *ErrStoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *ErrStoreError) Unwrap() error { return e.Err }

// Store is the durable, de-duplicated, time-indexed event log.
// Safe for concurrent use: SQLite serializes writers internally and
// Put's INSERT OR IGNORE makes de-duplication atomic, so two
// concurrent writes of the same id never both succeed, without an
// application-level lock.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite-backed event store at
// path and ensures its schema exists. The two tables are `events`,
// keyed by event id, and `events_by_time`, keyed by
// (neg_created_at, id) for descending scans.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A relay is a heavy single-writer, many-reader workload; WAL mode
	// and a single open connection avoid SQLITE_BUSY under concurrent
	// session ingest without adding an application-level write lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			body TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS events_by_time (
			neg_created_at INTEGER NOT NULL,
			id TEXT NOT NULL,
			PRIMARY KEY (neg_created_at, id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_pubkey ON events(pubkey);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put appends event to the store, de-duplicating by id. Both the
// primary table and the time index are written atomically within a
// single transaction. Durable on return.
func (s *Store) Put(e *nostr.Event) (PutResult, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return 0, &ErrStoreError{Op: "marshal event", Err: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, &ErrStoreError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO events (id, pubkey, created_at, kind, body) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.PubKey, e.CreatedAt, e.Kind, body,
	)
	if err != nil {
		return 0, &ErrStoreError{Op: "insert event", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &ErrStoreError{Op: "rows affected", Err: err}
	}
	if affected == 0 {
		return Duplicate, nil
	}

	if _, err := tx.Exec(
		`INSERT INTO events_by_time (neg_created_at, id) VALUES (?, ?)`,
		-e.CreatedAt, e.ID,
	); err != nil {
		return 0, &ErrStoreError{Op: "insert time index", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &ErrStoreError{Op: "commit", Err: err}
	}

	return Added, nil
}

// Query returns the events matching nostr.MatchesAny(filters, ·),
// most-recent-first by created_at. Each filter's own limit bounds the
// number of results contributed to that filter; a filter without a
// limit is bounded only by the catalogue size. This scans
// events_by_time in descending order, which is sufficient for
// correctness at the scale this relay targets.
func (s *Store) Query(filters []nostr.Filter) ([]nostr.Event, error) {
	remaining := make([]int, len(filters))
	for i, f := range filters {
		if f.Limit != nil {
			remaining[i] = *f.Limit
		} else {
			remaining[i] = -1 // unbounded
		}
	}

	rows, err := s.db.Query(`
		SELECT e.body FROM events_by_time t
		JOIN events e ON e.id = t.id
		ORDER BY t.neg_created_at ASC, t.id ASC
	`)
	if err != nil {
		return nil, &ErrStoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	var results []nostr.Event
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, &ErrStoreError{Op: "scan", Err: err}
		}
		var e nostr.Event
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, &ErrStoreError{Op: "unmarshal", Err: err}
		}

		matchedAny := false
		for i := range filters {
			if remaining[i] == 0 {
				continue // this filter's quota is exhausted
			}
			if !nostr.Matches(&filters[i], &e) {
				continue
			}
			matchedAny = true
			if remaining[i] > 0 {
				remaining[i]--
			}
		}
		if matchedAny {
			results = append(results, e)
		}

		if allQuotasExhausted(remaining) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &ErrStoreError{Op: "rows", Err: err}
	}

	return results, nil
}

func allQuotasExhausted(remaining []int) bool {
	for _, r := range remaining {
		if r != 0 {
			return false
		}
	}
	return len(remaining) > 0
}
