package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// sqlQueries holds the dialect-specific statements of a SQL checkpointer.
//
// Every statement operates on one table keyed by (thread_id, step) whose
// payload column holds the JSON-encoded checkpoint.
type sqlQueries struct {
	schema     []string
	save       string // thread_id, step, interrupted, payload
	load       string // thread_id
	history    string // thread_id, limit
	historyAll string // thread_id
	delete     string // thread_id
	threads    string
}

// sqlStore implements Checkpointer, HistoryReader, Deleter and Lister over
// database/sql. SQLiteStore, MySQLStore and PostgresStore wrap it with their
// driver and dialect.
type sqlStore struct {
	db     *sql.DB
	q      sqlQueries
	mu     sync.RWMutex
	closed bool
}

func newSQLStore(ctx context.Context, db *sql.DB, q sqlQueries) (*sqlStore, error) {
	s := &sqlStore{db: db, q: q}
	for _, stmt := range q.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return s, nil
}

func (s *sqlStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save upserts cp as the checkpoint of (cp.ThreadID, cp.Step).
func (s *sqlStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := s.check(); err != nil {
		return err
	}
	if cp.ThreadID == "" {
		return errMissingThread
	}

	payload, err := encode(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.q.save, cp.ThreadID, cp.Step, cp.Interrupted, string(payload)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint with the highest step of threadID.
func (s *sqlStore) Load(ctx context.Context, threadID string) (Checkpoint, error) {
	if err := s.check(); err != nil {
		return Checkpoint{}, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx, s.q.load, threadID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cp, err := decode([]byte(payload))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// History returns up to limit checkpoints of threadID, newest first.
func (s *sqlStore) History(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, s.q.history, threadID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.q.historyAll, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		cp, err := decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return out, nil
}

// Delete removes every checkpoint of threadID.
func (s *sqlStore) Delete(ctx context.Context, threadID string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.delete, threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Threads returns every thread id with a checkpoint, sorted.
func (s *sqlStore) Threads(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q.threads)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. Calling Close more than once is safe.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
