package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Checkpointer.
//
// It keeps every checkpoint of every thread in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process graphs
//   - Local graphs requiring persistence across restarts
//
// SQLiteStore uses WAL mode for concurrent reads. It also implements
// HistoryReader, Deleter and Lister.
//
// Schema:
//   - stategraph_checkpoints: one row per (thread_id, step)
type SQLiteStore struct {
	*sqlStore
	path string
}

var sqliteQueries = sqlQueries{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS stategraph_checkpoints (
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			interrupted BOOLEAN NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, step)
		)`,
	},
	save: `INSERT INTO stategraph_checkpoints (thread_id, step, interrupted, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id, step) DO UPDATE SET
			interrupted = excluded.interrupted,
			payload = excluded.payload,
			created_at = CURRENT_TIMESTAMP`,
	load:       `SELECT payload FROM stategraph_checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`,
	history:    `SELECT payload FROM stategraph_checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT ?`,
	historyAll: `SELECT payload FROM stategraph_checkpoints WHERE thread_id = ? ORDER BY step DESC`,
	delete:     `DELETE FROM stategraph_checkpoints WHERE thread_id = ?`,
	threads:    `SELECT DISTINCT thread_id FROM stategraph_checkpoints ORDER BY thread_id`,
}

// NewSQLiteStore creates a new SQLite-backed checkpointer.
//
// The path parameter specifies the database file location:
//   - "./dev.db" - file in current directory
//   - "/tmp/graph.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store creates the database file and table if they don't exist.
//
// Example:
//
//	cp, err := store.NewSQLiteStore("./dev.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cp.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	base, err := newSQLStore(ctx, db, sqliteQueries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: base, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
