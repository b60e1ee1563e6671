package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Checkpointer.
//
// Designed for:
//   - Production graphs requiring persistence
//   - Several workers resuming threads from a shared database
//   - Audit trails of every committed round
//
// MySQLStore uses connection pooling and implements HistoryReader, Deleter
// and Lister.
type MySQLStore struct {
	*sqlStore
}

// Checkpoints are stored as LONGTEXT rather than JSON so encoded channel
// values round-trip byte for byte.
var mysqlQueries = sqlQueries{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS stategraph_checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			interrupted BOOLEAN NOT NULL DEFAULT FALSE,
			payload LONGTEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	save: `INSERT INTO stategraph_checkpoints (thread_id, step, interrupted, payload)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			interrupted = VALUES(interrupted),
			payload = VALUES(payload)`,
	load:       `SELECT payload FROM stategraph_checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`,
	history:    `SELECT payload FROM stategraph_checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT ?`,
	historyAll: `SELECT payload FROM stategraph_checkpoints WHERE thread_id = ? ORDER BY step DESC`,
	delete:     `DELETE FROM stategraph_checkpoints WHERE thread_id = ?`,
	threads:    `SELECT DISTINCT thread_id FROM stategraph_checkpoints ORDER BY thread_id`,
}

// NewMySQLStore creates a new MySQL-backed checkpointer.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/graphs
//	user:password@/graphs (uses localhost:3306)
//
// NEVER hardcode credentials in your source code. Read the DSN from the
// environment or a config file.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	base, err := newSQLStore(ctx, db, mysqlQueries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: base}, nil
}

// Stats returns database connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}
