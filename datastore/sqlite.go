package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// sqliteSchema is created on open. Timestamps are stored as text in
// timeLayout format, which sorts chronologically.
const sqliteSchema = `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT 'updated',
	engines TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	engine TEXT,
	http_code INTEGER,
	response TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	processed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at);`

// SQLite is a Store backed by an embedded SQLite database. All statements are
// shared with the MySQL store; only table truncation differs.
type SQLite struct {
	MySQL
}

// OpenSQLite opens (creating if needed) the database at path and bootstraps
// the queue table.
func OpenSQLite(path, table string, logger *zap.Logger) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("OpenSQLite: apply pragma %q: %w", pragma, err)
		}
	}

	schema := fmt.Sprintf(sqliteSchema, table, table, table, table, table)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite: create schema: %w", err)
	}

	return SQLite{MySQL{
		db:     db,
		table:  table,
		logger: logger,
	}}, nil
}

// ClearAll empties the queue. SQLite has no TRUNCATE statement.
func (s SQLite) ClearAll(ctx context.Context) error {
	q := fmt.Sprintf(`DELETE FROM %s`, s.table)

	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite.ClearAll: %w", err)
	}

	s.logger.Info("queue cleared", zap.String("table", s.table))

	return nil
}
