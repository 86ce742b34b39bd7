package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sensors (
	position  INTEGER NOT NULL,
	sensor_id TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	address   TEXT NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	category  TEXT NOT NULL DEFAULT '',
	min_value REAL NOT NULL DEFAULT 0,
	max_value REAL NOT NULL DEFAULT 0,
	digital   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS latest_values (
	sensor_id TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	value     REAL NOT NULL,
	unit      TEXT NOT NULL DEFAULT '',
	quality   TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);`

// DB wraps the SQLite handle holding the sensor catalog and last-value snapshots.
type DB struct {
	SQL *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	s, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; keeps modernc from returning SQLITE_BUSY between goroutines
	s.SetMaxOpenConns(1)
	if _, err := s.ExecContext(context.Background(), schema); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{SQL: s}, nil
}

func (d *DB) Close() error { return d.SQL.Close() }
