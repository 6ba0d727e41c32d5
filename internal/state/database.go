package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database backing the segment catalog
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// initSchema initializes the database schema
func (d *Database) initSchema() error {
	schema := `
	-- Segment catalog: one row per recorded file. The filesystem stays
	-- the source of truth; rows are bookkeeping for stats and health.
	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		camera TEXT NOT NULL,          -- "host:port"
		path TEXT NOT NULL UNIQUE,     -- relative to the recordings dir
		backend TEXT NOT NULL,         -- TRANSCODER or FRAME_GRAB
		started_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		corrupt BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_segments_camera ON segments(camera, started_at);
	CREATE INDEX IF NOT EXISTS idx_segments_open ON segments(closed_at) WHERE closed_at IS NULL;
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// ensureDir ensures a directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
