// Package warehouse provides the embedded SQLite star-schema warehouse for
// cartable.
//
// The warehouse holds six dimension tables (students, schools, grades,
// subjects, teachers, dates), two fact tables (courses, homework) and the
// processed_files ledger that makes snapshot ingestion idempotent and
// resumable.
//
// The database runs in embedded mode using ncruces/go-sqlite3 with WAL for
// concurrent reads. Writes follow a single-writer discipline: the sync
// engine owns the connection for the duration of a run and wraps every
// snapshot file's storage operations in one transaction.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with warehouse-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create the tables.
//
// The caller MUST call Close() when done, on all exit paths.
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single-writer discipline: one connection is enough and avoids
	// SQLITE_BUSY between the engine's own statements.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the warehouse schema if it doesn't exist.
//
// This creates the dimension tables, fact tables and the processed_files
// ledger along with the indexes used by the sync engine. Idempotent - safe
// to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the warehouse schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Dimension tables. Rows are created on first observation and are
	-- immutable thereafter; there are no updates or deletes.
	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS schools (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS grades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_color TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS teachers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		subject_id INTEGER NOT NULL REFERENCES subjects(id),
		UNIQUE(name, subject_id)
	);

	-- Date dimension, deduplicated by exact normalized timestamp.
	CREATE TABLE IF NOT EXISTS dates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		iso TEXT NOT NULL UNIQUE,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		week_of_year INTEGER NOT NULL,
		weekday INTEGER NOT NULL,
		day_of_month INTEGER NOT NULL,
		hour INTEGER NOT NULL,
		minute INTEGER NOT NULL,
		second INTEGER NOT NULL,
		millisecond INTEGER NOT NULL,
		unix_ts INTEGER NOT NULL
	);

	-- Fact: one scheduled lesson occurrence. Never deleted.
	CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		natural_key TEXT NOT NULL UNIQUE,
		student_id INTEGER NOT NULL REFERENCES students(id),
		school_id INTEGER NOT NULL REFERENCES schools(id),
		grade_id INTEGER NOT NULL REFERENCES grades(id),
		subject_id INTEGER NOT NULL REFERENCES subjects(id),
		teacher_id INTEGER REFERENCES teachers(id),
		start_date_id INTEGER NOT NULL REFERENCES dates(id),
		end_date_id INTEGER NOT NULL REFERENCES dates(id),
		homework_due_date_id INTEGER REFERENCES dates(id),
		content TEXT NOT NULL DEFAULT '[]',  -- JSON list of content items
		locked INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL,
		update_count INTEGER NOT NULL DEFAULT 1,
		update_first_date_id INTEGER NOT NULL REFERENCES dates(id),
		update_last_date_id INTEGER NOT NULL REFERENCES dates(id),
		update_files TEXT NOT NULL DEFAULT '[]'  -- JSON list of source files
	);

	-- Fact: one assigned homework item. Deleted only by the reaper while
	-- still temporary.
	CREATE TABLE IF NOT EXISTS homework (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		natural_key TEXT NOT NULL UNIQUE,
		course_id INTEGER REFERENCES courses(id),
		student_id INTEGER NOT NULL REFERENCES students(id),
		school_id INTEGER NOT NULL REFERENCES schools(id),
		grade_id INTEGER NOT NULL REFERENCES grades(id),
		subject_id INTEGER NOT NULL REFERENCES subjects(id),
		due_date_id INTEGER NOT NULL REFERENCES dates(id),
		assigned_date_id INTEGER NOT NULL REFERENCES dates(id),
		description TEXT NOT NULL DEFAULT '',
		requires_submission INTEGER NOT NULL DEFAULT 0,
		submission_type TEXT NOT NULL DEFAULT '',
		difficulty INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_date_id INTEGER REFERENCES dates(id),
		completion_duration INTEGER,      -- seconds
		max_completion_duration INTEGER,  -- seconds
		completion_state TEXT NOT NULL DEFAULT 'IN_PROGRESS',
		background_color TEXT NOT NULL DEFAULT '',
		public_name TEXT NOT NULL DEFAULT '',
		themes TEXT NOT NULL DEFAULT '[]',       -- JSON array
		attachments TEXT NOT NULL DEFAULT '[]',  -- JSON array
		checksum TEXT NOT NULL,
		update_count INTEGER NOT NULL DEFAULT 1,
		update_first_date_id INTEGER NOT NULL REFERENCES dates(id),
		update_last_date_id INTEGER NOT NULL REFERENCES dates(id),
		update_files TEXT NOT NULL DEFAULT '[]',
		temporary INTEGER NOT NULL DEFAULT 1,
		raw_json TEXT NOT NULL DEFAULT ''
	);

	-- Per-file processing ledger for idempotent, resumable ingestion.
	CREATE TABLE IF NOT EXISTS processed_files (
		file_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'WAITING'
	);

	-- Indexes for the sync engine's hot paths
	CREATE INDEX IF NOT EXISTS idx_dates_unix ON dates(unix_ts);
	CREATE INDEX IF NOT EXISTS idx_courses_student ON courses(student_id);
	CREATE INDEX IF NOT EXISTS idx_homework_student ON homework(student_id);
	CREATE INDEX IF NOT EXISTS idx_homework_temporary
	    ON homework(temporary, student_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
