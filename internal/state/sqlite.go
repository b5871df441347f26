package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/codesearch/internal/apperr"
)

// SQLiteStore keeps one row per indexed file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.Store("create database directory", err)
		}
	}
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, apperr.Store("open database", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, apperr.Store("enable WAL", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, apperr.Store("initialize schema", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexed_files (
		path TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Load returns every recorded path and fingerprint.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, fingerprint FROM indexed_files`)
	if err != nil {
		return nil, apperr.Store("query indexed files", err)
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var path, fp string
		if err := rows.Scan(&path, &fp); err != nil {
			return nil, apperr.Store("scan indexed file", err)
		}
		snap[path] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("query indexed files", err)
	}
	return snap, nil
}

// Save replaces all rows in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Store("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM indexed_files`); err != nil {
		return apperr.Store("clear indexed files", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO indexed_files (path, fingerprint, indexed_at) VALUES (?, ?, ?)`)
	if err != nil {
		return apperr.Store("prepare insert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, path := range snap.Paths() {
		if _, err := stmt.ExecContext(ctx, path, snap[path], now); err != nil {
			return apperr.Store("insert indexed file", fmt.Errorf("%s: %w", path, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Store("commit state", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
