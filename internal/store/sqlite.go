// ABOUTME: SQLite implementation of the Persister interface using modernc.org/sqlite
// ABOUTME: Every save rewrites the tasks and users tables inside one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Persister using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens a SQLite database at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Ids are stored as text because SQLite integers are signed 64-bit.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			completed INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id       TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			password TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshot_meta (
			id       INTEGER PRIMARY KEY CHECK (id = 1),
			saved_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads both tables. A database that has never been saved reports ErrNoSnapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*Database, error) {
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM snapshot_meta WHERE id = 1`).Scan(&savedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot metadata: %w", err)
	}

	db := NewDatabase()
	if err := s.loadTasks(ctx, db); err != nil {
		return nil, err
	}
	if err := s.loadUsers(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *SQLiteStore) loadTasks(ctx context.Context, db *Database) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, completed FROM tasks`)
	if err != nil {
		return fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawID string
		var t Task
		if err := rows.Scan(&rawID, &t.Name, &t.Completed); err != nil {
			return fmt.Errorf("scanning task: %w", err)
		}
		t.ID, err = strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing task id %q: %w", rawID, err)
		}
		db.Tasks[t.ID] = t
	}
	return rows.Err()
}

func (s *SQLiteStore) loadUsers(ctx context.Context, db *Database) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, password FROM users`)
	if err != nil {
		return fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawID string
		var u User
		if err := rows.Scan(&rawID, &u.Username, &u.Password); err != nil {
			return fmt.Errorf("scanning user: %w", err)
		}
		u.ID, err = strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing user id %q: %w", rawID, err)
		}
		db.Users[u.ID] = u
	}
	return rows.Err()
}

// Save replaces the contents of both tables with db.
func (s *SQLiteStore) Save(ctx context.Context, db *Database) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clearing tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("clearing users: %w", err)
	}

	for _, t := range db.Tasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, name, completed) VALUES (?, ?, ?)`,
			strconv.FormatUint(t.ID, 10), t.Name, t.Completed,
		)
		if err != nil {
			return fmt.Errorf("inserting task %d: %w", t.ID, err)
		}
	}

	for _, u := range db.Users {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, username, password) VALUES (?, ?, ?)`,
			strconv.FormatUint(u.ID, 10), u.Username, u.Password,
		)
		if err != nil {
			return fmt.Errorf("inserting user %d: %w", u.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (id, saved_at) VALUES (1, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at
	`)
	if err != nil {
		return fmt.Errorf("updating snapshot metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
