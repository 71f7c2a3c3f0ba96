// ABOUTME: Persister interface and the JSON file implementation
// ABOUTME: Saves rewrite the whole document; loads rebuild a Database from it

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
)

// ErrNoSnapshot is returned by Load when nothing has been persisted yet.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// Driver names accepted by OpenPersister.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Persister loads and saves a complete Database.
// Implementations are called with the Handle lock held and need no locking of their own.
type Persister interface {
	Load(ctx context.Context) (*Database, error)
	Save(ctx context.Context, db *Database) error
	Close() error
}

// OpenPersister returns the persister for the given driver and path.
func OpenPersister(driver, path string) (Persister, error) {
	switch driver {
	case "", DriverJSON:
		return NewJSONFile(path), nil
	case DriverSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// JSONFile persists the Database as a single JSON document at a fixed path.
type JSONFile struct {
	path string
}

// NewJSONFile returns a persister writing to path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Path returns the file the document is written to.
func (f *JSONFile) Path() string {
	return f.path
}

// Load reads and parses the document.
func (f *JSONFile) Load(_ context.Context) (*Database, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, f.path)
		}
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	db, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return db, nil
}

// snapshot is the persisted document. Pointer values let null entries be told
// apart from zero-valued records.
type snapshot struct {
	Tasks map[uint64]*Task `json:"tasks"`
	Users map[uint64]*User `json:"users"`
}

// decodeSnapshot parses a saved document. Both maps must be present, every
// entry must be non-null and each record's id must equal its key.
func decodeSnapshot(data []byte) (*Database, error) {
	var doc snapshot
	if err := jsonv2.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	switch {
	case doc.Tasks == nil:
		return nil, errors.New(`missing field "tasks"`)
	case doc.Users == nil:
		return nil, errors.New(`missing field "users"`)
	}

	db := NewDatabase()
	for key, task := range doc.Tasks {
		if task == nil {
			return nil, fmt.Errorf("task %d is null", key)
		}
		if task.ID != key {
			return nil, fmt.Errorf("task stored under key %d has id %d", key, task.ID)
		}
		db.Tasks[key] = *task
	}
	for key, user := range doc.Users {
		if user == nil {
			return nil, fmt.Errorf("user %d is null", key)
		}
		if user.ID != key {
			return nil, fmt.Errorf("user stored under key %d has id %d", key, user.ID)
		}
		db.Users[key] = *user
	}
	return db, nil
}

// Save overwrites the file with the compact JSON encoding of db.
func (f *JSONFile) Save(_ context.Context, db *Database) error {
	data, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("encoding database: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return nil
}

// Close is a no-op; the file is opened per write.
func (f *JSONFile) Close() error {
	return nil
}
