// ABOUTME: Handle is the single lock-guarded owner of the Database
// ABOUTME: Serializes every read and write and flushes to the Persister after mutations

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// PersistPolicy decides what a failed save means for the caller.
type PersistPolicy string

const (
	// PolicyBestEffort logs save failures and reports success.
	PolicyBestEffort PersistPolicy = "best_effort"
	// PolicyStrict returns save failures to the caller.
	PolicyStrict PersistPolicy = "strict"
)

// Valid reports whether p is a known policy.
func (p PersistPolicy) Valid() bool {
	return p == PolicyBestEffort || p == PolicyStrict
}

// Handle shares one Database between concurrent requests.
// A single mutex guards it: reads and writes all serialize, and a mutation
// holds the lock until its save has finished.
type Handle struct {
	mu        sync.Mutex
	db        *Database
	persister Persister
	policy    PersistPolicy
	logger    *slog.Logger
}

// NewHandle wraps an existing database.
func NewHandle(db *Database, persister Persister, policy PersistPolicy, logger *slog.Logger) *Handle {
	if policy == "" {
		policy = PolicyBestEffort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		db:        db,
		persister: persister,
		policy:    policy,
		logger:    logger,
	}
}

// OpenHandle loads the database through persister. Any load failure,
// including a corrupt document, starts an empty database instead.
func OpenHandle(ctx context.Context, persister Persister, policy PersistPolicy, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := persister.Load(ctx)
	switch {
	case err == nil:
		logger.Info("database loaded", "tasks", len(db.Tasks), "users", len(db.Users))
	case errors.Is(err, ErrNoSnapshot):
		logger.Info("no saved database, starting empty")
		db = NewDatabase()
	default:
		logger.Warn("failed to load database, starting empty", "error", err)
		db = NewDatabase()
	}

	return NewHandle(db, persister, policy, logger)
}

// Policy returns the persistence policy in effect.
func (h *Handle) Policy() PersistPolicy {
	return h.policy
}

// View runs fn with exclusive access to the database.
// fn must not keep references to the database after it returns.
func (h *Handle) View(fn func(db *Database)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.db)
}

// Update runs fn with exclusive access and then saves the whole database
// before releasing the lock. Save failures are returned only under PolicyStrict;
// the in-memory change is kept either way.
func (h *Handle) Update(ctx context.Context, fn func(db *Database)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn(h.db)

	if err := h.persister.Save(ctx, h.db); err != nil {
		if h.policy == PolicyStrict {
			return fmt.Errorf("saving database: %w", err)
		}
		h.logger.Warn("failed to save database", "error", err)
	}
	return nil
}

// Close releases the persister.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.persister.Close()
}
