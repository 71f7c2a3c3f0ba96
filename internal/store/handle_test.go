// ABOUTME: Tests for the lock-guarded Handle and its persistence policies.
// ABOUTME: Uses a failing persister to drive the best-effort and strict paths.

package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingPersister fails every save and counts calls.
type failingPersister struct {
	saves int
}

func (p *failingPersister) Load(context.Context) (*Database, error) {
	return nil, errors.New("disk on fire")
}

func (p *failingPersister) Save(context.Context, *Database) error {
	p.saves++
	return errors.New("disk full")
}

func (p *failingPersister) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenHandle_LoadsExisting(t *testing.T) {
	ctx := context.Background()
	f := NewJSONFile(filepath.Join(t.TempDir(), "database.json"))
	require.NoError(t, f.Save(ctx, sampleDatabase()))

	h := OpenHandle(ctx, f, PolicyBestEffort, discardLogger())

	h.View(func(db *Database) {
		assert.True(t, sampleDatabase().Equal(db))
	})
}

func TestOpenHandle_MissingFileStartsEmpty(t *testing.T) {
	f := NewJSONFile(filepath.Join(t.TempDir(), "database.json"))

	h := OpenHandle(context.Background(), f, PolicyBestEffort, discardLogger())

	h.View(func(db *Database) {
		assert.Empty(t, db.Tasks)
		assert.Empty(t, db.Users)
	})
}

func TestOpenHandle_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	h := OpenHandle(context.Background(), NewJSONFile(path), PolicyBestEffort, discardLogger())

	h.View(func(db *Database) {
		assert.Empty(t, db.Tasks)
	})
}

func TestOpenHandle_InconsistentFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.json")
	doc := `{"tasks":{"1":{"id":1,"name":"kept?","completed":false}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	h := OpenHandle(context.Background(), NewJSONFile(path), PolicyBestEffort, discardLogger())

	h.View(func(db *Database) {
		assert.Empty(t, db.Tasks)
		assert.Empty(t, db.Users)
	})
}

func TestHandle_UpdatePersists(t *testing.T) {
	ctx := context.Background()
	f := NewJSONFile(filepath.Join(t.TempDir(), "database.json"))
	h := NewHandle(NewDatabase(), f, PolicyBestEffort, discardLogger())

	err := h.Update(ctx, func(db *Database) {
		db.InsertTask(Task{ID: 1, Name: "buy milk"})
	})
	require.NoError(t, err)

	loaded, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Task{ID: 1, Name: "buy milk"}, loaded.Tasks[1])
}

func TestHandle_BestEffortSwallowsSaveError(t *testing.T) {
	p := &failingPersister{}
	h := NewHandle(NewDatabase(), p, PolicyBestEffort, discardLogger())

	err := h.Update(context.Background(), func(db *Database) {
		db.InsertTask(Task{ID: 1})
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, p.saves)

	h.View(func(db *Database) {
		_, err := db.GetTask(1)
		assert.NoError(t, err, "in-memory change survives a failed save")
	})
}

func TestHandle_StrictReturnsSaveError(t *testing.T) {
	p := &failingPersister{}
	h := NewHandle(NewDatabase(), p, PolicyStrict, discardLogger())

	err := h.Update(context.Background(), func(db *Database) {
		db.InsertTask(Task{ID: 1})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	h.View(func(db *Database) {
		_, err := db.GetTask(1)
		assert.NoError(t, err)
	})
}

func TestHandle_DefaultPolicy(t *testing.T) {
	h := NewHandle(NewDatabase(), &failingPersister{}, "", nil)
	assert.Equal(t, PolicyBestEffort, h.Policy())
}

func TestPersistPolicy_Valid(t *testing.T) {
	assert.True(t, PolicyBestEffort.Valid())
	assert.True(t, PolicyStrict.Valid())
	assert.False(t, PersistPolicy("sometimes").Valid())
	assert.False(t, PersistPolicy("").Valid())
}

func TestHandle_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	f := NewJSONFile(filepath.Join(t.TempDir(), "database.json"))
	h := NewHandle(NewDatabase(), f, PolicyStrict, discardLogger())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			err := h.Update(ctx, func(db *Database) {
				db.InsertTask(Task{ID: id, Name: "concurrent"})
			})
			assert.NoError(t, err)
			h.View(func(db *Database) {
				_, err := db.GetTask(id)
				assert.NoError(t, err)
			})
		}(uint64(i))
	}
	wg.Wait()

	h.View(func(db *Database) {
		assert.Len(t, db.AllTasks(), n)
	})

	// The last save happened under the lock and contains every task
	loaded, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Tasks, n)
}
