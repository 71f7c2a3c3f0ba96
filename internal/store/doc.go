// Package store holds taskd's records and their persistence.
//
// # Architecture
//
// Three pieces, leaves first:
//
//   - Database: in-memory maps of tasks and users keyed by id, with CRUD
//     methods. It does no locking.
//   - Persister: loads and saves a whole Database. JSONFile writes one JSON
//     document; SQLiteStore keeps the same data in two tables.
//   - Handle: the one shared, mutex-guarded owner of the Database.
//
// # Concurrency
//
// Every access goes through a Handle. View and Update take the same mutex,
// so even concurrent reads serialize. Update keeps the lock while the
// Persister writes, so slow disks stall readers too.
//
// # Persisted Format
//
// JSONFile writes the whole Database on every mutation:
//
//	{"tasks":{"1":{"id":1,"name":"buy milk","completed":false}},
//	 "users":{"1":{"id":1,"username":"alice","password":"secret"}}}
//
// Map keys are decimal strings. Passwords are stored as given. A document
// missing either map, holding a null entry, or filing a record under a key
// other than its id fails to load.
//
// # Error Handling
//
//   - ErrNotFound: requested task or user does not exist
//   - ErrNoSnapshot: nothing has been persisted yet
//
// Save failures follow the Handle's PersistPolicy: PolicyBestEffort logs
// and carries on, PolicyStrict returns the error. Load failures at startup
// always fall back to an empty Database.
//
// # Testing
//
// Use NewJSONFile with a path under t.TempDir(), or NewSQLiteStore(":memory:").
package store
