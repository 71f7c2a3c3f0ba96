// ABOUTME: Record types and the in-memory Database for taskd
// ABOUTME: Database holds tasks and users keyed by id and provides CRUD without locking

package store

import (
	"errors"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Task is a single to-do item.
type Task struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// User is a registered account. Password is stored in cleartext.
type User struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Database is the in-memory collection of tasks and users.
// Keys always equal the id field of the stored value.
//
// Database is not safe for concurrent use; share it through a Handle.
type Database struct {
	Tasks map[uint64]Task `json:"tasks"`
	Users map[uint64]User `json:"users"`
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{
		Tasks: make(map[uint64]Task),
		Users: make(map[uint64]User),
	}
}

// InsertTask stores task under task.ID, overwriting any existing entry.
func (d *Database) InsertTask(task Task) {
	d.Tasks[task.ID] = task
}

// GetTask returns the task with the given id or ErrNotFound.
func (d *Database) GetTask(id uint64) (Task, error) {
	task, ok := d.Tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task, nil
}

// AllTasks returns every task in map iteration order.
func (d *Database) AllTasks() []Task {
	tasks := make([]Task, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// UpdateTask has the same semantics as InsertTask: an unknown id is created.
func (d *Database) UpdateTask(task Task) {
	d.Tasks[task.ID] = task
}

// DeleteTask removes the task with the given id. Absent ids are ignored.
func (d *Database) DeleteTask(id uint64) {
	delete(d.Tasks, id)
}

// InsertUser stores user under user.ID, overwriting any existing entry.
func (d *Database) InsertUser(user User) {
	d.Users[user.ID] = user
}

// UserByName scans all users and returns the first one with a matching username.
// Usernames are not unique; with duplicates the result depends on map order.
func (d *Database) UserByName(username string) (User, error) {
	for _, u := range d.Users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

// Equal reports whether both databases hold the same tasks and users.
func (d *Database) Equal(other *Database) bool {
	if other == nil {
		return false
	}
	if len(d.Tasks) != len(other.Tasks) || len(d.Users) != len(other.Users) {
		return false
	}
	for id, t := range d.Tasks {
		if o, ok := other.Tasks[id]; !ok || o != t {
			return false
		}
	}
	for id, u := range d.Users {
		if o, ok := other.Users[id]; !ok || o != u {
			return false
		}
	}
	return true
}
