// ABOUTME: HTTP handlers for the task and user endpoints.
// ABOUTME: Each handler performs exactly one Database operation through the shared Handle.

package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/zeebo/blake3"

	"github.com/2389/taskd/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 2 << 20

// Response bodies for the login endpoint.
const (
	loginSucceeded = "Logged in!"
	loginFailed    = "Invalid username or password"
)

// taskPayload is the wire shape of a Task. Every field is required.
type taskPayload struct {
	ID        *uint64 `json:"id"`
	Name      *string `json:"name"`
	Completed *bool   `json:"completed"`
}

// userPayload is the wire shape of a User. Every field is required.
type userPayload struct {
	ID       *uint64 `json:"id"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// loginPayload is the wire shape of a login attempt. Clients commonly send a
// full user record; members other than these two are ignored.
type loginPayload struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// missingField builds the error for an absent required field.
func missingField(name string) error {
	return fmt.Errorf("missing field %q", name)
}

// decodeBody parses the request body as exactly one JSON value into v.
// Member names match case-sensitively; duplicate names and trailing data are errors.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if err := jsonv2.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseTask decodes and validates a task body.
func parseTask(w http.ResponseWriter, r *http.Request) (store.Task, error) {
	var p taskPayload
	if err := decodeBody(w, r, &p); err != nil {
		return store.Task{}, err
	}

	switch {
	case p.ID == nil:
		return store.Task{}, missingField("id")
	case p.Name == nil:
		return store.Task{}, missingField("name")
	case p.Completed == nil:
		return store.Task{}, missingField("completed")
	}

	return store.Task{ID: *p.ID, Name: *p.Name, Completed: *p.Completed}, nil
}

// parseUser decodes and validates a user body.
func parseUser(w http.ResponseWriter, r *http.Request) (store.User, error) {
	var p userPayload
	if err := decodeBody(w, r, &p); err != nil {
		return store.User{}, err
	}

	switch {
	case p.ID == nil:
		return store.User{}, missingField("id")
	case p.Username == nil:
		return store.User{}, missingField("username")
	case p.Password == nil:
		return store.User{}, missingField("password")
	}

	return store.User{ID: *p.ID, Username: *p.Username, Password: *p.Password}, nil
}

// parseLogin decodes and validates a login body.
func parseLogin(w http.ResponseWriter, r *http.Request) (*loginPayload, error) {
	var req loginPayload
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}

	if req.Username == nil {
		return nil, missingField("username")
	}
	if req.Password == nil {
		return nil, missingField("password")
	}

	return &req, nil
}

// pathID parses the {id} path segment. ok is false when it is not a uint64.
func pathID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// handleCreateTask handles POST /task.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	task, err := parseTask(w, r)
	if err != nil {
		s.sendText(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.handle.Update(mutationContext(r), func(db *store.Database) {
		db.InsertTask(task)
	})
	if err != nil {
		s.persistFailed(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleReadTask handles GET /task/{id}.
// A non-numeric id cannot name a task and is answered like an absent one.
func (s *Server) handleReadTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var task store.Task
	var err error
	s.handle.View(func(db *store.Database) {
		task, err = db.GetTask(id)
	})
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.sendJSON(w, r, task)
}

// handleReadAllTasks handles GET /task. Order follows map iteration and is not stable.
func (s *Server) handleReadAllTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []store.Task
	s.handle.View(func(db *store.Database) {
		tasks = db.AllTasks()
	})

	s.sendJSON(w, r, tasks)
}

// handleUpdateTask handles PUT /task. An unknown id is created, exactly like POST.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, err := parseTask(w, r)
	if err != nil {
		s.sendText(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.handle.Update(mutationContext(r), func(db *store.Database) {
		db.UpdateTask(task)
	})
	if err != nil {
		s.persistFailed(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleDeleteTask handles DELETE /task/{id}. Deleting an absent id succeeds.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	err := s.handle.Update(mutationContext(r), func(db *store.Database) {
		db.DeleteTask(id)
	})
	if err != nil {
		s.persistFailed(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleRegister handles POST /register. Usernames are not checked for uniqueness.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	user, err := parseUser(w, r)
	if err != nil {
		s.sendText(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.handle.Update(mutationContext(r), func(db *store.Database) {
		db.InsertUser(user)
	})
	if err != nil {
		s.persistFailed(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleLogin handles POST /login.
// The submitted password is compared byte for byte with the stored one.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := parseLogin(w, r)
	if err != nil {
		s.sendText(w, http.StatusBadRequest, err.Error())
		return
	}

	var user store.User
	s.handle.View(func(db *store.Database) {
		user, err = db.UserByName(*req.Username)
	})

	if err != nil || user.Password != *req.Password {
		s.sendText(w, http.StatusBadRequest, loginFailed)
		return
	}

	s.sendText(w, http.StatusOK, loginSucceeded)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendText(w, http.StatusOK, "OK")
}

// mutationContext detaches the save from client cancellation; a write that
// has started always runs to completion under the lock.
func mutationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// persistFailed reports a strict-mode save failure.
func (s *Server) persistFailed(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("failed to persist changes",
		"error", err,
		"request_id", RequestIDFromContext(r.Context()),
	)
	s.sendText(w, http.StatusInternalServerError, "failed to persist changes")
}

// sendJSON writes v with a strong ETag derived from the body and answers a
// matching If-None-Match with 304.
func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		s.sendText(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	etag := bodyETag(body)
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) sendText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// bodyETag returns a quoted strong ETag from the first 16 bytes of the blake3 digest.
func bodyETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatches reports whether an If-None-Match header value matches etag.
// Comparison is weak, so the tag of the gzip representation matches too.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Replace(candidate, gzipETagSuffix+`"`, `"`, 1)
		if candidate == etag {
			return true
		}
	}
	return false
}
