// ABOUTME: Static route table mapping method and path to handlers.
// ABOUTME: Builds the ServeMux and wraps it in the middleware chain.

package server

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// gzipETagSuffix marks the ETag of a compressed representation.
const gzipETagSuffix = "-gzip"

var gzipHandler = mustGzipWrapper()

// mustGzipWrapper builds the compression middleware. Compressed responses
// carry the handler's ETag with gzipETagSuffix inserted before the closing quote.
func mustGzipWrapper() func(http.Handler) http.HandlerFunc {
	wrap, err := gzhttp.NewWrapper(gzhttp.SuffixETag(gzipETagSuffix))
	if err != nil {
		panic(fmt.Sprintf("gzhttp wrapper: %v", err))
	}
	return wrap
}

// route binds one ServeMux pattern ("METHOD /path") to a handler.
type route struct {
	pattern string
	handler http.HandlerFunc
}

// routes returns the full route table.
func (s *Server) routes() []route {
	return []route{
		{"POST /task", s.handleCreateTask},
		{"GET /task/{id}", s.handleReadTask},
		{"GET /task", s.handleReadAllTasks},
		{"PUT /task", s.handleUpdateTask},
		{"DELETE /task/{id}", s.handleDeleteTask},
		{"POST /register", s.handleRegister},
		{"POST /login", s.handleLogin},

		{"GET /health", s.handleHealth},
	}
}

// newMux registers every route on a fresh ServeMux.
func (s *Server) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	for _, rt := range s.routes() {
		mux.HandleFunc(rt.pattern, rt.handler)
	}
	return mux
}

// buildHandler wraps the mux, innermost first: gzip, CORS, access log, request ID.
func (s *Server) buildHandler() http.Handler {
	var h http.Handler = s.newMux()
	if s.config.Server.Compress {
		h = gzipHandler(h)
	}
	h = newCORS(s.config.CORS).Handler(h)
	h = s.logRequests(h)
	h = withRequestID(h)
	return h
}
