// Package server exposes the task store over HTTP.
//
// # Endpoints
//
//	POST   /task        body Task   → 200
//	GET    /task/{id}               → 200 Task | 404
//	GET    /task                    → 200 [Task...]
//	PUT    /task        body Task   → 200 (creates unknown ids)
//	DELETE /task/{id}               → 200 (absent ids too)
//	POST   /register    body User   → 200
//	POST   /login       {username, password}
//	                                → 200 "Logged in!" | 400 "Invalid username or password"
//	GET    /health                  → 200 "OK"
//
// Task and User bodies must carry every field; a missing field or invalid
// JSON is answered with 400 and a plain-text reason. Member names match
// case-sensitively, and duplicate members or data after the value make the
// body invalid. Non-numeric ids in the path are answered with 404.
//
// # Request Flow
//
// Each handler takes the store Handle's lock, performs one Database
// operation and, for mutations, saves the whole database before the lock is
// released. Whether a failed save turns into a 500 depends on the
// database.persistence policy.
//
// # Middleware
//
// From the outside in:
//
//   - request ID (X-Request-ID, generated when absent)
//   - access log at debug level
//   - CORS (rs/cors)
//   - gzip (klauspost/compress/gzhttp), when server.compress is set
//
// Read endpoints set a strong ETag and honour If-None-Match. Compressed
// responses carry the same tag with "-gzip" before the closing quote.
//
// # Listeners
//
// HTTP binds server.http_addr, or port 80 on the tailnet when Tailscale is
// enabled. When server.grpc_addr is set, a gRPC server on that address
// serves only grpc.health.v1.Health.
package server
