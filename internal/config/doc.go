// Package config handles configuration loading for taskd.
//
// # Overview
//
// Configuration starts from Default() and is overlaid with a file. The file
// format follows the extension:
//
//   - .yaml, .yml (and anything unrecognised): YAML
//   - .toml: TOML
//   - .json, .jsonc: JSON with comments and trailing commas allowed
//
// # Configuration File
//
// Locations (in order):
//
//  1. --config flag
//  2. Path from TASKD_CONFIG environment variable
//  3. ./taskd.yaml if it exists
//  4. built-in defaults
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Unset variables expand to the empty string. TASKD_DB_PATH and
// TASKD_HTTP_ADDR override database.path and server.http_addr.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  grpc_addr: ""                 # optional grpc.health.v1 listener
//	  compress: true                # gzip responses
//	  read_header_timeout: "10s"
//	  shutdown_timeout: "5s"
//
// Database:
//
//	database:
//	  driver: "json"                # json or sqlite
//	  path: "database.json"
//	  persistence: "best_effort"    # best_effort or strict
//
// CORS:
//
//	cors:
//	  allowed_origin_prefixes: ["http://localhost"]
//	  allow_null_origin: true
//	  allowed_methods: [GET, POST, PUT, DELETE]
//	  allowed_headers: [Authorization, Accept, Content-Type]
//	  allow_credentials: true
//	  max_age: "1h"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "taskd"
//	  auth_key: "${TS_AUTHKEY}"
//	  ephemeral: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
