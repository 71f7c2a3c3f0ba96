// ABOUTME: Configuration loading and parsing for taskd
// ABOUTME: Supports YAML, TOML and JSONC files with environment variable expansion and duration parsing

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/2389/taskd/internal/store"
)

// Config represents the complete taskd configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" json:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale" json:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" json:"database"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors" json:"cors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" json:"logging"`
}

// ServerConfig holds listener and HTTP server settings
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" json:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr" json:"grpc_addr"` // optional, serves grpc.health.v1 only
	Compress bool   `yaml:"compress" toml:"compress" json:"compress"`

	ReadHeaderTimeout time.Duration `yaml:"-" toml:"-" json:"-"`
	ShutdownTimeout   time.Duration `yaml:"-" toml:"-" json:"-"`

	// Raw string values for unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname" json:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" json:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" json:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" json:"ephemeral"`
}

// DatabaseConfig selects the persistence backend
type DatabaseConfig struct {
	Driver      string `yaml:"driver" toml:"driver" json:"driver"` // json or sqlite
	Path        string `yaml:"path" toml:"path" json:"path"`
	Persistence string `yaml:"persistence" toml:"persistence" json:"persistence"` // best_effort or strict
}

// CORSConfig holds cross-origin settings for browser clients
type CORSConfig struct {
	AllowedOriginPrefixes []string `yaml:"allowed_origin_prefixes" toml:"allowed_origin_prefixes" json:"allowed_origin_prefixes"`
	AllowNullOrigin       bool     `yaml:"allow_null_origin" toml:"allow_null_origin" json:"allow_null_origin"`
	AllowedMethods        []string `yaml:"allowed_methods" toml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders        []string `yaml:"allowed_headers" toml:"allowed_headers" json:"allowed_headers"`
	AllowCredentials      bool     `yaml:"allow_credentials" toml:"allow_credentials" json:"allow_credentials"`

	MaxAge    time.Duration `yaml:"-" toml:"-" json:"-"`
	MaxAgeRaw string        `yaml:"max_age" toml:"max_age" json:"max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// DefaultHTTPAddr is the HTTP listen address when none is configured.
const DefaultHTTPAddr = "127.0.0.1:8080"

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:             DefaultHTTPAddr,
			Compress:             true,
			ReadHeaderTimeout:    10 * time.Second,
			ShutdownTimeout:      5 * time.Second,
			ReadHeaderTimeoutRaw: "10s",
			ShutdownTimeoutRaw:   "5s",
		},
		Database: DatabaseConfig{
			Driver:      store.DriverJSON,
			Path:        "database.json",
			Persistence: string(store.PolicyBestEffort),
		},
		CORS: CORSConfig{
			AllowedOriginPrefixes: []string{"http://localhost"},
			AllowNullOrigin:       true,
			AllowedMethods:        []string{"GET", "POST", "PUT", "DELETE"},
			AllowedHeaders:        []string{"Authorization", "Accept", "Content-Type"},
			AllowCredentials:      true,
			MaxAge:                time.Hour,
			MaxAgeRaw:             "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Values missing from the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := []byte(expandEnvVars(string(data)))

	cfg := Default()
	if err := decode(path, expandedData, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// Resolve loads path, or returns the defaults when path is empty.
// Environment overrides apply in both cases.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// decode picks the parser from the file extension. Unknown extensions are read as YAML.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets the environment win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TASKD_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case store.DriverJSON, store.DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", store.DriverJSON, store.DriverSQLite, c.Database.Driver)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if !store.PersistPolicy(c.Database.Persistence).Valid() {
		return fmt.Errorf("database.persistence must be %q or %q, got %q",
			store.PolicyBestEffort, store.PolicyStrict, c.Database.Persistence)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		cfg.Server.ReadHeaderTimeout, err = time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
	}

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.CORS.MaxAgeRaw != "" {
		cfg.CORS.MaxAge, err = time.ParseDuration(cfg.CORS.MaxAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing max_age %q: %w", cfg.CORS.MaxAgeRaw, err)
		}
	}

	return nil
}

const defaultHeader = `# taskd configuration
# Values of the form ${VAR} are replaced from the environment.

`

// WriteDefault writes the default configuration as YAML to path.
// An existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
