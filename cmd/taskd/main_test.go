// ABOUTME: Tests for CLI config resolution and logger construction.
// ABOUTME: Runs the color handler with colors disabled so output is plain text.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/taskd/internal/config"
)

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TASKD_CONFIG", "")

	assert.Equal(t, "", resolveConfigPath(""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultConfigFile), []byte("{}"), 0600))
	assert.Equal(t, defaultConfigFile, resolveConfigPath(""))

	t.Setenv("TASKD_CONFIG", "/etc/taskd/env.yaml")
	assert.Equal(t, "/etc/taskd/env.yaml", resolveConfigPath(""))

	assert.Equal(t, "/etc/taskd/flag.toml", resolveConfigPath("/etc/taskd/flag.toml"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "store").Info("database loaded", "tasks", 3)
	logger.WithGroup("http").Warn("slow", "ms", 900)

	out := buf.String()
	assert.NotContains(t, out, "hidden")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF database loaded component=store tasks=3")
	assert.Contains(t, lines[1], "WRN slow http.ms=900")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug("request", "status", 200)
	assert.Contains(t, buf.String(), `"msg":"request"`)
	assert.Contains(t, buf.String(), `"status":200`)
}
