// ABOUTME: Entry point for taskd, a small task and user service with file persistence
// ABOUTME: Dispatches the serve, init, health, tasks and version subcommands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/2389/taskd/internal/config"
	"github.com/2389/taskd/internal/server"
	"github.com/2389/taskd/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  _            _       _
 | |_ __ _ ___| | ____| |
 | __/ _' / __| |/ / _' |
 | || (_| \__ \   < (_| |
  \__\__,_|___/_|\_\__,_|
`

// defaultConfigFile is picked up from the working directory when present.
const defaultConfigFile = "taskd.yaml"

// resolveConfigPath returns the config file to load, or "" for built-in defaults.
// Priority: --config flag > TASKD_CONFIG env var > ./taskd.yaml if it exists.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("TASKD_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func usage() {
	fmt.Println("Usage: taskd <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the HTTP server")
	fmt.Println("  init      Write a default config file")
	fmt.Println("  health    Check server health")
	fmt.Println("  tasks     List tasks from a running server")
	fmt.Println("  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A missing .env is fine; a malformed one is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "health":
		err = runHealth(ctx, args)
	case "tasks":
		err = runTasks(ctx, args)
	case "version", "--version":
		fmt.Printf("taskd %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves and loads configuration, returning the path it used.
func loadConfig(flagValue string) (*config.Config, string, error) {
	path := resolveConfigPath(flagValue)
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	var configFlag, addrFlag, dbFlag string
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.StringVarP(&configFlag, "config", "c", "", "config file (yaml, toml or jsonc)")
	fs.StringVar(&addrFlag, "addr", "", "HTTP listen address (overrides server.http_addr)")
	fs.StringVar(&dbFlag, "db", "", "database file (overrides database.path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(configFlag)
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Server.HTTPAddr = addrFlag
	}
	if dbFlag != "" {
		cfg.Database.Path = dbFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s, %s)\n", cfg.Database.Path, cfg.Database.Driver, cfg.Database.Persistence)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting taskd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runInit(args []string) error {
	var path string
	var force bool
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	fs.StringVarP(&path, "path", "p", defaultConfigFile, "where to write the config file")
	fs.BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.WriteDefault(path, force); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// clientConfig parses the --config flag shared by the client subcommands.
func clientConfig(name string, args []string) (*config.Config, error) {
	var configFlag string
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&configFlag, "config", "c", "", "config file (yaml, toml or jsonc)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, _, err := loadConfig(configFlag)
	return cfg, err
}

// get issues a GET against the configured HTTP address.
func get(ctx context.Context, cfg *config.Config, path string) (*http.Response, error) {
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context, args []string) error {
	cfg, err := clientConfig("health", args)
	if err != nil {
		return err
	}

	resp, err := get(ctx, cfg, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runTasks(ctx context.Context, args []string) error {
	cfg, err := clientConfig("tasks", args)
	if err != nil {
		return err
	}

	resp, err := get(ctx, cfg, "/task")
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing tasks: status %d", resp.StatusCode)
	}

	var tasks []store.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return fmt.Errorf("decoding tasks: %w", err)
	}

	printTasks(tasks)
	return nil
}

// printTasks writes one line per task ordered by id.
func printTasks(tasks []store.Task) {
	if len(tasks) == 0 {
		color.New(color.FgHiBlack).Println("no tasks")
		return
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	done := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for _, t := range tasks {
		gray.Printf("%6d ", t.ID)
		if t.Completed {
			done.Print("[x] ")
		} else {
			fmt.Print("[ ] ")
		}
		fmt.Println(t.Name)
	}
}
