// ABOUTME: Server owns the HTTP listener, optional gRPC health listener and the shared store Handle
// ABOUTME: Manages listener setup (TCP or Tailscale), serving and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/taskd/internal/config"
	"github.com/2389/taskd/internal/store"
)

// Server serves the task API over HTTP.
type Server struct {
	config      *config.Config
	handle      *store.Handle
	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New opens the configured persister, loads the database (starting empty if
// loading fails) and returns a Server ready to Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	persister, err := store.OpenPersister(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	handle := store.OpenHandle(ctx, persister,
		store.PersistPolicy(cfg.Database.Persistence),
		logger.With("component", "store"),
	)
	return NewWithHandle(cfg, handle, logger), nil
}

// NewWithHandle builds a Server around an existing handle.
func NewWithHandle(cfg *config.Config, handle *store.Handle, logger *slog.Logger) *Server {
	s := &Server{
		config: cfg,
		handle: handle,
		health: health.NewServer(),
		logger: logger.With("component", "server"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	if cfg.Server.GRPCAddr != "" {
		s.grpcServer = grpc.NewServer(
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    15 * time.Second,
				Timeout: 5 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		)
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
	}

	return s
}

// Handler returns the complete HTTP handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// listeners holds whatever Run bound; grpc is nil when disabled.
type listeners struct {
	http net.Listener
	grpc net.Listener
}

func (l listeners) close() {
	if l.http != nil {
		_ = l.http.Close()
	}
	if l.grpc != nil {
		_ = l.grpc.Close()
	}
}

// httpAddrIgnored reports whether a non-default server.http_addr is set
// alongside tailscale, which serves HTTP on the tailnet instead.
func httpAddrIgnored(cfg *config.Config) bool {
	addr := cfg.Server.HTTPAddr
	return cfg.Tailscale.Enabled && addr != "" && addr != config.DefaultHTTPAddr
}

// setupListeners binds the HTTP listener on the tailnet or TCP, and the
// gRPC health listener on TCP when configured.
func (s *Server) setupListeners(ctx context.Context) (listeners, error) {
	var ln listeners
	var err error

	if s.config.Tailscale.Enabled {
		if httpAddrIgnored(s.config) {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
			)
		}
		ln.http, err = s.setupTailscaleListener(ctx)
	} else {
		ln.http, err = net.Listen("tcp", s.config.Server.HTTPAddr)
		if err != nil {
			err = fmt.Errorf("listening on HTTP address: %w", err)
		}
	}
	if err != nil {
		return listeners{}, err
	}

	if s.grpcServer != nil {
		ln.grpc, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			ln.close()
			return listeners{}, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return ln, nil
}

// startServers starts the servers in goroutines, returning error channel.
func (s *Server) startServers(ln listeners) chan error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.http.Addr().String())
		if err := s.httpServer.Serve(ln.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if ln.grpc != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", ln.grpc.Addr().String())
			if err := s.grpcServer.Serve(ln.grpc); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts serving and blocks until the context is canceled or a server fails.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListeners(ctx)
	if err != nil {
		if s.tsnetServer != nil {
			_ = s.tsnetServer.Close()
		}
		_ = s.handle.Close()
		return err
	}

	errCh := s.startServers(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "taskd", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on its port 80.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for in-flight ones (each finishes
// its save under the lock), then releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.grpcServer != nil {
		s.shutdownGRPCServer(ctx)
	}

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.handle.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
