package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dockfra/dockfra/internal/core/compose"
	"github.com/dockfra/dockfra/internal/engine"
	"github.com/dockfra/dockfra/internal/shell/api"
	"github.com/dockfra/dockfra/internal/shell/docker"
	"github.com/dockfra/dockfra/internal/shell/envfile"
	"github.com/dockfra/dockfra/internal/shell/llm"
	"github.com/dockfra/dockfra/internal/shell/sshexec"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server runs the diagnostic engine and its HTTP surface. The Docker
// runtime, the compose stack and SSH are all optional at startup: a
// diagnostic tool has to come up even when the thing it diagnoses is
// down, so missing collaborators degrade to explanatory messages instead
// of failing the boot.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      *engine.Store
	engine     *engine.DiagnosticEngine
	runtime    *docker.Client
	ssh        *sshexec.Client
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Open the event log
	if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
		}
	}
	store, err := engine.NewStore(cfg.Database.DSN, logger)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	if cfg.Database.PruneKeep > 0 {
		pruned, err := store.Prune(context.Background(), cfg.Database.PruneKeep)
		if err != nil {
			logger.Warn("event log prune failed", "error", err)
		} else if pruned > 0 {
			logger.Info("pruned event log", "removed", pruned, "keep", cfg.Database.PruneKeep)
		}
	}

	// Connect to Docker; keep going without it
	var runtimeClient *docker.Client
	var runtime docker.Runtime
	if client, err := docker.NewClient(cfg.Docker.Host); err != nil {
		logger.Warn("docker unavailable, container actions degraded", "error", err)
	} else {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("docker not responding, container actions degraded", "error", err)
			client.Close()
		} else {
			runtimeClient = client
			runtime = client
		}
	}

	var fallback docker.LogSource
	if runtimeClient != nil {
		fallback = runtimeClient
	}
	tailer := docker.NewTailer(docker.NewCLI(cfg.Docker.CLIBinary), fallback)

	// Introspect the compose stack; keep going without it
	var stack *compose.StackInfo
	if raw, err := os.ReadFile(cfg.Stack.ComposeFile); err != nil {
		logger.Warn("compose file unreadable", "path", cfg.Stack.ComposeFile, "error", err)
	} else if stack, err = compose.ParseStack(string(raw)); err != nil {
		logger.Warn("compose file unparseable", "path", cfg.Stack.ComposeFile, "error", err)
		stack = nil
	} else {
		logger.Info("compose stack loaded",
			"services", len(stack.Services),
			"env_vars", len(stack.EnvVars),
		)
	}

	// AI backend
	var aiClient llm.Client
	if cfg.LLM.APIKey != "" {
		aiClient = llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		logger.Info("ai analysis enabled", "model", cfg.LLM.Model)
	}

	// Remote host; an explicitly configured SSH target that cannot be set
	// up is a config error, not a degradation
	var sshClient *sshexec.Client
	if cfg.SSH.Host != "" && cfg.SSH.User != "" {
		key, err := os.ReadFile(cfg.SSH.KeyFile)
		if err != nil {
			store.Close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
		sshClient, err = sshexec.NewClient(sshexec.Config{
			Host:           cfg.SSH.Host,
			Port:           cfg.SSH.Port,
			User:           cfg.SSH.User,
			ConnectTimeout: cfg.SSH.ConnectTimeout,
			CommandTimeout: cfg.SSH.CommandTimeout,
		}, key)
		if err != nil {
			store.Close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
		logger.Info("ssh target configured", "target", sshClient.Target())
	}

	opts := engine.Options{
		Runtime:       runtime,
		Tailer:        tailer,
		Env:           envfile.NewEditor(cfg.Stack.EnvFile),
		LLM:           aiClient,
		Stack:         stack,
		LaunchCommand: cfg.Stack.LaunchCommand,
		SweepDelay:    cfg.Monitor.SweepDelay,
		Logger:        logger,
	}
	if sshClient != nil {
		opts.SSH = sshClient
	}
	e := engine.New(context.Background(), store, opts)

	handler := api.NewHandler(e, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      store,
		engine:     e,
		runtime:    runtimeClient,
		ssh:        sshClient,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.engine.Start(s.config.Monitor.Interval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.engine.Stop(s.config.Server.ShutdownTimeout)

	if s.ssh != nil {
		if err := s.ssh.Close(); err != nil {
			s.logger.Error("ssh close error", "error", err)
		}
	}

	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			s.logger.Error("docker client close error", "error", err)
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("event store close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
