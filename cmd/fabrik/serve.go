package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-arndt/fabrik/internal/api"
	"github.com/p-arndt/fabrik/internal/config"
	"github.com/p-arndt/fabrik/internal/docker"
	"github.com/p-arndt/fabrik/internal/dockerman"
	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/internal/hdman"
	"github.com/p-arndt/fabrik/internal/provision"
	"github.com/p-arndt/fabrik/internal/reaper"
	"github.com/p-arndt/fabrik/internal/store"
	"github.com/p-arndt/fabrik/internal/workspace"
)

func newServeCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fabrik daemon (foreground)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cfg, ln, logger)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log_level (debug|info|warn|error)")
	return cmd
}

// serve runs the daemon on ln until ctx is cancelled. ln is closed on return.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	defer ln.Close()

	if cfg.APIKey == "" {
		logger.Warn("no API key configured, running in open access mode")
	}

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	transfer := provision.NewClient(nil, logger)
	registry := envman.NewRegistry()
	var (
		handles []*envman.Handle
		closers []func()
	)
	defer func() {
		// backends first, they may still be talking to their engines
		for _, h := range handles {
			h.Stop()
		}
		for _, c := range closers {
			c()
		}
	}()

	if cfg.Docker.Enabled {
		h, closeEngine, err := spawnDocker(ctx, cfg, st, transfer, logger)
		if err != nil {
			logger.Error("docker backend disabled", "error", err)
		} else {
			closers = append(closers, closeEngine)
			registry.Register(h.Name(), h)
			handles = append(handles, h)
		}
	}

	if cfg.HostDirect.Enabled {
		wsm, err := workspace.NewManager(cfg.DataDir, hdman.DefaultEnv, logger)
		if err != nil {
			return fmt.Errorf("host-direct workspaces: %w", err)
		}
		backend := hdman.New(hdman.DefaultEnv, transfer, st, wsm, logger)
		h := envman.Spawn(hdman.DefaultEnv, backend, cfg.MailboxSize, logger)
		registry.Register(h.Name(), h)
		handles = append(handles, h)
	}

	if len(handles) == 0 {
		return errors.New("no environment backend available")
	}
	logger.Info("environments registered", "envs", registry.Names())

	targets := make([]reaper.Target, 0, len(handles))
	for _, h := range handles {
		targets = append(targets, h)
	}
	rpr := reaper.New(targets, st, cfg.ReaperInterval(), cfg.JournalRetention(), logger)
	go rpr.Run(ctx)

	srv := api.NewServer(cfg, registry, logger)
	httpServer := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute, // command batches stream whole files
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	fmt.Fprintf(os.Stderr, "\n  fabrik daemon ready at http://%s\n\n", ln.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// spawnDocker connects to the local engine and starts the container backend.
// The returned func closes the engine client.
func spawnDocker(ctx context.Context, cfg *config.Config, st *store.Store, transfer *provision.Client, logger *slog.Logger) (*envman.Handle, func(), error) {
	dc, err := docker.New(logger)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dc.Ping(pingCtx); err != nil {
		dc.Close()
		return nil, nil, fmt.Errorf("docker ping failed, is Docker running? %w", err)
	}
	logger.Info("docker connection OK")

	wsm, err := workspace.NewManager(cfg.DataDir, dockerman.DefaultEnv, logger)
	if err != nil {
		dc.Close()
		return nil, nil, err
	}
	backend := dockerman.New(dockerman.Config{
		Env:         dockerman.DefaultEnv,
		StopTimeout: cfg.StopTimeout(),
	}, dc, transfer, st, wsm, logger)
	h := envman.Spawn(dockerman.DefaultEnv, backend, cfg.MailboxSize, logger)
	return h, func() { dc.Close() }, nil
}
