package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/tunnelctl"
)

const shutdownTimeout = 10 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the tunnel supervisor daemon",
		Long: `Start the daemon: load profiles, connect the enabled ones, and serve the
HTTP API until interrupted. Without a config file the defaults are used and
profiles are kept in the user config directory.

Examples:
  tunnelctl serve
  tunnelctl serve tunnelctl.toml
  tunnelctl serve --config=tunnelctl.toml --pidfile=/run/tunnelctl.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	return cmd
}

func runServe(ctx context.Context, flags ServeFlags) error {
	cfg := tunnelctl.DefaultConfig()
	if flags.ConfigPath != "" {
		c, err := tunnelctl.LoadConfig(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg = c
	}

	d, err := tunnelctl.Open(ctx, cfg)
	if err != nil {
		return err
	}
	logger := d.Logger()
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	if err := d.Start(ctx); err != nil {
		return err
	}

	srv := d.NewHTTPServer()
	// status streams end once the supervisor closes its subscriptions
	srv.RegisterOnShutdown(func() { _ = d.Supervisor().Close() })
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", srv.Addr, "base_path", cfg.Server.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := tunnelctl.ServeMetrics(cfg.Metrics.Listen); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func writePidFile(pidFile string, pid int) error {
	// #nosec G302
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
