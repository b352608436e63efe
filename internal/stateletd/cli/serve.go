package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statelet/statelet/internal/stateletd/ipc"
	"github.com/statelet/statelet/internal/stateletd/storage"
	"github.com/statelet/statelet/pkg/config"
	"github.com/statelet/statelet/pkg/logger"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var socketOverride string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the state backend daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithSearch(configPath)
			if err != nil {
				return err
			}
			if socketOverride != "" {
				cfg.Server.Socket = socketOverride
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&socketOverride, "socket", "",
		"Unix socket path (overrides configuration)")

	return cmd
}

func runServe(cfg *config.Config) error {
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("component", "stateletd")

	log.Info("starting state service", "backend", cfg.Storage.Backend, "socket", cfg.Server.Socket)

	backend, err := storage.NewBackend(cfg.ToStorageConfig())
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = backend.HealthCheck(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("backend health check failed: %w", err)
	}

	server := ipc.NewServer(cfg.Server.Socket, backend, log)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	log.Info("state service is ready", "socket", cfg.Server.Socket)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info("received shutdown signal, stopping service", "signal", sig)

	if err := server.Stop(); err != nil {
		log.Error("error stopping IPC server", "error", err)
	}
	if err := backend.Close(); err != nil {
		log.Error("error closing backend", "error", err)
	}

	log.Info("state service stopped gracefully")
	return nil
}
