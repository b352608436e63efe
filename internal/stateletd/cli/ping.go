package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/statelet/statelet/pkg/config"
	"github.com/statelet/statelet/pkg/logger"
	"github.com/statelet/statelet/pkg/registry"
)

// NewPingCmd creates the ping command for checking daemon health
func NewPingCmd() *cobra.Command {
	var socketOverride string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the state daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithSearch(configPath)
			if err != nil {
				return err
			}
			socket := cfg.Server.Socket
			if socketOverride != "" {
				socket = socketOverride
			}

			client := registry.NewClient(socket, logger.WithField("component", "ping"))
			if err := client.Connect(); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", socket, err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			start := time.Now()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}

			fmt.Printf("pong from %s (%s)\n", socket, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&socketOverride, "socket", "",
		"Unix socket path (overrides configuration)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second,
		"Ping timeout")

	return cmd
}
