// Package cli implements the stateletd command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stateletd",
	Short: "Statelet state backend daemon",
	Long: `stateletd serves per-key state for stream processing tasks over a
Unix domain socket. Processors connect through the statelet registry
client, declare their state variables, and read and write keyed state
through the daemon's pluggable storage backend (memory, DynamoDB or
Valkey).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to configuration file (searches common locations if not specified)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewPingCmd())
}
