// Notify Core - device presence and notification fan-out service.
//
// notifyd sits behind an EMQX broker. It tracks which client devices are
// connected from the broker's webhook and $SYS events, issues broker
// credentials, and delivers notifications to users over MQTT and push.
//
// Subcommands:
//
//	notifyd serve                 run the service (default)
//	notifyd migrate up|down|status
//	notifyd token backend|user ID
//	notifyd user create
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/notify-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancelled on Ctrl+C or SIGTERM; every subcommand receives it.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a
// subcommand starts the service.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notifyd",
		Short:         "Device presence and notification service for EMQX",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath(cmd))
		},
	}
	root.PersistentFlags().String("config", "", "config file path (default $NOTIFY_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newUserCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, presence tracking and notification dispatch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath(cmd))
		},
	}
}

// configPath returns the --config flag, then NOTIFY_CONFIG, then the default.
func configPath(cmd *cobra.Command) string {
	if path, err := cmd.Flags().GetString("config"); err == nil && path != "" {
		return path
	}
	if path := os.Getenv("NOTIFY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
