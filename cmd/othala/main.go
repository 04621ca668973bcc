// Command othalad is the orchestrator daemon: it loads the org's
// othala.yaml, drives the runtime tick loop against Postgres-backed task
// state, and serves a small read-only HTTP surface for health checks,
// task and event listing, and metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version and BuildTime are set via -ldflags at release build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configDir string

	rootCmd := &cobra.Command{
		Use:     "othalad",
		Short:   "Othala task orchestrator",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", getEnv("OTHALA_CONFIG_DIR", "./deploy/config"), "path to the directory holding othala.yaml")

	rootCmd.AddCommand(newServeCmd(&configDir))
	rootCmd.AddCommand(newScenarioCmd())
	rootCmd.AddCommand(newMigrateCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
