package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cmdb/internal/config"
	"github.com/yairfalse/cmdb/internal/telemetry"
)

var (
	version    = "0.1.0"
	configPath string
	debug      bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "cmdb",
		Short: "Cloud inventory crawler and reconciler",
		Long: `cmdb - cloud inventory aggregation and reconciliation

cmdb crawls the configured AWS and Alibaba Cloud accounts, normalises every
server, database, function, gateway, table and container member into one
inventory, and reconciles it against the servers stored in the database.
Servers missing from a complete crawl can be soft-deleted.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`cmdb {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML or TOML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := telemetry.SetupLogging(loaded.Log, debug); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	cfg = loaded
	return nil
}
