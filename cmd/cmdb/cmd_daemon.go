package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cmdb/internal/daemon"
)

var (
	daemonDryRun bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Crawl and reconcile continuously",
	Long: `Run cmdb in daemon mode. A cycle runs at start and then once per
daemon.interval. Cycles never overlap.

Features:
- Prometheus metrics on /metrics when otel.metrics.prometheus is set
- Health checks on /health, /-/healthy, /-/ready
- Crawl history in the archive when archive.enabled is set
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  cmdb daemon --config cmdb.yaml    # Run with the configured interval
  CMDB_DAEMON_INTERVAL=15m cmdb daemon`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().BoolVar(&daemonDryRun, "dry-run", false, "Classify without writing")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	p, err := newPipeline(ctx, cfg, daemon.CycleOptions{
		DryRun:     daemonDryRun,
		SoftDelete: cfg.Crawl.SoftDelete,
		Keep:       cfg.Archive.Keep,
	}, nil)
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:       cfg.Daemon.Interval,
		Addr:           cfg.Daemon.MetricsAddr,
		MetricsHandler: p.telemetry.MetricsHandler(),
	}, p.cycle)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting cmdb daemon\n")
	fmt.Fprintf(out, "   Accounts: %d\n", len(cfg.Accounts))
	fmt.Fprintf(out, "   Interval: %s\n", cfg.Daemon.Interval)
	fmt.Fprintf(out, "   Listen: %s\n", cfg.Daemon.MetricsAddr)
	if cfg.Archive.Enabled {
		fmt.Fprintf(out, "   Archive: %s\n", cfg.Archive.Path)
	}
	fmt.Fprintln(out)

	return d.Start(ctx)
}
