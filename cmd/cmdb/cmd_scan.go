package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cmdb/internal/daemon"
	"github.com/yairfalse/cmdb/internal/filter"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

var (
	scanDryRun       bool
	scanOutput       string
	scanExcludeKinds []string
	scanAccounts     []string
)

var validOutputs = []string{"table", "yaml", "json"}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Crawl every account once and reconcile the result",
	Long: `Crawl every configured account once, classify each server as new,
updated or unchanged against the database, and write the changes.

With --dry-run nothing is written; the classification is still reported.
With crawl.soft_delete enabled, servers missing from a complete crawl are
marked deleted. A crawl limited with --account is never complete, so it
does not delete anything.`,
	Example: `  cmdb scan --config cmdb.yaml              # Crawl and reconcile
  cmdb scan --dry-run                       # Classify only
  cmdb scan --dry-run --output yaml         # Dump the crawled inventory
  cmdb scan --account aws-prod              # Crawl one configured account`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Classify without writing to the database or archive")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "Output format: table, yaml, json")
	scanCmd.Flags().StringSliceVar(&scanExcludeKinds, "exclude-kind", nil, "Kinds to leave out of the table (user, bucket, ...)")
	scanCmd.Flags().StringSliceVar(&scanAccounts, "account", nil, "Only crawl these configured accounts, by name")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if !contains(validOutputs, scanOutput) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)",
			scanOutput, strings.Join(validOutputs, ", "))
	}

	softDelete := cfg.Crawl.SoftDelete
	if softDelete && len(scanAccounts) > 0 {
		log.Warn().Strs("accounts", scanAccounts).Msg("soft delete disabled for a partial scan")
		softDelete = false
	}

	ctx := cmd.Context()
	p, err := newPipeline(ctx, cfg, daemon.CycleOptions{
		DryRun:     scanDryRun,
		SoftDelete: softDelete,
		Keep:       cfg.Archive.Keep,
	}, scanAccounts)
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	report, err := p.cycle.Run(ctx)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), scanOutput, report, filter.New(scanExcludeKinds, nil, nil))
}

// snapshot is the machine readable scan output.
type snapshot struct {
	RunID     string               `json:"runId" yaml:"runId"`
	Accounts  []*inventory.Account `json:"accounts" yaml:"accounts"`
	Failures  []string             `json:"failures,omitempty" yaml:"failures,omitempty"`
	New       []string             `json:"new" yaml:"new"`
	Updated   []string             `json:"updated" yaml:"updated"`
	Unchanged int                  `json:"unchanged" yaml:"unchanged"`
	Deleted   []string             `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

func writeReport(w io.Writer, format string, report *daemon.CycleReport, f *filter.Filter) error {
	snap := snapshot{
		RunID:     report.RunID,
		Accounts:  report.Crawl.Accounts,
		New:       report.Reconcile.Plan.New,
		Updated:   report.Reconcile.Plan.Updated,
		Unchanged: len(report.Reconcile.Plan.Unchanged),
		Deleted:   report.Reconcile.Deleted,
	}
	for _, f := range report.Crawl.Failures {
		snap.Failures = append(snap.Failures, fmt.Sprintf("%s: %v", f.Adapter, f.Err))
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return writeTable(w, report, f)
	}
}

func writeTable(w io.Writer, report *daemon.CycleReport, f *filter.Filter) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tNAME\tTYPE\tKIND\tREGION\tCOUNT")
	for _, acc := range report.Crawl.Accounts {
		for _, kc := range f.KindCounts(acc.KindCounts()) {
			region := kc.Region
			if region == "" {
				region = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
				acc.AccountID, acc.AccountName, acc.DataCentreType, kc.Kind, region, kc.Count)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	plan := report.Reconcile.Plan
	fmt.Fprintf(w, "\nServers: %d new, %d updated, %d unchanged", len(plan.New), len(plan.Updated), len(plan.Unchanged))
	if n := len(report.Reconcile.Deleted); n > 0 {
		fmt.Fprintf(w, ", %d deleted", n)
	}
	fmt.Fprintln(w)
	if report.Reconcile.RowFailures > 0 {
		fmt.Fprintf(w, "Rows failed to persist: %d\n", report.Reconcile.RowFailures)
	}
	for _, f := range report.Crawl.Failures {
		fmt.Fprintf(w, "Account %s failed: %v\n", f.Adapter, f.Err)
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
