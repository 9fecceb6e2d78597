package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cmdb/internal/archive"
)

var (
	historyRuns    int
	historyAccount string
)

var historyCmd = &cobra.Command{
	Use:   "history [server-id]",
	Short: "Query the crawl history archive",
	Long: `Print the archived revisions of one server, the servers of an account
that still exist, or the most recent crawl runs.`,
	Example: `  cmdb history i-0abc123                # Every revision of a server
  cmdb history --account 123456789012   # Live servers of an account
  cmdb history --runs 20                # Last 20 runs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyRuns, "runs", 10, "Number of recent runs to list")
	historyCmd.Flags().StringVar(&historyAccount, "account", "", "List live servers of an account")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Archive.Path == "" {
		return errors.New("archive.path is not configured")
	}
	a, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	switch {
	case len(args) == 1:
		return printServerHistory(out, a, args[0])
	case historyAccount != "":
		printAccountServers(out, a, historyAccount)
		return nil
	default:
		return printRuns(out, a, historyRuns)
	}
}

func printServerHistory(w io.Writer, a *archive.Archive, serverID string) error {
	entries, err := a.History(serverID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no history for %s", serverID)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REV\tAT\tRUN\tSTATE\tNAME\tSTATUS\tFLAVOUR")
	for _, e := range entries {
		at := e.At.UTC().Format(time.RFC3339)
		if e.Tombstone || e.Server == nil {
			fmt.Fprintf(tw, "%d\t%s\t%s\tdisappeared\t-\t-\t-\n", e.Revision, at, e.RunID)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\tobserved\t%s\t%s\t%s\n",
			e.Revision, at, e.RunID, e.Server.Name, e.Server.Status, e.Server.Flavour)
	}
	return tw.Flush()
}

func printAccountServers(w io.Writer, a *archive.Archive, accountID string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tREGION\tFIRST SEEN\tLAST SEEN")
	for _, st := range a.ByAccount(accountID) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", st.ServerID, st.Region, st.FirstSeenRev, st.LastSeenRev)
	}
	_ = tw.Flush()
}

func printRuns(w io.Writer, a *archive.Archive, limit int) error {
	runs, err := a.Runs(limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REV\tAT\tRUN\tOBSERVED\tDISAPPEARED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n",
			r.Revision, r.At.UTC().Format(time.RFC3339), r.ID, r.Observed, r.Disappeared)
	}
	return tw.Flush()
}
