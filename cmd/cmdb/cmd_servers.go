package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cmdb/internal/filter"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

var (
	serversIncludeDeleted bool
	serversOutput         string
	serversTags           []string
	serversExcludeTags    []string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List the servers stored in the database",
	Example: `  cmdb servers                          # Live servers
  cmdb servers --include-deleted -o json
  cmdb servers --tag env=prod --exclude-tag temp=true`,
	Args: cobra.NoArgs,
	RunE: runServers,
}

func init() {
	rootCmd.AddCommand(serversCmd)

	serversCmd.Flags().BoolVar(&serversIncludeDeleted, "include-deleted", false, "Include soft-deleted servers")
	serversCmd.Flags().StringVarP(&serversOutput, "output", "o", "table", "Output format: table, yaml, json")
	serversCmd.Flags().StringSliceVar(&serversTags, "tag", nil, "Only servers with this tag (key=value, repeatable)")
	serversCmd.Flags().StringSliceVar(&serversExcludeTags, "exclude-tag", nil, "Leave out servers with this tag (key=value, repeatable)")
}

func runServers(cmd *cobra.Command, _ []string) error {
	if !contains(validOutputs, serversOutput) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)",
			serversOutput, strings.Join(validOutputs, ", "))
	}

	include, err := filter.ParseTags(serversTags)
	if err != nil {
		return err
	}
	exclude, err := filter.ParseTags(serversExcludeTags)
	if err != nil {
		return err
	}

	gw, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	servers, err := gw.LoadServersFull(cmd.Context(), serversIncludeDeleted)
	if err != nil {
		return err
	}
	return writeServers(cmd.OutOrStdout(), serversOutput, filter.New(nil, include, exclude).Servers(servers))
}

func writeServers(w io.Writer, format string, servers []inventory.ServerDetails) error {
	switch format {
	case "yaml":
		return writeYAML(w, servers)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(servers)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tREGION\tNAME\tFLAVOUR\tSTATUS\tUPDATED\tDELETED")
	for _, s := range servers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.AccountID, s.Region, s.Name, s.Flavour, s.Status, formatTime(s.Updated), formatTime(s.Deleted))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
