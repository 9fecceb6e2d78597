package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cmdb/internal/properties"
)

var propsStandardize bool

var propsCmd = &cobra.Command{
	Use:   "props",
	Short: "Read and write item properties",
	Long: `Properties are free-form values attached to inventory items by an
external provider (for example a billing or ownership feed). Each value is
keyed by provider, property and item id. Writes that do not change a value
are skipped.`,
}

var propsGetCmd = &cobra.Command{
	Use:   "get [provider [item-id [property]]]",
	Short: "Print stored properties",
	Example: `  cmdb props get                             # Every provider
  cmdb props get billing                     # One provider
  cmdb props get billing i-0abc COST-CENTRE  # One value`,
	Args: cobra.MaximumNArgs(3),
	RunE: runPropsGet,
}

var propsImportCmd = &cobra.Command{
	Use:   "import <provider> <file>",
	Short: "Import properties from a YAML or JSON file",
	Long: `Import a file mapping item ids to properties:

  i-0abc:
    cost-centre: "4711"
    owner: team-payments
  i-0def:
    owner: null   # null values are ignored`,
	Args: cobra.ExactArgs(2),
	RunE: runPropsImport,
}

var propsRemoveCmd = &cobra.Command{
	Use:   "remove <item-id>...",
	Short: "Remove every property of the given items",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPropsRemove,
}

func init() {
	rootCmd.AddCommand(propsCmd)
	propsCmd.AddCommand(propsGetCmd, propsImportCmd, propsRemoveCmd)

	propsImportCmd.Flags().BoolVar(&propsStandardize, "standardize", false, "Normalise property names (strip to A-Z, 0-9 and '-', upper-case)")
}

func openProperties(cmd *cobra.Command) (*properties.Store, func(), error) {
	gw, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	s, err := properties.New(gw)
	if err != nil {
		_ = gw.Close()
		return nil, nil, err
	}
	return s, func() { _ = gw.Close() }, nil
}

func runPropsGet(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openProperties(cmd)
	if err != nil {
		return err
	}
	defer closeFn()
	return printProperties(cmd, s, args)
}

func printProperties(cmd *cobra.Command, s *properties.Store, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 3 {
		v, ok, err := s.GetItem(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no value for %s/%s/%s", args[0], args[1], args[2])
		}
		fmt.Fprintln(out, v)
		return nil
	}

	all, err := s.GetAllItems(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return writeYAML(out, all)
	}

	byProperty := all[args[0]]
	if len(args) == 1 {
		return writeYAML(out, byProperty)
	}
	item := make(map[string]string)
	for property, items := range byProperty {
		if v, ok := items[args[1]]; ok {
			item[property] = v
		}
	}
	return writeYAML(out, item)
}

func runPropsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	items, err := parseItems(f, propsStandardize)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[1], err)
	}

	s, closeFn, err := openProperties(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := s.StoreItems(cmd.Context(), args[0], items)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d values for %s (%d unchanged)\n", res.Written, args[0], res.Skipped)
	return nil
}

// parseItems reads an item id → property → value document. JSON is valid
// YAML, so both are accepted. Items come back sorted by id then property.
func parseItems(r io.Reader, standardize bool) ([]properties.Item, error) {
	var doc map[string]map[string]*string
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, err
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var items []properties.Item
	for _, id := range ids {
		props := make([]string, 0, len(doc[id]))
		for p := range doc[id] {
			props = append(props, p)
		}
		sort.Strings(props)

		for _, p := range props {
			name := p
			if standardize {
				name = properties.StandardizePropName(p)
			}
			if name == "" {
				return nil, fmt.Errorf("item %s: property %q is empty after standardizing", id, p)
			}
			items = append(items, properties.Item{ItemID: id, Property: name, Value: doc[id][p]})
		}
	}
	return items, nil
}

func runPropsRemove(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openProperties(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := s.RemoveItems(cmd.Context(), args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d values\n", n)
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
