package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scenarioflow/registry"
)

// NewTypesCmd creates the "types" subcommand.
func NewTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the node and component types scenario files may use",
		Args:  cobra.NoArgs,
		RunE:  runTypes,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runTypes(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	reg := registry.Global()
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Nodes      []registry.NodeTypeDef      `json:"nodes"`
			Components []registry.ComponentTypeDef `json:"components"`
		}{reg.NodeTypes(), reg.ComponentTypes()})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tCATEGORY\tCONFIG\tDESCRIPTION")
	for _, n := range reg.NodeTypes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Type, n.Category, fieldNames(n.Config), n.Description)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "COMPONENT\tKIND\tFIELDS\tDESCRIPTION")
	for _, c := range reg.ComponentTypes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Type, c.Kind, fieldNames(c.Fields), c.Description)
	}
	return tw.Flush()
}

// fieldNames renders fields as "name, name*" where * marks bindable ones.
func fieldNames(fields []registry.FieldDef) string {
	if len(fields) == 0 {
		return "-"
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		name := f.Name
		if f.Bindable {
			name += "*"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
