package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newEntitiesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List entity types in import order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry()
			if err != nil {
				return err
			}
			sorted := registry.SortedEntities()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sorted)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tENTITY\tNAME\tDEPENDS ON\tCOLUMNS")
			for i, def := range sorted {
				deps := strings.Join(def.DependsOn, ",")
				if deps == "" {
					deps = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i+1, def.EntityType, def.DisplayName, deps, len(def.Columns))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full definitions as JSON")
	return cmd
}
