package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/core/entities"
)

func newTemplateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template ENTITY",
		Short: "Write a CSV template with headers and an example row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry()
			if err != nil {
				return err
			}
			def, ok := registry.Get(core.HeaderKey(args[0]))
			if !ok {
				return withCode(exitUsage, fmt.Errorf("unknown entity type %q (see caseimport entities)", args[0]))
			}

			if output == "" {
				return writeTemplate(cmd.OutOrStdout(), def)
			}
			f, err := os.Create(output)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("create template: %w", err))
			}
			if err := writeTemplate(f, def); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func writeTemplate(w io.Writer, def core.EntityDefinition) error {
	header, example := entities.Template(def)
	cw := csv.NewWriter(w)
	if err := cw.WriteAll([][]string{header, example}); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}
