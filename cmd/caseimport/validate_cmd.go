package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check entity definitions and configuration without importing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			registry, regErr := loadRegistry()
			if regErr == nil {
				fmt.Fprintf(out, "entities: ok (%d): %s\n", registry.Len(), strings.Join(registry.EntityTypes(), " -> "))
			} else {
				fmt.Fprintf(out, "entities: invalid\n")
			}

			cfg, cfgErr := loadConfig(cmd, root)
			if cfgErr == nil {
				fmt.Fprintf(out, "config: ok (store %s)\n", cfg.Store.Driver)
			} else {
				fmt.Fprintf(out, "config: invalid\n")
			}

			// Registry problems decide the exit code; they block every import.
			if regErr != nil {
				return withCode(exitRegistry, errors.Join(regErr, cfgErr))
			}
			return cfgErr
		},
	}
}
