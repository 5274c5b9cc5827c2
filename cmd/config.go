package main

import (
	"github.com/spf13/cobra"
)

// configCommands prints the computed configuration. Secrets are printed as
// loaded, so only run it where the output stays local.
func configCommands(b *rentcycleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "config outputs your instances computed configuration",
		Annotations: map[string]string{"config-only": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSummary(b.cnf)
		},
	}
	return cmd
}
