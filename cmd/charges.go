package main

import (
	"time"

	"github.com/spf13/cobra"
)

// chargesCommands exposes the charge engine for a single transaction.
func chargesCommands(b *rentcycleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charges",
		Short: "late fee and replacement charges",
	}
	cmd.AddCommand(chargesApplyCommand(b))
	return cmd
}

func chargesApplyCommand(b *rentcycleInstance) *cobra.Command {
	var (
		nowFlag string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "apply <transaction-id>",
		Short: "evaluate and apply charges owed by one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if nowFlag != "" {
				parsed, err := b.app.Calendar().ParseDate(nowFlag)
				if err != nil {
					return err
				}
				now = parsed
			}

			res, err := b.app.Engine().WithDryRun(dryRun).ApplyCharges(cmd.Context(), args[0], now)
			if err != nil {
				return err
			}
			return printSummary(res)
		},
	}

	cmd.Flags().StringVar(&nowFlag, "now", "", "evaluate at this time (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute charges without writing them")
	return cmd
}
