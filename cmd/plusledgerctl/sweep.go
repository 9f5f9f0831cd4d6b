package main

import (
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/jobqueue"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a periodic sweep once, in this process",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "expiration",
			Short: "Expire lapsed subscriptions and credits",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := openBackend()
				if err != nil {
					return err
				}
				report, err := jobqueue.NewExpirationSweeper(b.svc).Run(cmd.Context(), cliActor())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			},
		},
		&cobra.Command{
			Use:   "resume",
			Short: "Resume paused billing for accounts whose credit is about to end",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := openBackend()
				if err != nil {
					return err
				}
				report, err := jobqueue.NewResumeSweeper(b.svc).Run(cmd.Context(), cliActor())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			},
		},
	)
	return cmd
}
