package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/entitlements"
)

func newGiftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gift",
		Short: "Manage gift tokens",
	}

	var purchaser uint
	var tierName, durationName string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a gift token without a checkout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := entitlements.ParseTier(tierName)
			if err != nil {
				return err
			}
			duration, err := entitlements.ParseDuration(durationName)
			if err != nil {
				return err
			}
			b, err := openBackend()
			if err != nil {
				return err
			}
			if _, err := b.repos.User.GetByID(purchaser); err != nil {
				return fmt.Errorf("purchaser %d: %w", purchaser, err)
			}
			g, err := b.svc.Gifts.Issue(cmd.Context(), purchaser, tier, duration, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"id":         g.ID,
				"token":      g.Token,
				"tier":       g.Tier,
				"duration":   g.Duration,
				"expires_at": g.ExpiresAt,
			})
		},
	}
	issue.Flags().UintVar(&purchaser, "purchaser", 0, "user id of the purchaser")
	issue.Flags().StringVar(&tierName, "tier", "plus", "plus or mini_plus")
	issue.Flags().StringVar(&durationName, "duration", "month", "month or year")
	_ = issue.MarkFlagRequired("purchaser")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending tokens past their deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			n, err := b.svc.Gifts.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d gift tokens\n", n)
			return nil
		},
	}

	cmd.AddCommand(issue, sweep)
	return cmd
}
