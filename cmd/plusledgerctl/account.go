package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseUserArg(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return uint(id), nil
}

func newCustomersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Payment provider customer maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup <user-id>",
		Short: "Collapse duplicate provider customers of one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			b, err := openBackend()
			if err != nil {
				return err
			}
			res, err := b.svc.Manager.CleanupDuplicateCustomers(cmd.Context(), id, cliActor())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	return cmd
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Account maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apikey <user-id>",
		Short: "Rotate the API key of an account and print the new key once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			b, err := openBackend()
			if err != nil {
				return err
			}
			u, err := b.repos.User.GetByID(id)
			if err != nil {
				return fmt.Errorf("user %d: %w", id, err)
			}
			raw, err := u.IssueAPIKey()
			if err != nil {
				return err
			}
			if err := b.repos.User.SaveAPIKey(u); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	})
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Print the effective entitlement of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserArg(args[0])
			if err != nil {
				return err
			}
			b, err := openBackend()
			if err != nil {
				return err
			}
			view, err := b.svc.Entitlement(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}
