package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"payment-gateway/internal/ledger"
)

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Look up payment intents",
	}
	cmd.AddCommand(paymentGetCmd())
	cmd.AddCommand(paymentFindCmd())
	return cmd
}

func paymentGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a payment intent by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid payment id %q", args[0])
			}

			l, closeStore, err := openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			intent, err := l.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), intent)
		},
	}
}

func paymentFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Show a payment intent by merchant and client reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			merchant, _ := cmd.Flags().GetString("merchant")
			reference, _ := cmd.Flags().GetString("reference")

			l, closeStore, err := openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			intent, err := l.GetByReference(cmd.Context(), ledger.Principal(merchant), reference)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), intent)
		},
	}

	cmd.Flags().StringP("merchant", "m", "", "Merchant principal")
	cmd.Flags().StringP("reference", "r", "", "Client reference")
	_ = cmd.MarkFlagRequired("merchant")
	_ = cmd.MarkFlagRequired("reference")

	return cmd
}

func nextIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-id",
		Short: "Show the id the next payment intent will get",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeStore, err := openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			next, err := l.NextID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
}
