package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"payment-gateway/internal/ledger"
)

func feeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Inspect and govern the platform fee rate",
	}
	cmd.AddCommand(feeGetCmd())
	cmd.AddCommand(feeSetCmd())
	cmd.AddCommand(feePreviewCmd())
	return cmd
}

func feeGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current fee rate in basis points",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, closeStore, err := openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			bps, err := l.FeeRate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bps (max %d)\n", bps, ledger.MaxFeeRate)
			return nil
		},
	}
}

func feeSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [bps]",
		Short: "Set the fee rate; only the ledger owner may do this",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bps, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid fee rate %q", args[0])
			}
			caller, _ := cmd.Flags().GetString("as")

			l, closeStore, err := openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			set, err := l.SetFeeRate(cmd.Context(), ledger.BasisPoints(bps), ledger.Principal(caller))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bps\n", set)
			return nil
		},
	}

	cmd.Flags().String("as", "", "Principal making the change")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

func feePreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview [amount]",
		Short: "Show the fee and net amount for a payment of amount base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid amount %q", args[0])
			}

			l, closeStore, err := openLedger(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			fee, err := l.CalculateFee(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "amount %d fee %d net %d\n", amount, fee, amount-fee)
			return nil
		},
	}
}
