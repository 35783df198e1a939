package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"conti/internal/core"
	"conti/internal/loan"
)

func newLoanCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loan",
		Short: "Turn group debts into loans and preview loan adjustments",
	}
	cmd.AddCommand(newLoanDraftCmd(opts), newLoanAdjustCmd())
	return cmd
}

func newLoanDraftCmd(opts *rootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "draft GROUP",
		Short: "Draft a loan for each transfer you owe or are owed in the group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				group, err := a.repo.GetGroup(ctx, args[0])
				if err != nil {
					return err
				}
				owes, owed, err := a.balances.GetDebtsFor(ctx, args[0], userID)
				if err != nil {
					return err
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "LENDER\tBORROWER\tAMOUNT\tDESCRIPTION")
				for _, d := range append(owes, owed...) {
					l, err := loan.FromDebt(group.ID, d, description)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.LenderUserID, l.BorrowerUserID, money(group.Currency, l.Amount), l.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Loan description (default: Group balance)")
	return cmd
}

func newLoanAdjustCmd() *cobra.Command {
	var kind, by, paid string
	cmd := &cobra.Command{
		Use:   "adjust AMOUNT REMAINING",
		Short: "Preview a payment, increase, decrease or waiver on a loan",
		Example: `  conti loan adjust 500 200 --type payment --by 50
  conti loan adjust 500 200 --type waive`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseAmount(args[0])
			if err != nil {
				return err
			}
			remaining, err := core.ParseMoney(args[1])
			if err != nil {
				return err
			}
			paidSoFar, err := core.ParseMoney(paid)
			if err != nil {
				return err
			}
			adjType, err := loan.ParseAdjustmentType(kind)
			if err != nil {
				return err
			}
			var adjAmount core.Money
			if by != "" {
				if adjAmount, err = core.ParseAmount(by); err != nil {
					return err
				}
			}

			l, err := loan.CalculateAdjustment(loan.Loan{
				Amount:          amount,
				AmountPaid:      paidSoFar,
				AmountRemaining: remaining,
				Status:          loan.StatusActive,
			}, loan.Adjustment{Type: adjType, Amount: adjAmount})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "amount %s, paid %s, remaining %s, %s\n", l.Amount, l.AmountPaid, l.AmountRemaining, l.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", string(loan.AdjustPayment), "Adjustment: payment, increase, decrease, waive")
	cmd.Flags().StringVar(&by, "by", "", "Adjustment amount")
	cmd.Flags().StringVar(&paid, "paid", "0", "Amount already paid")
	return cmd
}
