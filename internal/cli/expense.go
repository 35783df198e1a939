package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"conti/internal/core"
	"conti/internal/services"
	"conti/internal/settlement"
)

func newExpenseCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "expense",
		Aliases: []string{"exp"},
		Short:   "Record, edit and pay group expenses",
	}
	cmd.AddCommand(
		newExpenseAddCmd(opts),
		newExpenseEditCmd(opts),
		newExpenseDeleteCmd(opts),
		newExpenseListCmd(opts),
		newExpenseShowCmd(opts),
		newExpensePayCmd(opts),
	)
	return cmd
}

func newExpenseAddCmd(opts *rootOptions) *cobra.Command {
	var splitType, with, paidBy, date, currency string
	cmd := &cobra.Command{
		Use:   "add GROUP DESCRIPTION AMOUNT",
		Short: "Record an expense and print its ID",
		Example: `  conti expense add $GROUP "Dinner" 90 --with alice,bob,carol
  conti expense add $GROUP "Hotel" 300 --type shares --with alice=2,bob=1`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			amount, err := core.ParseAmount(args[2])
			if err != nil {
				return err
			}
			st, err := core.ParseSplitType(splitType)
			if err != nil {
				return err
			}
			participants, err := parseParticipants(st, with)
			if err != nil {
				return err
			}
			expenseDate, err := parseDate(date)
			if err != nil {
				return err
			}
			if paidBy == "" {
				paidBy = userID
			}

			return opts.run(cmd, func(ctx context.Context, a *app) error {
				e, err := a.expenses.CreateExpense(ctx, services.CreateExpenseInput{
					GroupID:      args[0],
					Description:  args[1],
					Amount:       amount,
					Currency:     currency,
					PaidByUserID: paidBy,
					SplitType:    st,
					Participants: participants,
					ExpenseDate:  expenseDate,
					CreatedBy:    userID,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&splitType, "type", "t", string(core.SplitEqual), "Split type: equal, exact, percentage, shares")
	cmd.Flags().StringVarP(&with, "with", "w", "", "Participants, e.g. alice,bob or alice=60,bob=40")
	cmd.Flags().StringVar(&paidBy, "paid-by", "", "Payer (default: the acting user)")
	cmd.Flags().StringVar(&date, "date", "", "Expense date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency (default: the group's)")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

func newExpenseEditCmd(opts *rootOptions) *cobra.Command {
	var description, amount, splitType, with, date string
	cmd := &cobra.Command{
		Use:   "edit GROUP EXPENSE",
		Short: "Change an expense that has not received any payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := opts.requireUser()
			if err != nil {
				return err
			}

			var in services.UpdateExpenseInput
			flags := cmd.Flags()
			if flags.Changed("description") {
				in.Description = &description
			}
			if flags.Changed("amount") {
				m, err := core.ParseAmount(amount)
				if err != nil {
					return err
				}
				in.Amount = &m
			}
			if flags.Changed("type") {
				st, err := core.ParseSplitType(splitType)
				if err != nil {
					return err
				}
				in.SplitType = &st
			}
			if flags.Changed("date") {
				d, err := parseDate(date)
				if err != nil {
					return err
				}
				in.ExpenseDate = &d
			}

			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if flags.Changed("with") {
					// Values are read with the new split type, or the stored one.
					var st core.SplitType
					if in.SplitType != nil {
						st = *in.SplitType
					} else {
						e, err := a.expenses.GetExpense(ctx, args[0], args[1])
						if err != nil {
							return err
						}
						st = e.SplitType
					}
					participants, err := parseParticipants(st, with)
					if err != nil {
						return err
					}
					in.Participants = participants
				}
				_, err := a.expenses.UpdateExpense(ctx, args[0], args[1], actorID, in)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&amount, "amount", "", "New amount")
	cmd.Flags().StringVarP(&splitType, "type", "t", "", "New split type")
	cmd.Flags().StringVarP(&with, "with", "w", "", "New participants")
	cmd.Flags().StringVar(&date, "date", "", "New date YYYY-MM-DD")
	return cmd
}

func newExpenseDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete GROUP EXPENSE",
		Short: "Delete an expense that is not settled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return a.expenses.DeleteExpense(ctx, args[0], args[1], actorID)
			})
		},
	}
}

func newExpenseListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list GROUP",
		Short: "List expenses, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				expenses, err := a.expenses.ListExpenses(ctx, args[0])
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tDATE\tDESCRIPTION\tAMOUNT\tPAID BY\tSPLIT\tSETTLED")
				for _, e := range expenses {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
						e.ID, e.ExpenseDate.Format("2006-01-02"), e.Description,
						money(e.Currency, e.Amount), e.PaidByUserID, e.SplitType, e.IsSettled())
				}
				return tw.Flush()
			})
		},
	}
}

func newExpenseShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show GROUP EXPENSE",
		Short: "Show an expense with its splits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				e, err := a.expenses.GetExpense(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s paid by %s on %s (%s split)\n\n",
					e.Description, money(e.Currency, e.Amount), e.PaidByUserID, e.ExpenseDate.Format("2006-01-02"), e.SplitType)

				tw := newTable(out)
				fmt.Fprintln(tw, "USER\tOWES\tPAID\tREMAINING\tDONE")
				for _, s := range e.Splits {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.UserID,
						money(e.Currency, s.AmountOwed), money(e.Currency, s.AmountPaid),
						money(e.Currency, s.Remaining().Max(core.Money{})), s.IsPaid)
				}
				return tw.Flush()
			})
		},
	}
}

func newExpensePayCmd(opts *rootOptions) *cobra.Command {
	var full bool
	var forUser string
	cmd := &cobra.Command{
		Use:   "pay GROUP EXPENSE AMOUNT",
		Short: "Pay towards your split of an expense",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := opts.requireUser()
			if err != nil {
				return err
			}
			amount, err := core.ParseAmount(args[2])
			if err != nil {
				return err
			}
			if forUser == "" {
				forUser = actorID
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				res, err := a.expenses.SettleExpense(ctx, args[0], args[1], actorID, settlement.Payment{
					UserID:          forUser,
					Amount:          amount,
					MarkAsFullyPaid: full,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "paid %s, remaining %s\n", res.AmountPaid, res.RemainingOwed)
				if res.ExpenseSettled {
					fmt.Fprintln(out, "expense settled")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Mark the split as fully paid even if short")
	cmd.Flags().StringVar(&forUser, "for", "", "Record the payment on another member's split")
	return cmd
}
