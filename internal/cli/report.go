package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"conti/internal/balance"
	"conti/internal/core"
	"conti/internal/services"
)

func newSettleCmd(opts *rootOptions) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "settle GROUP TO AMOUNT",
		Short: "Record a direct payment from you to another member",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromID, err := opts.requireUser()
			if err != nil {
				return err
			}
			amount, err := core.ParseAmount(args[2])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				s, err := a.expenses.RecordSettlement(ctx, fromID, services.RecordSettlementInput{
					GroupID:    args[0],
					FromUserID: fromID,
					ToUserID:   args[1],
					Amount:     amount,
					Notes:      notes,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Optional note, e.g. how it was paid")
	return cmd
}

func newBalancesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances GROUP",
		Short: "Show every member's net balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				group, err := a.repo.GetGroup(ctx, args[0])
				if err != nil {
					return err
				}
				balances, err := a.balances.GetGroupBalances(ctx, args[0])
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "USER\tPAID\tSHARE\tBALANCE\t")
				for _, mb := range balances.All() {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mb.UserID,
						money(group.Currency, mb.TotalPaid), money(group.Currency, mb.TotalOwed),
						money(group.Currency, mb.Balance), balance.FormatBalance(mb.Balance, group.Currency).Text)
				}
				return tw.Flush()
			})
		},
	}
}

func newDebtsCmd(opts *rootOptions) *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "debts GROUP",
		Short: "Show the transfers that settle the group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var userID string
			if mine {
				var err error
				if userID, err = opts.requireUser(); err != nil {
					return err
				}
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				group, err := a.repo.GetGroup(ctx, args[0])
				if err != nil {
					return err
				}
				var transfers []core.SimplifiedDebt
				if mine {
					owes, owed, err := a.balances.GetDebtsFor(ctx, args[0], userID)
					if err != nil {
						return err
					}
					transfers = append(owes, owed...)
				} else if transfers, err = a.balances.GetSimplifiedDebts(ctx, args[0]); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(transfers) == 0 {
					fmt.Fprintln(out, "all settled up")
					return nil
				}
				for _, d := range transfers {
					fmt.Fprintf(out, "%s pays %s %s\n", d.From, d.To, money(group.Currency, d.Amount))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "Only transfers involving the acting user")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats GROUP",
		Short: "Summarize group spending from your point of view",
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
				st, err := a.balances.GetStatistics(ctx, args[0], userID)
				if err != nil {
					return err
				}
				c := group.Currency
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintf(tw, "Expenses\t%d (%d settled)\n", st.TotalExpenses, st.SettledExpenses)
				fmt.Fprintf(tw, "Group spending\t%s\n", money(c, st.TotalSpending))
				fmt.Fprintf(tw, "Average expense\t%s\n", money(c, st.AverageExpense))
				fmt.Fprintf(tw, "You paid\t%s\n", money(c, st.YourSpending))
				fmt.Fprintf(tw, "Your share\t%s\n", money(c, st.YourShare))
				fmt.Fprintf(tw, "Balance\t%s\n", balance.FormatBalance(st.OutstandingBalance, c).Text)
				return tw.Flush()
			})
		},
	}
}

func newActivityCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity GROUP",
		Short: "Show the group's recent activity, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				entries, err := a.expenses.ListActivity(ctx, args[0], limit)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "WHEN\tUSER\tACTION\tENTITY\tDETAILS")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.UserID, e.Action, e.EntityID, e.Details)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries")
	return cmd
}
