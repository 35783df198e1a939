package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"conti/internal/core"
	"conti/internal/services"
)

func newGroupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups and their members",
	}
	cmd.AddCommand(
		newGroupCreateCmd(opts),
		newGroupAddMemberCmd(opts),
		newGroupLeaveCmd(opts),
		newGroupMembersCmd(opts),
	)
	return cmd
}

func newGroupCreateCmd(opts *rootOptions) *cobra.Command {
	var currency, description string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a group with the acting user as admin and print its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if currency == "" {
					currency = a.cfg.DefaultCurrency
				}
				g, err := a.expenses.CreateGroup(ctx, services.CreateGroupInput{
					Name:        args[0],
					Description: description,
					Currency:    currency,
					CreatedBy:   userID,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), g.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code (default: $DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&description, "description", "", "Optional description")
	return cmd
}

func newGroupAddMemberCmd(opts *rootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add-member GROUP USER",
		Short: "Add a member to a group (admins only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return a.expenses.AddMember(ctx, args[0], actorID, args[1], core.MemberRole(role))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(core.RoleMember), "Role: admin or member")
	return cmd
}

func newGroupLeaveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leave GROUP",
		Short: "Leave a group once your debts are settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return a.expenses.LeaveGroup(ctx, args[0], userID)
			})
		},
	}
}

func newGroupMembersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "members GROUP",
		Short: "List group members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				members, err := a.expenses.ListMembers(ctx, args[0])
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "USER\tROLE\tSTATUS\tJOINED")
				for _, m := range members {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.UserID, m.Role, m.InviteStatus, m.JoinedAt.Format("2006-01-02"))
				}
				return tw.Flush()
			})
		},
	}
}
