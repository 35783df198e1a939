package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conti/internal/balance"
	"conti/internal/config"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
	"conti/internal/split"
	"conti/internal/storage"
)

type rootOptions struct {
	dbPath   string
	userID   string
	logLevel string
}

// NewRootCmd builds the conti command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "conti",
		Short: "Split group expenses and settle debts",
		Long: `conti tracks shared expenses within groups, splits them equally, by exact
amounts, by percentage or by shares, and reduces what everyone owes to a
short list of transfers.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default: $SQLITE_DB_PATH)")
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", os.Getenv("CONTI_USER"), "Acting user ID (default: $CONTI_USER)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newMigrateCmd(opts),
		newSplitCmd(),
		newGroupCmd(opts),
		newExpenseCmd(opts),
		newSettleCmd(opts),
		newBalancesCmd(opts),
		newDebtsCmd(opts),
		newStatsCmd(opts),
		newActivityCmd(opts),
		newLoanCmd(opts),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	LoadEnvFile()
	return NewRootCmd().Execute()
}

func (o *rootOptions) config(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg := config.Load()
	if o.dbPath != "" {
		cfg.SQLiteDBPath = o.dbPath
	}
	cfg.LogLevel = o.logLevel
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := SetupLogger(cfg.LogLevel, cmd.ErrOrStderr()).WithComponent(log.ComponentCLI)
	return cfg, logger, nil
}

func (o *rootOptions) requireUser() (string, error) {
	if o.userID == "" {
		return "", errors.New("no acting user: pass --user or set CONTI_USER")
	}
	return o.userID, nil
}

// app is the set of services one command invocation works with.
type app struct {
	cfg      *config.Config
	repo     *storage.SQLiteRepository
	balances *services.BalanceService
	expenses *services.GroupExpenseService
	closers  []func()
}

func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := o.config(cmd)
	if err != nil {
		return nil, err
	}
	repo, err := InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, repo: repo}

	balanceCache, stopCache := InitBalanceCache(commandContext(cmd), cfg, logger)
	a.closers = append(a.closers, stopCache)

	// A broker outage must not block local bookkeeping.
	amqpClient, _ := InitAMQP(cfg, logger)

	a.balances = services.NewBalanceService(repo, balanceCache, logger)
	a.expenses = services.NewGroupExpenseService(repo, a.balances, amqpClient, logger)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
	_ = a.expenses.Close()
}

// run opens the app for the duration of fn.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(commandContext(cmd), a)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func money(currency string, m core.Money) string {
	if m.IsNegative() {
		return "-" + balance.CurrencySymbol(currency) + m.Abs().String()
	}
	return balance.CurrencySymbol(currency) + m.String()
}

// migrate

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var down, version bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.config(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case version:
			case down:
				if err := storage.RollbackMigrations(cfg.SQLiteDBPath); err != nil {
					return err
				}
				logger.Info("Migrations rolled back", "path", cfg.SQLiteDBPath)
			default:
				if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
					return err
				}
				logger.Info("Migrations applied", "path", cfg.SQLiteDBPath)
			}

			v, dirty, err := storage.SchemaVersion(cfg.SQLiteDBPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "schema version %d", v)
			if dirty {
				fmt.Fprint(out, " (dirty)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration")
	cmd.Flags().BoolVar(&version, "version", false, "Only print the schema version")
	return cmd
}

// split

func newSplitCmd() *cobra.Command {
	var splitType, with, payer, currency string
	cmd := &cobra.Command{
		Use:   "split AMOUNT",
		Short: "Preview how an amount would be split, without storing anything",
		Example: `  conti split 100 --with alice,bob,carol --payer alice
  conti split 100 --type percentage --with alice=33.33,bob=33.33,carol=33.34`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := core.ParseAmount(args[0])
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
			splits, err := split.CalculateSplits(total, st, participants, payer)
			if err != nil {
				return err
			}
			if err := split.ValidateSplits(total, split.Amounts(splits)).Err(); err != nil {
				return err
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "USER\tOWES\tPERCENT\tADJUSTMENT")
			for _, s := range splits {
				adj := ""
				if s.IsRoundingAdjustment {
					adj = money(currency, s.AdjustmentAmount)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s\n", s.UserID, money(currency, s.AmountOwed), s.Percentage.StringFixed(2), adj)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&splitType, "type", "t", string(core.SplitEqual), "Split type: equal, exact, percentage, shares")
	cmd.Flags().StringVarP(&with, "with", "w", "", "Participants, e.g. alice,bob or alice=60,bob=40")
	cmd.Flags().StringVar(&payer, "payer", "", "User who paid; receives rounding leftovers")
	cmd.Flags().StringVar(&currency, "currency", services.DefaultCurrency, "Currency used for display")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}
