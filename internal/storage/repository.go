package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"conti/internal/balance"
	"conti/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

// dsn enables foreign keys and WAL and waits on a busy database instead of
// failing immediately.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithTx runs fn against a repository bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(tx *SQLiteRepository) error) error {
	if r.db == nil {
		// Already inside a transaction.
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&SQLiteRepository{queries: r.queries.WithTx(tx)}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Groups and members

// CreateGroup stores the group and makes its creator an accepted admin.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g *core.Group) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if err := r.queries.CreateGroup(ctx, ExpenseGroup{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Currency:    g.Currency,
		CreatedBy:   g.CreatedBy,
		CreatedAt:   g.CreatedAt,
	}); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return r.SaveMember(ctx, core.Member{
		GroupID:      g.ID,
		UserID:       g.CreatedBy,
		Role:         core.RoleAdmin,
		InviteStatus: core.InviteAccepted,
		JoinedAt:     g.CreatedAt,
	})
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (core.Group, error) {
	row, err := r.queries.GetGroup(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Group{}, fmt.Errorf("%w: %s", core.ErrGroupNotFound, id)
	}
	if err != nil {
		return core.Group{}, fmt.Errorf("get group %s: %w", id, err)
	}
	return core.Group{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Currency:    row.Currency,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func (r *SQLiteRepository) ListGroupIDs(ctx context.Context) ([]string, error) {
	ids, err := r.queries.ListGroupIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return ids, nil
}

// SaveMember inserts a member or updates the role and invite status of an
// existing one.
func (r *SQLiteRepository) SaveMember(ctx context.Context, m core.Member) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	err := r.queries.UpsertMember(ctx, GroupMember{
		GroupID:      m.GroupID,
		UserID:       m.UserID,
		Role:         string(m.Role),
		InviteStatus: string(m.InviteStatus),
		JoinedAt:     m.JoinedAt,
	})
	if err != nil {
		return fmt.Errorf("save member %s in group %s: %w", m.UserID, m.GroupID, err)
	}
	return nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, groupID string) ([]core.Member, error) {
	rows, err := r.queries.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", groupID, err)
	}
	members := make([]core.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, core.Member{
			GroupID:      row.GroupID,
			UserID:       row.UserID,
			Role:         core.MemberRole(row.Role),
			InviteStatus: core.InviteStatus(row.InviteStatus),
			JoinedAt:     row.JoinedAt,
		})
	}
	return members, nil
}

func (r *SQLiteRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	n, err := r.queries.DeleteMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member %s from %s: %w", userID, groupID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrNotGroupMember, userID)
	}
	return nil
}

// Expenses

// CreateExpense stores the expense and its splits. Missing IDs are generated.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e *core.Expense) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.ExpenseDate.IsZero() {
		e.ExpenseDate = e.CreatedAt
	}

	if err := r.queries.CreateExpense(ctx, expenseRow(e)); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	if err := r.insertSplits(ctx, e); err != nil {
		return err
	}
	return r.bumpRevision(ctx, e.GroupID)
}

// ReplaceExpense updates the expense and fully replaces its splits.
func (r *SQLiteRepository) ReplaceExpense(ctx context.Context, e *core.Expense) error {
	e.UpdatedAt = time.Now().UTC()
	n, err := r.queries.UpdateExpense(ctx, expenseRow(e))
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrExpenseNotFound, e.ID)
	}
	if err := r.queries.DeleteSplits(ctx, e.ID); err != nil {
		return fmt.Errorf("delete splits of %s: %w", e.ID, err)
	}
	if err := r.insertSplits(ctx, e); err != nil {
		return err
	}
	return r.bumpRevision(ctx, e.GroupID)
}

func (r *SQLiteRepository) insertSplits(ctx context.Context, e *core.Expense) error {
	for i := range e.Splits {
		s := &e.Splits[i]
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.ExpenseID = e.ID
		if err := r.queries.CreateSplit(ctx, splitRow(s, int64(i))); err != nil {
			return fmt.Errorf("create split for %s: %w", s.UserID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, groupID, id string) (*core.Expense, error) {
	row, err := r.queries.GetExpense(ctx, groupID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrExpenseNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get expense %s: %w", id, err)
	}
	e, err := toExpense(row)
	if err != nil {
		return nil, err
	}
	splits, err := r.queries.ListSplits(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list splits of %s: %w", id, err)
	}
	for _, s := range splits {
		split, err := toSplit(s)
		if err != nil {
			return nil, err
		}
		e.Splits = append(e.Splits, split)
	}
	return e, nil
}

// ListExpenses returns the group's expenses oldest first, with splits.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	rows, err := r.queries.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list expenses of %s: %w", groupID, err)
	}
	splitRows, err := r.queries.ListGroupSplits(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list splits of %s: %w", groupID, err)
	}

	byExpense := make(map[string][]core.Split, len(rows))
	for _, s := range splitRows {
		split, err := toSplit(s)
		if err != nil {
			return nil, err
		}
		byExpense[s.ExpenseID] = append(byExpense[s.ExpenseID], split)
	}

	expenses := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := toExpense(row)
		if err != nil {
			return nil, err
		}
		e.Splits = byExpense[e.ID]
		expenses = append(expenses, *e)
	}
	return expenses, nil
}

// bumpRevision marks the group's balances as changed. Split payments do not
// move balances and leave the revision alone.
func (r *SQLiteRepository) bumpRevision(ctx context.Context, groupID string) error {
	n, err := r.queries.BumpGroupRevision(ctx, groupID)
	if err != nil {
		return fmt.Errorf("bump revision of %s: %w", groupID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrGroupNotFound, groupID)
	}
	return nil
}

// GroupVersion reads the group's revision and expense count in one query.
func (r *SQLiteRepository) GroupVersion(ctx context.Context, groupID string) (core.GroupVersion, error) {
	revision, count, err := r.queries.GetGroupVersion(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GroupVersion{}, fmt.Errorf("%w: %s", core.ErrGroupNotFound, groupID)
	}
	if err != nil {
		return core.GroupVersion{}, fmt.Errorf("read version of %s: %w", groupID, err)
	}
	return core.GroupVersion{ExpenseCount: int(count), Revision: revision}, nil
}

// ListBalanceRows reads only what balance aggregation needs, leaving amounts
// as stored decimal text.
func (r *SQLiteRepository) ListBalanceRows(ctx context.Context, groupID string) ([]balance.ExpenseRow, error) {
	rows, err := r.queries.ListBalanceRows(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list balance rows of %s: %w", groupID, err)
	}
	var out []balance.ExpenseRow
	for _, row := range rows {
		if len(out) == 0 || out[len(out)-1].ID != row.ExpenseID {
			out = append(out, balance.ExpenseRow{
				ID:           row.ExpenseID,
				Amount:       row.Amount,
				PaidByUserID: row.PaidByUserID,
			})
		}
		if row.SplitUserID.Valid {
			last := &out[len(out)-1]
			last.Splits = append(last.Splits, balance.SplitRow{
				UserID:     row.SplitUserID.String,
				AmountOwed: row.AmountOwed.String,
			})
		}
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, groupID, id string) error {
	n, err := r.queries.DeleteExpense(ctx, groupID, id)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrExpenseNotFound, id)
	}
	return r.bumpRevision(ctx, groupID)
}

// SaveSplitPayment persists the payment state of one split.
func (r *SQLiteRepository) SaveSplitPayment(ctx context.Context, s core.Split) error {
	params := UpdateSplitPaymentParams{
		ID:         s.ID,
		AmountPaid: s.AmountPaid.String(),
		IsPaid:     s.IsPaid,
	}
	if s.PaidAt != nil {
		params.PaidAt = sql.NullTime{Time: s.PaidAt.UTC(), Valid: true}
	}
	if err := r.queries.UpdateSplitPayment(ctx, params); err != nil {
		return fmt.Errorf("update split %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) SetExpenseSettled(ctx context.Context, id string, settled bool) error {
	if err := r.queries.SetExpenseSettled(ctx, id, settled, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark expense %s settled: %w", id, err)
	}
	return nil
}

// Settlements

func (r *SQLiteRepository) CreateSettlement(ctx context.Context, s *core.Settlement, currency string) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SettledAt.IsZero() {
		s.SettledAt = time.Now().UTC()
	}
	err := r.queries.CreateSettlement(ctx, Settlement{
		ID:         s.ID,
		GroupID:    s.GroupID,
		FromUserID: s.FromUserID,
		ToUserID:   s.ToUserID,
		Amount:     s.Amount.String(),
		Currency:   currency,
		Notes:      s.Notes,
		SettledAt:  s.SettledAt,
	})
	if err != nil {
		return fmt.Errorf("create settlement: %w", err)
	}
	return r.bumpRevision(ctx, s.GroupID)
}

func (r *SQLiteRepository) ListSettlements(ctx context.Context, groupID string) ([]core.Settlement, error) {
	rows, err := r.queries.ListSettlements(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list settlements of %s: %w", groupID, err)
	}
	out := make([]core.Settlement, 0, len(rows))
	for _, row := range rows {
		amount, err := core.ParseMoney(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("settlement %s amount: %w", row.ID, err)
		}
		out = append(out, core.Settlement{
			ID:         row.ID,
			GroupID:    row.GroupID,
			FromUserID: row.FromUserID,
			ToUserID:   row.ToUserID,
			Amount:     amount,
			Notes:      row.Notes,
			SettledAt:  row.SettledAt,
		})
	}
	return out, nil
}

// Debt snapshots

// DebtSnapshotView is the last persisted simplification of a group's debts.
type DebtSnapshotView struct {
	Debts      []core.SimplifiedDebt
	Version    core.GroupVersion
	ComputedAt time.Time
}

// ReplaceDebtSnapshot overwrites the stored debts of a group with debts
// computed at version. A snapshot already stored for a newer revision is
// kept and false is returned. Call it inside WithTx.
func (r *SQLiteRepository) ReplaceDebtSnapshot(ctx context.Context, groupID string, debts []core.SimplifiedDebt, version core.GroupVersion, at time.Time) (bool, error) {
	current, err := r.queries.GetDebtSnapshotState(ctx, groupID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("read debt snapshot state of %s: %w", groupID, err)
	case current.Revision > version.Revision:
		return false, nil
	}

	if err := r.queries.DeleteDebtSnapshot(ctx, groupID); err != nil {
		return false, fmt.Errorf("clear debt snapshot of %s: %w", groupID, err)
	}
	for i, d := range debts {
		err := r.queries.CreateDebtSnapshot(ctx, DebtSnapshot{
			GroupID:    groupID,
			Position:   int64(i),
			FromUserID: d.From,
			ToUserID:   d.To,
			Amount:     d.Amount.String(),
		})
		if err != nil {
			return false, fmt.Errorf("store debt snapshot of %s: %w", groupID, err)
		}
	}
	err = r.queries.UpsertDebtSnapshotState(ctx, DebtSnapshotState{
		GroupID:      groupID,
		Revision:     version.Revision,
		ExpenseCount: int64(version.ExpenseCount),
		ComputedAt:   at.UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("store debt snapshot state of %s: %w", groupID, err)
	}
	return true, nil
}

// GetDebtSnapshot returns the stored debts. A group that was never
// snapshotted reports false, which callers treat as "recompute".
func (r *SQLiteRepository) GetDebtSnapshot(ctx context.Context, groupID string) (DebtSnapshotView, bool, error) {
	state, err := r.queries.GetDebtSnapshotState(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return DebtSnapshotView{}, false, nil
	}
	if err != nil {
		return DebtSnapshotView{}, false, fmt.Errorf("read debt snapshot state of %s: %w", groupID, err)
	}
	rows, err := r.queries.ListDebtSnapshot(ctx, groupID)
	if err != nil {
		return DebtSnapshotView{}, false, fmt.Errorf("read debt snapshot of %s: %w", groupID, err)
	}
	view := DebtSnapshotView{
		Version:    core.GroupVersion{ExpenseCount: int(state.ExpenseCount), Revision: state.Revision},
		ComputedAt: state.ComputedAt,
		Debts:      make([]core.SimplifiedDebt, 0, len(rows)),
	}
	for _, row := range rows {
		amount, err := core.ParseMoney(row.Amount)
		if err != nil {
			return DebtSnapshotView{}, false, fmt.Errorf("debt snapshot of %s: %w", groupID, err)
		}
		view.Debts = append(view.Debts, core.SimplifiedDebt{From: row.FromUserID, To: row.ToUserID, Amount: amount})
	}
	return view, true, nil
}

// Activity

func (r *SQLiteRepository) LogActivity(ctx context.Context, a core.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.queries.CreateActivity(ctx, GroupActivity{
		GroupID:   a.GroupID,
		UserID:    a.UserID,
		Action:    a.Action,
		EntityID:  a.EntityID,
		Details:   a.Details,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("log activity %s: %w", a.Action, err)
	}
	return nil
}

// ListActivity returns the newest entries first.
func (r *SQLiteRepository) ListActivity(ctx context.Context, groupID string, limit int) ([]core.Activity, error) {
	rows, err := r.queries.ListActivity(ctx, groupID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list activity of %s: %w", groupID, err)
	}
	out := make([]core.Activity, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.Activity{
			ID:        row.ID,
			GroupID:   row.GroupID,
			UserID:    row.UserID,
			Action:    row.Action,
			EntityID:  row.EntityID,
			Details:   row.Details,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

// Row conversion

func expenseRow(e *core.Expense) GroupExpense {
	return GroupExpense{
		ID:             e.ID,
		GroupID:        e.GroupID,
		Description:    e.Description,
		Amount:         e.Amount.String(),
		Currency:       e.Currency,
		PaidByUserID:   sql.NullString{String: e.PaidByUserID, Valid: e.PaidByUserID != ""},
		SplitType:      string(e.SplitType),
		IsSettled:      e.Settled,
		HasAdjustments: e.HasAdjustments,
		ExpenseDate:    e.ExpenseDate.UTC(),
		CreatedBy:      e.CreatedBy,
		CreatedAt:      e.CreatedAt.UTC(),
		UpdatedAt:      e.UpdatedAt.UTC(),
	}
}

func splitRow(s *core.Split, position int64) GroupExpenseSplit {
	row := GroupExpenseSplit{
		ID:                   s.ID,
		ExpenseID:            s.ExpenseID,
		Position:             position,
		UserID:               s.UserID,
		AmountOwed:           s.AmountOwed.String(),
		AmountPaid:           s.AmountPaid.String(),
		IsPaid:               s.IsPaid,
		Percentage:           s.Percentage.String(),
		CalculatedAmount:     s.CalculatedAmount.String(),
		AdjustmentAmount:     s.AdjustmentAmount.String(),
		IsRoundingAdjustment: s.IsRoundingAdjustment,
	}
	if s.PaidAt != nil {
		row.PaidAt = sql.NullTime{Time: s.PaidAt.UTC(), Valid: true}
	}
	if s.Shares != nil {
		row.Shares = sql.NullString{String: s.Shares.String(), Valid: true}
	}
	return row
}

func toExpense(row GroupExpense) (*core.Expense, error) {
	amount, err := core.ParseMoney(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("expense %s amount: %w", row.ID, err)
	}
	return &core.Expense{
		ID:             row.ID,
		GroupID:        row.GroupID,
		Description:    row.Description,
		Amount:         amount,
		Currency:       row.Currency,
		PaidByUserID:   row.PaidByUserID.String,
		SplitType:      core.SplitType(row.SplitType),
		Settled:        row.IsSettled,
		HasAdjustments: row.HasAdjustments,
		ExpenseDate:    row.ExpenseDate,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func toSplit(row GroupExpenseSplit) (core.Split, error) {
	var (
		s   = core.Split{ID: row.ID, ExpenseID: row.ExpenseID, UserID: row.UserID, IsPaid: row.IsPaid, IsRoundingAdjustment: row.IsRoundingAdjustment}
		err error
	)
	money := []struct {
		dst *core.Money
		src string
	}{
		{&s.AmountOwed, row.AmountOwed},
		{&s.AmountPaid, row.AmountPaid},
		{&s.CalculatedAmount, row.CalculatedAmount},
		{&s.AdjustmentAmount, row.AdjustmentAmount},
	}
	for _, m := range money {
		if *m.dst, err = core.ParseMoney(m.src); err != nil {
			return core.Split{}, fmt.Errorf("split %s: %w", row.ID, err)
		}
	}
	if s.Percentage, err = decimal.NewFromString(row.Percentage); err != nil {
		return core.Split{}, fmt.Errorf("split %s percentage: %w", row.ID, err)
	}
	if row.Shares.Valid {
		shares, err := decimal.NewFromString(row.Shares.String)
		if err != nil {
			return core.Split{}, fmt.Errorf("split %s shares: %w", row.ID, err)
		}
		s.Shares = &shares
	}
	if row.PaidAt.Valid {
		paidAt := row.PaidAt.Time
		s.PaidAt = &paidAt
	}
	return s, nil
}
