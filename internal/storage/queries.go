package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const createGroup = `
INSERT INTO expense_groups (id, name, description, currency, created_by, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateGroup(ctx context.Context, g ExpenseGroup) error {
	_, err := q.db.ExecContext(ctx, createGroup, g.ID, g.Name, g.Description, g.Currency, g.CreatedBy, g.CreatedAt)
	return err
}

const getGroup = `
SELECT id, name, description, currency, created_by, created_at
FROM expense_groups WHERE id = ?`

func (q *Queries) GetGroup(ctx context.Context, id string) (ExpenseGroup, error) {
	var g ExpenseGroup
	err := q.db.QueryRowContext(ctx, getGroup, id).Scan(&g.ID, &g.Name, &g.Description, &g.Currency, &g.CreatedBy, &g.CreatedAt)
	return g, err
}

const listGroupIDs = `SELECT id FROM expense_groups ORDER BY created_at, id`

func (q *Queries) ListGroupIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listGroupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const upsertMember = `
INSERT INTO group_members (group_id, user_id, role, invite_status, joined_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (group_id, user_id) DO UPDATE SET role = excluded.role, invite_status = excluded.invite_status`

func (q *Queries) UpsertMember(ctx context.Context, m GroupMember) error {
	_, err := q.db.ExecContext(ctx, upsertMember, m.GroupID, m.UserID, m.Role, m.InviteStatus, m.JoinedAt)
	return err
}

const deleteMember = `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`

func (q *Queries) DeleteMember(ctx context.Context, groupID, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteMember, groupID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listMembers = `
SELECT group_id, user_id, role, invite_status, joined_at
FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id`

func (q *Queries) ListMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := q.db.QueryContext(ctx, listMembers, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.InviteStatus, &m.JoinedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const expenseColumns = `id, group_id, description, amount, currency, paid_by_user_id, split_type,
is_settled, has_adjustments, expense_date, created_by, created_at, updated_at`

func scanExpense(row interface{ Scan(...any) error }) (GroupExpense, error) {
	var e GroupExpense
	err := row.Scan(&e.ID, &e.GroupID, &e.Description, &e.Amount, &e.Currency, &e.PaidByUserID, &e.SplitType,
		&e.IsSettled, &e.HasAdjustments, &e.ExpenseDate, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

const createExpense = `
INSERT INTO group_expenses (` + expenseColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateExpense(ctx context.Context, e GroupExpense) error {
	_, err := q.db.ExecContext(ctx, createExpense, e.ID, e.GroupID, e.Description, e.Amount, e.Currency, e.PaidByUserID,
		e.SplitType, e.IsSettled, e.HasAdjustments, e.ExpenseDate, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

const updateExpense = `
UPDATE group_expenses
SET description = ?, amount = ?, currency = ?, paid_by_user_id = ?, split_type = ?,
    has_adjustments = ?, expense_date = ?, updated_at = ?
WHERE id = ? AND group_id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, e GroupExpense) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateExpense, e.Description, e.Amount, e.Currency, e.PaidByUserID, e.SplitType,
		e.HasAdjustments, e.ExpenseDate, e.UpdatedAt, e.ID, e.GroupID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setExpenseSettled = `UPDATE group_expenses SET is_settled = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetExpenseSettled(ctx context.Context, id string, settled bool, updatedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, setExpenseSettled, settled, updatedAt, id)
	return err
}

const getExpense = `SELECT ` + expenseColumns + ` FROM group_expenses WHERE id = ? AND group_id = ?`

func (q *Queries) GetExpense(ctx context.Context, groupID, id string) (GroupExpense, error) {
	return scanExpense(q.db.QueryRowContext(ctx, getExpense, id, groupID))
}

const listExpenses = `
SELECT ` + expenseColumns + ` FROM group_expenses
WHERE group_id = ? ORDER BY expense_date, created_at, id`

func (q *Queries) ListExpenses(ctx context.Context, groupID string) ([]GroupExpense, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GroupExpense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const deleteExpense = `DELETE FROM group_expenses WHERE id = ? AND group_id = ?`

func (q *Queries) DeleteExpense(ctx context.Context, groupID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpense, id, groupID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const splitColumns = `id, expense_id, position, user_id, amount_owed, amount_paid, is_paid, paid_at,
percentage, shares, calculated_amount, adjustment_amount, is_rounding_adjustment`

func scanSplit(row interface{ Scan(...any) error }) (GroupExpenseSplit, error) {
	var s GroupExpenseSplit
	err := row.Scan(&s.ID, &s.ExpenseID, &s.Position, &s.UserID, &s.AmountOwed, &s.AmountPaid, &s.IsPaid, &s.PaidAt,
		&s.Percentage, &s.Shares, &s.CalculatedAmount, &s.AdjustmentAmount, &s.IsRoundingAdjustment)
	return s, err
}

const createSplit = `
INSERT INTO group_expense_splits (` + splitColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateSplit(ctx context.Context, s GroupExpenseSplit) error {
	_, err := q.db.ExecContext(ctx, createSplit, s.ID, s.ExpenseID, s.Position, s.UserID, s.AmountOwed, s.AmountPaid,
		s.IsPaid, s.PaidAt, s.Percentage, s.Shares, s.CalculatedAmount, s.AdjustmentAmount, s.IsRoundingAdjustment)
	return err
}

const deleteSplits = `DELETE FROM group_expense_splits WHERE expense_id = ?`

func (q *Queries) DeleteSplits(ctx context.Context, expenseID string) error {
	_, err := q.db.ExecContext(ctx, deleteSplits, expenseID)
	return err
}

const listSplits = `SELECT ` + splitColumns + ` FROM group_expense_splits WHERE expense_id = ? ORDER BY position`

func (q *Queries) ListSplits(ctx context.Context, expenseID string) ([]GroupExpenseSplit, error) {
	return q.querySplits(ctx, listSplits, expenseID)
}

const listGroupSplits = `
SELECT s.id, s.expense_id, s.position, s.user_id, s.amount_owed, s.amount_paid, s.is_paid, s.paid_at,
       s.percentage, s.shares, s.calculated_amount, s.adjustment_amount, s.is_rounding_adjustment
FROM group_expense_splits s
JOIN group_expenses e ON e.id = s.expense_id
WHERE e.group_id = ?
ORDER BY s.expense_id, s.position`

func (q *Queries) ListGroupSplits(ctx context.Context, groupID string) ([]GroupExpenseSplit, error) {
	return q.querySplits(ctx, listGroupSplits, groupID)
}

func (q *Queries) querySplits(ctx context.Context, query string, arg string) ([]GroupExpenseSplit, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GroupExpenseSplit
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const updateSplitPayment = `UPDATE group_expense_splits SET amount_paid = ?, is_paid = ?, paid_at = ? WHERE id = ?`

type UpdateSplitPaymentParams struct {
	ID         string
	AmountPaid string
	IsPaid     bool
	PaidAt     sql.NullTime
}

func (q *Queries) UpdateSplitPayment(ctx context.Context, arg UpdateSplitPaymentParams) error {
	_, err := q.db.ExecContext(ctx, updateSplitPayment, arg.AmountPaid, arg.IsPaid, arg.PaidAt, arg.ID)
	return err
}

const listBalanceRows = `
SELECT e.id, e.amount, COALESCE(e.paid_by_user_id, ''), s.user_id, s.amount_owed
FROM group_expenses e
LEFT JOIN group_expense_splits s ON s.expense_id = e.id
WHERE e.group_id = ?
ORDER BY e.expense_date, e.created_at, e.id, s.position`

type BalanceRow struct {
	ExpenseID    string
	Amount       string
	PaidByUserID string
	SplitUserID  sql.NullString
	AmountOwed   sql.NullString
}

func (q *Queries) ListBalanceRows(ctx context.Context, groupID string) ([]BalanceRow, error) {
	rows, err := q.db.QueryContext(ctx, listBalanceRows, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BalanceRow
	for rows.Next() {
		var r BalanceRow
		if err := rows.Scan(&r.ExpenseID, &r.Amount, &r.PaidByUserID, &r.SplitUserID, &r.AmountOwed); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const createSettlement = `
INSERT INTO settlements (id, group_id, from_user_id, to_user_id, amount, currency, notes, settled_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateSettlement(ctx context.Context, s Settlement) error {
	_, err := q.db.ExecContext(ctx, createSettlement, s.ID, s.GroupID, s.FromUserID, s.ToUserID, s.Amount, s.Currency, s.Notes, s.SettledAt)
	return err
}

const listSettlements = `
SELECT id, group_id, from_user_id, to_user_id, amount, currency, notes, settled_at
FROM settlements WHERE group_id = ? ORDER BY settled_at, id`

func (q *Queries) ListSettlements(ctx context.Context, groupID string) ([]Settlement, error) {
	rows, err := q.db.QueryContext(ctx, listSettlements, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Settlement
	for rows.Next() {
		var s Settlement
		if err := rows.Scan(&s.ID, &s.GroupID, &s.FromUserID, &s.ToUserID, &s.Amount, &s.Currency, &s.Notes, &s.SettledAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const bumpGroupRevision = `UPDATE expense_groups SET revision = revision + 1 WHERE id = ?`

func (q *Queries) BumpGroupRevision(ctx context.Context, groupID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, bumpGroupRevision, groupID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getGroupVersion = `
SELECT g.revision, (SELECT COUNT(*) FROM group_expenses e WHERE e.group_id = g.id)
FROM expense_groups g WHERE g.id = ?`

func (q *Queries) GetGroupVersion(ctx context.Context, groupID string) (revision, expenseCount int64, err error) {
	err = q.db.QueryRowContext(ctx, getGroupVersion, groupID).Scan(&revision, &expenseCount)
	return revision, expenseCount, err
}

const deleteDebtSnapshot = `DELETE FROM debt_snapshots WHERE group_id = ?`

func (q *Queries) DeleteDebtSnapshot(ctx context.Context, groupID string) error {
	_, err := q.db.ExecContext(ctx, deleteDebtSnapshot, groupID)
	return err
}

const createDebtSnapshot = `
INSERT INTO debt_snapshots (group_id, position, from_user_id, to_user_id, amount)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateDebtSnapshot(ctx context.Context, d DebtSnapshot) error {
	_, err := q.db.ExecContext(ctx, createDebtSnapshot, d.GroupID, d.Position, d.FromUserID, d.ToUserID, d.Amount)
	return err
}

const listDebtSnapshot = `
SELECT group_id, position, from_user_id, to_user_id, amount
FROM debt_snapshots WHERE group_id = ? ORDER BY position`

func (q *Queries) ListDebtSnapshot(ctx context.Context, groupID string) ([]DebtSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, listDebtSnapshot, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DebtSnapshot
	for rows.Next() {
		var d DebtSnapshot
		if err := rows.Scan(&d.GroupID, &d.Position, &d.FromUserID, &d.ToUserID, &d.Amount); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

const upsertDebtSnapshotState = `
INSERT INTO debt_snapshot_state (group_id, revision, expense_count, computed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (group_id) DO UPDATE SET
    revision = excluded.revision, expense_count = excluded.expense_count, computed_at = excluded.computed_at`

func (q *Queries) UpsertDebtSnapshotState(ctx context.Context, s DebtSnapshotState) error {
	_, err := q.db.ExecContext(ctx, upsertDebtSnapshotState, s.GroupID, s.Revision, s.ExpenseCount, s.ComputedAt)
	return err
}

const getDebtSnapshotState = `
SELECT group_id, revision, expense_count, computed_at
FROM debt_snapshot_state WHERE group_id = ?`

func (q *Queries) GetDebtSnapshotState(ctx context.Context, groupID string) (DebtSnapshotState, error) {
	var s DebtSnapshotState
	err := q.db.QueryRowContext(ctx, getDebtSnapshotState, groupID).Scan(&s.GroupID, &s.Revision, &s.ExpenseCount, &s.ComputedAt)
	return s, err
}

const createActivity = `
INSERT INTO group_activity (group_id, user_id, action, entity_id, details, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateActivity(ctx context.Context, a GroupActivity) (int64, error) {
	res, err := q.db.ExecContext(ctx, createActivity, a.GroupID, a.UserID, a.Action, a.EntityID, a.Details, a.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const listActivity = `
SELECT id, group_id, user_id, action, entity_id, details, created_at
FROM group_activity WHERE group_id = ? ORDER BY id DESC LIMIT ?`

func (q *Queries) ListActivity(ctx context.Context, groupID string, limit int64) ([]GroupActivity, error) {
	rows, err := q.db.QueryContext(ctx, listActivity, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GroupActivity
	for rows.Next() {
		var a GroupActivity
		if err := rows.Scan(&a.ID, &a.GroupID, &a.UserID, &a.Action, &a.EntityID, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
