package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/balance"
	"conti/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "conti.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestGroup(t *testing.T, repo *SQLiteRepository, members ...string) core.Group {
	t.Helper()
	ctx := context.Background()
	g := core.Group{Name: "Trip", Currency: "INR", CreatedBy: "alice"}
	require.NoError(t, repo.CreateGroup(ctx, &g))
	for _, m := range members {
		require.NoError(t, repo.SaveMember(ctx, core.Member{
			GroupID: g.ID, UserID: m, Role: core.RoleMember, InviteStatus: core.InviteAccepted,
		}))
	}
	return g
}

func testExpense(groupID, payer, amount string, owed map[string]string, order ...string) *core.Expense {
	e := &core.Expense{
		GroupID:      groupID,
		Description:  "Dinner",
		Amount:       core.MustParseMoney(amount),
		Currency:     "INR",
		PaidByUserID: payer,
		SplitType:    core.SplitExact,
		CreatedBy:    payer,
	}
	for _, u := range order {
		m := core.MustParseMoney(owed[u])
		e.Splits = append(e.Splits, core.Split{UserID: u, AmountOwed: m, CalculatedAmount: m})
	}
	return e
}

func TestSQLiteRepository_Migrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conti.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	version, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, RunMigrations(path))

	require.NoError(t, RollbackMigrations(path))
	version, _, err = SchemaVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestSQLiteRepository_Groups(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	g := newTestGroup(t, repo, "bob")
	assert.NotEmpty(t, g.ID)

	got, err := repo.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip", got.Name)

	_, err = repo.GetGroup(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrGroupNotFound)

	members, err := repo.ListMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].UserID)
	assert.Equal(t, core.RoleAdmin, members[0].Role)
	assert.True(t, members[1].Active())

	require.NoError(t, repo.RemoveMember(ctx, g.ID, "bob"))
	assert.ErrorIs(t, repo.RemoveMember(ctx, g.ID, "bob"), core.ErrNotGroupMember)

	ids, err := repo.ListGroupIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{g.ID}, ids)
}

func TestSQLiteRepository_ExpenseRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob", "carol")

	shares := decimal.NewFromInt(2)
	e := testExpense(g.ID, "alice", "100.01", map[string]string{"alice": "33.35", "bob": "33.33", "carol": "33.33"}, "alice", "bob", "carol")
	e.SplitType = core.SplitShares
	e.HasAdjustments = true
	e.Splits[0].Shares = &shares
	e.Splits[0].AdjustmentAmount = core.Cents(2)
	e.Splits[0].IsRoundingAdjustment = true
	e.Splits[1].Percentage = decimal.RequireFromString("33.33")
	require.NoError(t, repo.CreateExpense(ctx, e))
	require.NotEmpty(t, e.ID)

	got, err := repo.GetExpense(ctx, g.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.01", got.Amount.String())
	assert.Equal(t, core.SplitShares, got.SplitType)
	assert.True(t, got.HasAdjustments)
	require.Len(t, got.Splits, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{got.Splits[0].UserID, got.Splits[1].UserID, got.Splits[2].UserID})
	require.NotNil(t, got.Splits[0].Shares)
	assert.True(t, got.Splits[0].Shares.Equal(shares))
	assert.Equal(t, int64(2), got.Splits[0].AdjustmentAmount.Cents)
	assert.True(t, got.Splits[0].IsRoundingAdjustment)
	assert.Nil(t, got.Splits[1].Shares)
	assert.Equal(t, "33.33", got.Splits[1].Percentage.String())
	assert.Nil(t, got.Splits[1].PaidAt)

	_, err = repo.GetExpense(ctx, "other-group", e.ID)
	assert.ErrorIs(t, err, core.ErrExpenseNotFound)

	v, err := repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.ExpenseCount)
}

func TestSQLiteRepository_ReplaceAndDeleteExpense(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob")

	e := testExpense(g.ID, "alice", "50", map[string]string{"alice": "25", "bob": "25"}, "alice", "bob")
	require.NoError(t, repo.CreateExpense(ctx, e))

	e.Amount = core.MustParseMoney("60")
	e.Splits = []core.Split{{UserID: "bob", AmountOwed: core.MustParseMoney("60"), CalculatedAmount: core.MustParseMoney("60")}}
	require.NoError(t, repo.ReplaceExpense(ctx, e))

	got, err := repo.GetExpense(ctx, g.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", got.Amount.String())
	require.Len(t, got.Splits, 1)
	assert.Equal(t, "bob", got.Splits[0].UserID)

	missing := *e
	missing.ID = "nope"
	assert.ErrorIs(t, repo.ReplaceExpense(ctx, &missing), core.ErrExpenseNotFound)

	require.NoError(t, repo.DeleteExpense(ctx, g.ID, e.ID))
	assert.ErrorIs(t, repo.DeleteExpense(ctx, g.ID, e.ID), core.ErrExpenseNotFound)

	rows, err := repo.ListBalanceRows(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, rows, "splits cascade with their expense")
}

func TestSQLiteRepository_BalanceRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob", "carol")

	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	first := testExpense(g.ID, "alice", "90", map[string]string{"alice": "30", "bob": "30", "carol": "30"}, "alice", "bob", "carol")
	first.ExpenseDate = day
	second := testExpense(g.ID, "", "20", map[string]string{"bob": "10", "carol": "10"}, "bob", "carol")
	second.ExpenseDate = day.AddDate(0, 0, 1)
	require.NoError(t, repo.CreateExpense(ctx, second))
	require.NoError(t, repo.CreateExpense(ctx, first))

	rows, err := repo.ListBalanceRows(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID, "ordered by expense date")
	assert.Equal(t, "90.00", rows[0].Amount)
	assert.Len(t, rows[0].Splits, 3)
	assert.Equal(t, "", rows[1].PaidByUserID)

	balances, err := balance.CalculateGroupBalancesFromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, balances.Users())
	alice, _ := balances.Get("alice")
	bob, _ := balances.Get("bob")
	assert.Equal(t, "60.00", alice.Balance.String())
	assert.Equal(t, "-40.00", bob.Balance.String())

	expenses, err := repo.ListExpenses(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, balances, balance.CalculateGroupBalances(expenses))
}

func TestSQLiteRepository_SplitPayment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob")

	e := testExpense(g.ID, "alice", "40", map[string]string{"alice": "20", "bob": "20"}, "alice", "bob")
	require.NoError(t, repo.CreateExpense(ctx, e))

	paidAt := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	split := e.Splits[1]
	split.AmountPaid = core.MustParseMoney("20")
	split.IsPaid = true
	split.PaidAt = &paidAt
	require.NoError(t, repo.SaveSplitPayment(ctx, split))
	require.NoError(t, repo.SetExpenseSettled(ctx, e.ID, true))

	got, err := repo.GetExpense(ctx, g.ID, e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSettled())
	bob := got.SplitFor("bob")
	require.NotNil(t, bob)
	assert.True(t, bob.IsPaid)
	assert.Equal(t, "20.00", bob.AmountPaid.String())
	require.NotNil(t, bob.PaidAt)
	assert.True(t, bob.PaidAt.Equal(paidAt))
}

func TestSQLiteRepository_WithTxRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob")

	err := repo.WithTx(ctx, func(tx *SQLiteRepository) error {
		e := testExpense(g.ID, "alice", "10", map[string]string{"bob": "10"}, "bob")
		if err := tx.CreateExpense(ctx, e); err != nil {
			return err
		}
		return tx.DeleteExpense(ctx, g.ID, "missing")
	})
	require.ErrorIs(t, err, core.ErrExpenseNotFound)

	v, err := repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GroupVersion{}, v, "rollback also undoes the revision bump")

	require.NoError(t, repo.WithTx(ctx, func(tx *SQLiteRepository) error {
		return tx.CreateExpense(ctx, testExpense(g.ID, "alice", "10", map[string]string{"bob": "10"}, "bob"))
	}))
	v, err = repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GroupVersion{ExpenseCount: 1, Revision: 1}, v)
}

func TestSQLiteRepository_SettlementsSnapshotsActivity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob")

	s := core.Settlement{GroupID: g.ID, FromUserID: "bob", ToUserID: "alice", Amount: core.MustParseMoney("12.50"), Notes: "cash"}
	require.NoError(t, repo.CreateSettlement(ctx, &s, g.Currency))
	settlements, err := repo.ListSettlements(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, "12.50", settlements[0].Amount.String())
	assert.Equal(t, "cash", settlements[0].Notes)

	_, found, err := repo.GetDebtSnapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, found)

	at := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	debts := []core.SimplifiedDebt{
		{From: "bob", To: "alice", Amount: core.MustParseMoney("30")},
		{From: "carol", To: "alice", Amount: core.MustParseMoney("5.05")},
	}
	v4 := core.GroupVersion{ExpenseCount: 2, Revision: 4}
	v5 := core.GroupVersion{ExpenseCount: 2, Revision: 5}
	stored, err := repo.ReplaceDebtSnapshot(ctx, g.ID, debts, v4, at)
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = repo.ReplaceDebtSnapshot(ctx, g.ID, debts[:1], v5, at)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = repo.ReplaceDebtSnapshot(ctx, g.ID, debts, v4, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, stored, "an older revision never replaces a newer snapshot")

	view, found, err := repo.GetDebtSnapshot(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v5, view.Version)
	assert.Equal(t, debts[:1], view.Debts)
	assert.True(t, view.ComputedAt.Equal(at))

	_, err = repo.ReplaceDebtSnapshot(ctx, g.ID, nil, core.GroupVersion{Revision: 6}, at)
	require.NoError(t, err)
	view, found, err = repo.GetDebtSnapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, found, "a settled group still has a snapshot")
	assert.Empty(t, view.Debts)

	require.NoError(t, repo.LogActivity(ctx, core.Activity{GroupID: g.ID, UserID: "alice", Action: core.ActionExpenseCreated, EntityID: "e1"}))
	require.NoError(t, repo.LogActivity(ctx, core.Activity{GroupID: g.ID, UserID: "bob", Action: core.ActionSettlementAdded, EntityID: s.ID}))
	activity, err := repo.ListActivity(ctx, g.ID, 10)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, core.ActionSettlementAdded, activity[0].Action, "newest first")
}

func TestSQLiteRepository_GroupVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	g := newTestGroup(t, repo, "bob")

	v, err := repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GroupVersion{}, v)

	e := testExpense(g.ID, "alice", "10", map[string]string{"bob": "10"}, "bob")
	require.NoError(t, repo.CreateExpense(ctx, e))
	v, err = repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GroupVersion{ExpenseCount: 1, Revision: 1}, v)

	// An edit keeps the count but still moves the revision.
	e.Description = "Lunch"
	require.NoError(t, repo.ReplaceExpense(ctx, e))
	v, err = repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GroupVersion{ExpenseCount: 1, Revision: 2}, v)

	split := e.Splits[0]
	split.AmountPaid = core.MustParseMoney("5")
	require.NoError(t, repo.SaveSplitPayment(ctx, split))
	v, err = repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Revision, "split payments do not move balances")

	s := core.Settlement{GroupID: g.ID, FromUserID: "bob", ToUserID: "alice", Amount: core.MustParseMoney("1")}
	require.NoError(t, repo.CreateSettlement(ctx, &s, g.Currency))
	require.NoError(t, repo.DeleteExpense(ctx, g.ID, e.ID))
	v, err = repo.GroupVersion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GroupVersion{ExpenseCount: 0, Revision: 4}, v)

	_, err = repo.GroupVersion(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrGroupNotFound)
}
