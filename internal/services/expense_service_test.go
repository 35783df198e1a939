package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/settlement"
	"conti/internal/storage"
)

type fixture struct {
	repo     *storage.SQLiteRepository
	balances *BalanceService
	svc      *GroupExpenseService
	group    core.Group
}

func m(s string) core.Money { return core.MustParseMoney(s) }

func equalParticipants(ids ...string) []core.Participant {
	out := make([]core.Participant, len(ids))
	for i, id := range ids {
		out[i] = core.Participant{UserID: id}
	}
	return out
}

// newFixture builds a group administered by alice with bob and carol as
// members, backed by a real SQLite file and an in-memory balance cache.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCache(t, cache.NewMemoryBalanceCache(10, time.Minute))
}

func newFixtureWithCache(t *testing.T, balanceCache cache.BalanceCache) *fixture {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "conti.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	balances := NewBalanceService(repo, balanceCache, nil)
	svc := NewGroupExpenseService(repo, balances, nil, nil)

	ctx := context.Background()
	g, err := svc.CreateGroup(ctx, CreateGroupInput{Name: "Goa trip", CreatedBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, g.ID, "alice", "bob", ""))
	require.NoError(t, svc.AddMember(ctx, g.ID, "alice", "carol", core.RoleMember))

	return &fixture{repo: repo, balances: balances, svc: svc, group: g}
}

func (f *fixture) dinner(t *testing.T, amount string) *core.Expense {
	t.Helper()
	e, err := f.svc.CreateExpense(context.Background(), CreateExpenseInput{
		GroupID:      f.group.ID,
		Description:  "Dinner",
		Amount:       m(amount),
		PaidByUserID: "alice",
		SplitType:    core.SplitEqual,
		Participants: equalParticipants("alice", "bob", "carol"),
		CreatedBy:    "alice",
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) balanceOf(t *testing.T, userID string) string {
	t.Helper()
	b, _, err := f.balances.GetUserBalance(context.Background(), f.group.ID, userID)
	require.NoError(t, err)
	return b.String()
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, DefaultCurrency, f.group.Currency)

	members, err := f.svc.ListMembers(ctx, f.group.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, core.RoleAdmin, members[0].Role)

	_, err = f.svc.CreateGroup(ctx, CreateGroupInput{Name: "  ", CreatedBy: "alice"})
	assert.ErrorIs(t, err, core.ErrInvalidDescription)

	err = f.svc.AddMember(ctx, f.group.ID, "bob", "dave", core.RoleMember)
	assert.ErrorIs(t, err, core.ErrNotPermitted)
}

func TestCreateExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.dinner(t, "100")
	require.Len(t, e.Splits, 3)
	assert.Equal(t, "33.34", e.SplitFor("alice").AmountOwed.String())
	assert.Equal(t, "33.33", e.SplitFor("bob").AmountOwed.String())
	assert.Equal(t, DefaultCurrency, e.Currency)

	stored, err := f.svc.GetExpense(ctx, f.group.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.SplitAmounts(), stored.SplitAmounts())

	assert.Equal(t, "66.66", f.balanceOf(t, "alice"))
	assert.Equal(t, "-33.33", f.balanceOf(t, "bob"))

	activity, err := f.svc.ListActivity(ctx, f.group.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, core.ActionExpenseCreated, activity[0].Action)
	assert.Equal(t, e.ID, activity[0].EntityID)
}

func TestCreateExpense_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := CreateExpenseInput{
		GroupID:      f.group.ID,
		Description:  "Taxi",
		Amount:       m("100"),
		PaidByUserID: "alice",
		SplitType:    core.SplitEqual,
		Participants: equalParticipants("alice", "bob"),
		CreatedBy:    "alice",
	}

	outsider := base
	outsider.Participants = equalParticipants("alice", "mallory")
	_, err := f.svc.CreateExpense(ctx, outsider)
	assert.ErrorIs(t, err, core.ErrNotGroupMember)

	notMember := base
	notMember.CreatedBy = "mallory"
	_, err = f.svc.CreateExpense(ctx, notMember)
	assert.ErrorIs(t, err, core.ErrNotGroupMember)

	sixty, thirtyNine := decimal.NewFromInt(60), decimal.NewFromInt(39)
	exact := base
	exact.SplitType = core.SplitExact
	exact.Participants = []core.Participant{{UserID: "alice", Amount: &sixty}, {UserID: "bob", Amount: &thirtyNine}}
	_, err = f.svc.CreateExpense(ctx, exact)
	require.ErrorIs(t, err, core.ErrSumMismatch)
	assert.Contains(t, err.Error(), "under by 1.00")

	dup := base
	dup.Participants = equalParticipants("bob", "bob")
	_, err = f.svc.CreateExpense(ctx, dup)
	assert.ErrorIs(t, err, core.ErrDuplicateParticipant)

	blank := base
	blank.Description = " "
	_, err = f.svc.CreateExpense(ctx, blank)
	assert.ErrorIs(t, err, core.ErrInvalidDescription)

	_, err = f.svc.CreateExpense(ctx, CreateExpenseInput{GroupID: "nope", CreatedBy: "alice"})
	assert.ErrorIs(t, err, core.ErrGroupNotFound)

	expenses, err := f.svc.ListExpenses(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Empty(t, expenses)
}

func TestUpdateExpense_InvalidatesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.dinner(t, "100")
	assert.Equal(t, "-33.33", f.balanceOf(t, "bob"), "warms the cache")

	ninety := m("90")
	updated, err := f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Amount: &ninety})
	require.NoError(t, err)
	assert.Equal(t, "30.00", updated.SplitFor("bob").AmountOwed.String())

	// The expense count did not change; the revision did.
	assert.Equal(t, "-30.00", f.balanceOf(t, "bob"))
	assert.Equal(t, "60.00", f.balanceOf(t, "alice"))

	desc := "Dinner at the shack"
	updated, err = f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Len(t, updated.Splits, 3)
}

func TestUpdateExpense_ReusesSplitsAsExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.dinner(t, "90")
	exact := core.SplitExact
	updated, err := f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{SplitType: &exact})
	require.NoError(t, err)
	assert.Equal(t, core.SplitExact, updated.SplitType)
	assert.Equal(t, e.SplitAmounts(), updated.SplitAmounts())

	hundred := m("100")
	_, err = f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Amount: &hundred})
	assert.ErrorIs(t, err, core.ErrSumMismatch, "old exact amounts no longer cover the new total")
}

func TestUpdateAndDelete_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.dinner(t, "90")
	desc := "mine now"

	_, err := f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "carol", UpdateExpenseInput{Description: &desc})
	assert.ErrorIs(t, err, core.ErrNotPermitted)
	assert.ErrorIs(t, f.svc.DeleteExpense(ctx, f.group.ID, e.ID, "bob"), core.ErrNotPermitted)
	_, err = f.svc.UpdateExpense(ctx, f.group.ID, "missing", "alice", UpdateExpenseInput{Description: &desc})
	assert.ErrorIs(t, err, core.ErrExpenseNotFound)

	_, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, "bob", settlement.Payment{UserID: "bob", Amount: m("10")})
	require.NoError(t, err)
	_, err = f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Description: &desc})
	assert.ErrorIs(t, err, core.ErrPartialPayments)
	assert.ErrorIs(t, f.svc.DeleteExpense(ctx, f.group.ID, e.ID, "alice"), core.ErrPartialPayments)
	kept, err := f.svc.GetExpense(ctx, f.group.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", kept.SplitFor("bob").AmountPaid.String())

	for _, u := range []string{"alice", "carol"} {
		_, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, u, settlement.Payment{UserID: u, Amount: m("30")})
		require.NoError(t, err)
	}
	_, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, "bob", settlement.Payment{UserID: "bob", Amount: m("20")})
	require.NoError(t, err)

	_, err = f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Description: &desc})
	assert.ErrorIs(t, err, core.ErrExpenseSettled)
	assert.ErrorIs(t, f.svc.DeleteExpense(ctx, f.group.ID, e.ID, "alice"), core.ErrExpenseSettled)
}

func TestDeleteExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.dinner(t, "90")
	assert.Equal(t, "-30.00", f.balanceOf(t, "bob"))

	// Admin may delete an expense someone else paid for.
	require.NoError(t, f.svc.DeleteExpense(ctx, f.group.ID, e.ID, "alice"))
	assert.Equal(t, "0.00", f.balanceOf(t, "bob"))
	assert.ErrorIs(t, f.svc.DeleteExpense(ctx, f.group.ID, e.ID, "alice"), core.ErrExpenseNotFound)
}

func TestSettleExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.dinner(t, "90")

	_, err := f.svc.SettleExpense(ctx, f.group.ID, e.ID, "bob", settlement.Payment{UserID: "bob", Amount: m("30.01")})
	require.ErrorIs(t, err, core.ErrOverpayment)

	res, err := f.svc.SettleExpense(ctx, f.group.ID, e.ID, "bob", settlement.Payment{UserID: "bob", Amount: m("30")})
	require.NoError(t, err)
	assert.True(t, res.IsFullyPaid)
	assert.False(t, res.ExpenseSettled)

	_, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, "bob", settlement.Payment{UserID: "dave", Amount: m("1")})
	assert.ErrorIs(t, err, core.ErrSplitNotFound)
	_, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, "mallory", settlement.Payment{UserID: "bob", Amount: m("1")})
	assert.ErrorIs(t, err, core.ErrNotGroupMember)

	_, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, "alice", settlement.Payment{UserID: "alice", Amount: m("30")})
	require.NoError(t, err)
	res, err = f.svc.SettleExpense(ctx, f.group.ID, e.ID, "carol", settlement.Payment{UserID: "carol", Amount: m("29.99")})
	require.NoError(t, err)
	assert.True(t, res.ExpenseSettled, "within a cent counts as paid")

	stored, err := f.svc.GetExpense(ctx, f.group.ID, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSettled())
	assert.Equal(t, "29.99", stored.SplitFor("carol").AmountPaid.String())
	assert.NotNil(t, stored.SplitFor("carol").PaidAt)
}

func TestRecordSettlementAndLeaveGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dinner(t, "90")

	err := f.svc.LeaveGroup(ctx, f.group.ID, "bob")
	require.ErrorIs(t, err, core.ErrOutstandingDebt)
	assert.Contains(t, err.Error(), "you owe ₹30.00")

	_, err = f.svc.RecordSettlement(ctx, "bob", RecordSettlementInput{GroupID: f.group.ID, FromUserID: "bob", ToUserID: "bob", Amount: m("30")})
	assert.ErrorIs(t, err, core.ErrInvalidParticipant)
	_, err = f.svc.RecordSettlement(ctx, "bob", RecordSettlementInput{GroupID: f.group.ID, FromUserID: "bob", ToUserID: "mallory", Amount: m("30")})
	assert.ErrorIs(t, err, core.ErrNotGroupMember)

	s, err := f.svc.RecordSettlement(ctx, "bob", RecordSettlementInput{GroupID: f.group.ID, FromUserID: "bob", ToUserID: "alice", Amount: m("29.99"), Notes: "upi"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "-0.01", f.balanceOf(t, "bob"))
	assert.Equal(t, "30.01", f.balanceOf(t, "alice"))

	settlements, err := f.svc.ListSettlements(ctx, f.group.ID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)

	require.NoError(t, f.svc.LeaveGroup(ctx, f.group.ID, "bob"), "a cent of dust does not block leaving")
	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, f.group.ID, "bob"), core.ErrNotGroupMember)
	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, f.group.ID, "alice"), core.ErrLastAdmin)
}

func TestBalanceService_DebtsAndStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dinner(t, "90")

	debts, err := f.balances.GetSimplifiedDebts(ctx, f.group.ID)
	require.NoError(t, err)
	require.Len(t, debts, 2)
	assert.Equal(t, core.SimplifiedDebt{From: "bob", To: "alice", Amount: m("30")}, debts[0])
	assert.Equal(t, core.SimplifiedDebt{From: "carol", To: "alice", Amount: m("30")}, debts[1])

	owes, owed, err := f.balances.GetDebtsFor(ctx, f.group.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, owes)
	assert.Len(t, owed, 2)

	stats, err := f.balances.GetStatistics(ctx, f.group.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalExpenses)
	assert.Equal(t, "90.00", stats.TotalSpending.String())
	assert.True(t, stats.YourSpending.IsZero())
	assert.Equal(t, "30.00", stats.YourShare.String())
	assert.Equal(t, "-30.00", stats.OutstandingBalance.String())

	_, formatted, err := f.balances.GetUserBalance(ctx, f.group.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "owes ₹30.00", formatted.Text)

	views, err := f.balances.GetExpenseBalances(ctx, f.group.ID, "alice")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "you lent ₹60.00", views[0].DisplayText)
}

// writeBeforeSetCache runs beforeSet once, between a balance computation and
// the cache write that stores it.
type writeBeforeSetCache struct {
	cache.BalanceCache
	once      sync.Once
	beforeSet func()
}

func (c *writeBeforeSetCache) Set(ctx context.Context, groupID string, version core.GroupVersion, balances *core.Balances) {
	if c.beforeSet != nil {
		c.once.Do(c.beforeSet)
	}
	c.BalanceCache.Set(ctx, groupID, version, balances)
}

func TestBalanceService_WriteDuringComputeIsNotCached(t *testing.T) {
	ctx := context.Background()
	racing := &writeBeforeSetCache{BalanceCache: cache.NewMemoryBalanceCache(10, time.Minute)}
	f := newFixtureWithCache(t, racing)
	e := f.dinner(t, "100")

	ninety := m("90")
	racing.beforeSet = func() {
		_, err := f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Amount: &ninety})
		require.NoError(t, err)
	}

	// Computed before the edit committed, then stored after its invalidation.
	assert.Equal(t, "-33.33", f.balanceOf(t, "bob"))
	assert.Equal(t, "-30.00", f.balanceOf(t, "bob"), "the late write must not be served")
	assert.Equal(t, "60.00", f.balanceOf(t, "alice"))
}

func TestBalanceService_ServesCurrentSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.dinner(t, "90")

	version, err := f.repo.GroupVersion(ctx, f.group.ID)
	require.NoError(t, err)
	stored := []core.SimplifiedDebt{{From: "carol", To: "alice", Amount: m("60")}}
	require.NoError(t, f.repo.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		_, err := tx.ReplaceDebtSnapshot(ctx, f.group.ID, stored, version, time.Now())
		return err
	}))

	debts, err := f.balances.GetSimplifiedDebts(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, debts, "a snapshot at the current revision is served")

	computed, err := f.balances.ComputeSimplifiedDebts(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Len(t, computed, 2)

	sixty := m("60")
	_, err = f.svc.UpdateExpense(ctx, f.group.ID, e.ID, "alice", UpdateExpenseInput{Amount: &sixty})
	require.NoError(t, err)

	debts, err = f.balances.GetSimplifiedDebts(ctx, f.group.ID)
	require.NoError(t, err)
	require.Len(t, debts, 2, "an edit makes the snapshot stale")
	assert.Equal(t, core.SimplifiedDebt{From: "bob", To: "alice", Amount: m("20")}, debts[0])
	assert.Equal(t, core.SimplifiedDebt{From: "carol", To: "alice", Amount: m("20")}, debts[1])
}

func TestBalanceService_ConcurrentReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dinner(t, "100")

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.balances.GetGroupBalances(ctx, f.group.ID)
			if err != nil {
				results[i] = err.Error()
				return
			}
			mb, _ := b.Get("alice")
			results[i] = mb.Balance.String()
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "66.66", r)
	}
}

func TestGroupExpenseService_Close(t *testing.T) {
	svc := &GroupExpenseService{}
	assert.NoError(t, svc.Close())
}
