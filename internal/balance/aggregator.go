// Package balance aggregates group expenses into per-member net balances.
package balance

import (
	"fmt"

	"conti/internal/core"
)

// ExpenseRow is an expense as read from a decimal column store, with amounts
// still in their textual decimal form.
type ExpenseRow struct {
	ID           string
	Amount       string
	PaidByUserID string
	Splits       []SplitRow
}

type SplitRow struct {
	UserID     string
	AmountOwed string
}

// CalculateGroupBalances folds expenses into member balances. The payer of an
// expense is credited with its amount and every split user is debited with
// their share. Users appear in the result in the order they were first seen.
func CalculateGroupBalances(expenses []core.Expense) *core.Balances {
	balances := core.NewBalances()
	for _, e := range expenses {
		if e.PaidByUserID != "" {
			payer := balances.Entry(e.PaidByUserID)
			payer.TotalPaid = payer.TotalPaid.Add(e.Amount)
		}
		for _, s := range e.Splits {
			if s.UserID == "" {
				continue
			}
			member := balances.Entry(s.UserID)
			member.TotalOwed = member.TotalOwed.Add(s.AmountOwed)
		}
	}
	recompute(balances)
	return balances
}

// CalculateGroupBalancesFromRows coerces decimal strings before aggregating.
// An amount that does not parse fails the whole computation.
func CalculateGroupBalancesFromRows(rows []ExpenseRow) (*core.Balances, error) {
	expenses, err := CoerceRows(rows)
	if err != nil {
		return nil, err
	}
	return CalculateGroupBalances(expenses), nil
}

// CoerceRows converts decimal string rows into typed expenses.
func CoerceRows(rows []ExpenseRow) ([]core.Expense, error) {
	expenses := make([]core.Expense, 0, len(rows))
	for _, r := range rows {
		amount, err := core.ParseMoney(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("expense %s amount: %w", r.ID, err)
		}
		e := core.Expense{ID: r.ID, Amount: amount, PaidByUserID: r.PaidByUserID}
		for _, sr := range r.Splits {
			owed, err := core.ParseMoney(sr.AmountOwed)
			if err != nil {
				return nil, fmt.Errorf("expense %s split %s: %w", r.ID, sr.UserID, err)
			}
			e.Splits = append(e.Splits, core.Split{UserID: sr.UserID, AmountOwed: owed})
		}
		expenses = append(expenses, e)
	}
	return expenses, nil
}

// ApplySettlements folds direct payments into a copy of balances. The sender
// is credited as if they had paid, the receiver as if they owed.
func ApplySettlements(balances *core.Balances, settlements []core.Settlement) *core.Balances {
	out := balances.Clone()
	for _, s := range settlements {
		from := out.Entry(s.FromUserID)
		from.TotalPaid = from.TotalPaid.Add(s.Amount)
		to := out.Entry(s.ToUserID)
		to.TotalOwed = to.TotalOwed.Add(s.Amount)
	}
	recompute(out)
	return out
}

// UserBalance returns the net balance of userID, zero if unknown.
func UserBalance(balances *core.Balances, userID string) core.Money {
	mb, _ := balances.Get(userID)
	return mb.Balance
}

// Statistics summarizes the group's expenses for userID.
func Statistics(expenses []core.Expense, balances *core.Balances, userID string) core.GroupStatistics {
	stats := core.GroupStatistics{TotalExpenses: len(expenses)}
	for _, e := range expenses {
		stats.TotalSpending = stats.TotalSpending.Add(e.Amount)
		if e.PaidByUserID == userID {
			stats.YourSpending = stats.YourSpending.Add(e.Amount)
		}
		if s := e.SplitFor(userID); s != nil {
			stats.YourShare = stats.YourShare.Add(s.AmountOwed)
		}
		if e.IsSettled() {
			stats.SettledExpenses++
		}
	}
	if len(expenses) > 0 {
		stats.AverageExpense = core.Cents(stats.TotalSpending.Cents / int64(len(expenses)))
	}
	stats.OutstandingBalance = UserBalance(balances, userID)
	return stats
}

func recompute(b *core.Balances) {
	for _, id := range b.Users() {
		mb := b.Entry(id)
		mb.Balance = mb.TotalPaid.Sub(mb.TotalOwed)
	}
}
