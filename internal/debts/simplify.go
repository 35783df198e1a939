// Package debts reduces a group's net balances to a short list of transfers.
package debts

import (
	"sort"

	"conti/internal/core"
)

type party struct {
	userID    string
	remaining int64
}

// SimplifyDebts pairs the largest debtor with the largest creditor, settles
// the smaller of the two amounts and moves on, until one side runs out.
//
// Balances within one cent of zero are ignored and transfers of one cent or
// less are not emitted. Ties keep the order users appear in balances.
func SimplifyDebts(balances *core.Balances) []core.SimplifiedDebt {
	var debtors, creditors []party
	for _, mb := range balances.All() {
		switch {
		case mb.Balance.Cents < -core.Tolerance.Cents:
			debtors = append(debtors, party{mb.UserID, -mb.Balance.Cents})
		case mb.Balance.Cents > core.Tolerance.Cents:
			creditors = append(creditors, party{mb.UserID, mb.Balance.Cents})
		}
	}
	byRemainingDesc := func(ps []party) func(i, j int) bool {
		return func(i, j int) bool { return ps[i].remaining > ps[j].remaining }
	}
	sort.SliceStable(debtors, byRemainingDesc(debtors))
	sort.SliceStable(creditors, byRemainingDesc(creditors))

	var out []core.SimplifiedDebt
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		amount := min(d.remaining, c.remaining)
		if amount > core.Tolerance.Cents {
			out = append(out, core.SimplifiedDebt{From: d.userID, To: c.userID, Amount: core.Cents(amount)})
		}
		d.remaining -= amount
		c.remaining -= amount
		if d.remaining < core.Tolerance.Cents {
			i++
		}
		if c.remaining < core.Tolerance.Cents {
			j++
		}
	}
	return out
}

// ValidateSimplifiedDebts checks that the transfers move exactly the total
// credit in the group, within one cent.
func ValidateSimplifiedDebts(balances *core.Balances, debts []core.SimplifiedDebt) bool {
	var credits, moved core.Money
	for _, mb := range balances.All() {
		if mb.Balance.IsPositive() {
			credits = credits.Add(mb.Balance)
		}
	}
	for _, d := range debts {
		moved = moved.Add(d.Amount)
	}
	return credits.Within(moved, core.Tolerance)
}

// NetTransfers returns, per user, outgoing minus incoming transfer amounts.
// For a debtor this approximates the negated balance.
func NetTransfers(debts []core.SimplifiedDebt) map[string]core.Money {
	net := make(map[string]core.Money)
	for _, d := range debts {
		net[d.From] = net[d.From].Add(d.Amount)
		net[d.To] = net[d.To].Sub(d.Amount)
	}
	return net
}

// DebtsFor filters debts involving userID, either as payer or receiver.
func DebtsFor(debts []core.SimplifiedDebt, userID string) (owes, owed []core.SimplifiedDebt) {
	for _, d := range debts {
		switch userID {
		case d.From:
			owes = append(owes, d)
		case d.To:
			owed = append(owed, d)
		}
	}
	return owes, owed
}
