// Package settlement applies payments against expense splits and guards
// expenses whose obligations have started to be paid.
package settlement

import (
	"fmt"
	"time"

	"conti/internal/core"
)

// Payment is money handed over by UserID towards their split of an expense.
type Payment struct {
	UserID          string
	Amount          core.Money
	MarkAsFullyPaid bool
	PaidAt          time.Time // defaults to now
}

type Result struct {
	Success       bool
	AmountPaid    core.Money
	RemainingOwed core.Money
	IsFullyPaid   bool
	// ExpenseSettled is true when this payment completed the last open split.
	ExpenseSettled bool
}

// SettleExpense records payment on the payer's split of expense, mutating it
// in place. A payment larger than what is still owed is rejected and leaves
// the expense untouched.
func SettleExpense(expense *core.Expense, payment Payment) (Result, error) {
	split := expense.SplitFor(payment.UserID)
	if split == nil {
		return Result{}, fmt.Errorf("%w: user %s on expense %s", core.ErrSplitNotFound, payment.UserID, expense.ID)
	}
	if !payment.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: payment must be greater than zero, got %s", core.ErrInvalidAmount, payment.Amount)
	}

	// A full cent above the remaining amount is already an overpayment.
	remaining := split.Remaining()
	if payment.Amount.Cents >= remaining.Add(core.Tolerance).Cents {
		return Result{}, fmt.Errorf("%w: remaining owed %s, payment %s", core.ErrOverpayment, remaining, payment.Amount)
	}

	paidAt := payment.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	newPaid := split.AmountPaid.Add(payment.Amount)
	covered := newPaid.Cents >= split.AmountOwed.Sub(core.Tolerance).Cents
	split.AmountPaid = newPaid
	split.IsPaid = covered || payment.MarkAsFullyPaid
	if split.IsPaid {
		split.PaidAt = &paidAt
	}

	wasSettled := expense.Settled
	if expense.AllSplitsPaid() {
		expense.Settled = true
	}

	return Result{
		Success:        true,
		AmountPaid:     payment.Amount,
		RemainingOwed:  remaining.Sub(payment.Amount).Max(core.Money{}),
		IsFullyPaid:    split.IsPaid,
		ExpenseSettled: expense.Settled && !wasSettled,
	}, nil
}

// CanEdit refuses edits once the expense is settled or has received any
// payment.
func CanEdit(expense *core.Expense) error {
	if expense.IsSettled() {
		return fmt.Errorf("%w: cannot edit expense %s", core.ErrExpenseSettled, expense.ID)
	}
	if expense.HasPartialPayments() {
		return fmt.Errorf("%w: cannot edit expense %s", core.ErrPartialPayments, expense.ID)
	}
	return nil
}

// CanDelete applies the same rules as CanEdit; recorded split payments
// would otherwise be lost with the expense.
func CanDelete(expense *core.Expense) error {
	if expense.IsSettled() {
		return fmt.Errorf("%w: cannot delete expense %s", core.ErrExpenseSettled, expense.ID)
	}
	if expense.HasPartialPayments() {
		return fmt.Errorf("%w: cannot delete expense %s", core.ErrPartialPayments, expense.ID)
	}
	return nil
}
