// Package loan tracks money lent between two people and the adjustments
// made to it over time. A loan can be drafted from a simplified group debt.
package loan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"conti/internal/core"
)

var ErrUnknownAdjustment = errors.New("unknown loan adjustment")

type Status string

const (
	StatusActive Status = "active"
	StatusPaid   Status = "paid"
	StatusWaived Status = "waived"
)

type AdjustmentType string

const (
	AdjustPayment  AdjustmentType = "payment"
	AdjustIncrease AdjustmentType = "increase"
	AdjustDecrease AdjustmentType = "decrease"
	AdjustWaive    AdjustmentType = "waive"
)

func ParseAdjustmentType(s string) (AdjustmentType, error) {
	t := AdjustmentType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case AdjustPayment, AdjustIncrease, AdjustDecrease, AdjustWaive:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAdjustment, s)
}

type Loan struct {
	GroupID         string
	LenderUserID    string
	BorrowerUserID  string
	Description     string
	Amount          core.Money
	AmountPaid      core.Money
	AmountRemaining core.Money
	Status          Status
	LastPaymentDate *time.Time
}

type Adjustment struct {
	Type   AdjustmentType
	Amount core.Money
	Date   time.Time // payments only, defaults to now
}

// CalculateAdjustment returns the loan after applying adj. The input is not
// modified. Payments may not exceed the remaining amount; once nothing
// remains the loan is paid. Waiving clears the remainder regardless of amount.
func CalculateAdjustment(l Loan, adj Adjustment) (Loan, error) {
	if adj.Type != AdjustWaive && !adj.Amount.IsPositive() {
		return l, fmt.Errorf("%w: adjustment must be at least 0.01", core.ErrInvalidAmount)
	}

	out := l
	out.Status = StatusActive
	switch adj.Type {
	case AdjustPayment:
		if adj.Amount.Cents > l.AmountRemaining.Cents {
			return l, fmt.Errorf("%w: payment %s exceeds remaining %s", core.ErrOverpayment, adj.Amount, l.AmountRemaining)
		}
		out.AmountPaid = l.AmountPaid.Add(adj.Amount)
		out.AmountRemaining = l.AmountRemaining.Sub(adj.Amount)
		date := adj.Date
		if date.IsZero() {
			date = time.Now()
		}
		out.LastPaymentDate = &date
	case AdjustIncrease:
		out.Amount = l.Amount.Add(adj.Amount)
		out.AmountRemaining = l.AmountRemaining.Add(adj.Amount)
	case AdjustDecrease:
		out.AmountRemaining = l.AmountRemaining.Sub(adj.Amount)
	case AdjustWaive:
		out.AmountRemaining = core.Money{}
		out.Status = StatusWaived
		return out, nil
	default:
		return l, fmt.Errorf("%w: %q", ErrUnknownAdjustment, string(adj.Type))
	}

	if !out.AmountRemaining.IsPositive() {
		out.AmountRemaining = core.Money{}
		out.Status = StatusPaid
	}
	return out, nil
}

// FromDebt drafts an active loan in which the creditor of debt lends to the
// debtor.
func FromDebt(groupID string, debt core.SimplifiedDebt, description string) (Loan, error) {
	if debt.From == "" || debt.To == "" || debt.From == debt.To {
		return Loan{}, fmt.Errorf("%w: debt needs two distinct users", core.ErrInvalidParticipant)
	}
	if err := debt.Amount.Validate(); err != nil {
		return Loan{}, err
	}
	if description == "" {
		description = "Group balance"
	}
	return Loan{
		GroupID:         groupID,
		LenderUserID:    debt.To,
		BorrowerUserID:  debt.From,
		Description:     description,
		Amount:          debt.Amount,
		AmountRemaining: debt.Amount,
		Status:          StatusActive,
	}, nil
}
