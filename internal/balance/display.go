package balance

import (
	"conti/internal/core"
)

type Color string

const (
	ColorGreen   Color = "green"
	ColorRed     Color = "red"
	ColorNeutral Color = "neutral"
)

// UserExpenseBalance is one user's position on a single expense.
type UserExpenseBalance struct {
	YouPaid      core.Money
	YourShare    core.Money
	YouLent      core.Money
	YouBorrowed  core.Money
	DisplayText  string
	DisplayColor Color
}

// CalculateUserExpenseBalance computes what userID paid and owes on expense.
// At most one of YouLent and YouBorrowed is positive.
func CalculateUserExpenseBalance(expense core.Expense, userID string) UserExpenseBalance {
	var out UserExpenseBalance
	if expense.PaidByUserID == userID {
		out.YouPaid = expense.Amount
	}
	if s := expense.SplitFor(userID); s != nil {
		out.YourShare = s.AmountOwed
	}
	net := out.YouPaid.Sub(out.YourShare)
	out.YouLent = net.Max(core.Money{})
	out.YouBorrowed = net.Neg().Max(core.Money{})

	symbol := CurrencySymbol(expense.Currency)
	switch {
	case out.YouLent.IsPositive():
		out.DisplayText = "you lent " + symbol + out.YouLent.String()
		out.DisplayColor = ColorGreen
	case out.YouBorrowed.IsPositive():
		out.DisplayText = "you borrowed " + symbol + out.YouBorrowed.String()
		out.DisplayColor = ColorRed
	case out.YourShare.IsPositive():
		out.DisplayText = "settled"
		out.DisplayColor = ColorNeutral
	default:
		out.DisplayText = "not involved"
		out.DisplayColor = ColorNeutral
	}
	return out
}

type FormattedBalance struct {
	Text  string
	Color Color
}

// FormatBalance renders a net balance as "gets back", "owes" or "settled up".
func FormatBalance(balance core.Money, currency string) FormattedBalance {
	symbol := CurrencySymbol(currency)
	switch {
	case balance.IsPositive():
		return FormattedBalance{Text: "gets back " + symbol + balance.String(), Color: ColorGreen}
	case balance.IsNegative():
		return FormattedBalance{Text: "owes " + symbol + balance.Abs().String(), Color: ColorRed}
	default:
		return FormattedBalance{Text: "settled up", Color: ColorNeutral}
	}
}

// CurrencySymbol knows INR and USD; everything else is shown as euros.
func CurrencySymbol(currency string) string {
	switch currency {
	case "INR":
		return "₹"
	case "USD":
		return "$"
	default:
		return "€"
	}
}
