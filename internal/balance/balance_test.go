package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
)

func m(s string) core.Money { return core.MustParseMoney(s) }

func expense(payer, amount string, splits ...string) core.Expense {
	e := core.Expense{Amount: m(amount), PaidByUserID: payer, Currency: "INR"}
	for i := 0; i < len(splits); i += 2 {
		e.Splits = append(e.Splits, core.Split{UserID: splits[i], AmountOwed: m(splits[i+1])})
	}
	return e
}

func TestCalculateGroupBalances(t *testing.T) {
	expenses := []core.Expense{
		expense("a", "90", "a", "30", "b", "30", "c", "30"),
		expense("b", "60", "a", "20", "b", "20", "c", "20"),
		expense("", "10", "c", "10"),
		expense("c", "5", "", "5"),
	}

	b := CalculateGroupBalances(expenses)

	assert.Equal(t, []string{"a", "b", "c"}, b.Users())

	a, ok := b.Get("a")
	require.True(t, ok)
	assert.Equal(t, "90.00", a.TotalPaid.String())
	assert.Equal(t, "50.00", a.TotalOwed.String())
	assert.Equal(t, "40.00", a.Balance.String())

	assert.Equal(t, "10.00", UserBalance(b, "b").String())
	assert.Equal(t, "-55.00", UserBalance(b, "c").String())
	assert.True(t, UserBalance(b, "nobody").IsZero())

	// Splits with an empty user are skipped but the payer is still credited.
	c, _ := b.Get("c")
	assert.Equal(t, "5.00", c.TotalPaid.String())
}

func TestCalculateGroupBalancesFromRows(t *testing.T) {
	rows := []ExpenseRow{
		{ID: "e1", Amount: "100.00", PaidByUserID: "a", Splits: []SplitRow{
			{UserID: "a", AmountOwed: "33.34"},
			{UserID: "b", AmountOwed: "33.330"},
			{UserID: "c", AmountOwed: "33.33"},
		}},
	}
	b, err := CalculateGroupBalancesFromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, "66.66", UserBalance(b, "a").String())
	assert.Equal(t, "-33.33", UserBalance(b, "b").String())

	rows[0].Splits[1].AmountOwed = "thirty"
	_, err = CalculateGroupBalancesFromRows(rows)
	require.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Contains(t, err.Error(), "e1")

	rows[0].Splits[1].AmountOwed = "33.33"
	rows[0].Amount = ""
	_, err = CalculateGroupBalancesFromRows(rows)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestApplySettlements(t *testing.T) {
	b := CalculateGroupBalances([]core.Expense{expense("a", "100", "a", "50", "b", "50")})
	after := ApplySettlements(b, []core.Settlement{{FromUserID: "b", ToUserID: "a", Amount: m("30")}})

	assert.Equal(t, "20.00", UserBalance(after, "a").String())
	assert.Equal(t, "-20.00", UserBalance(after, "b").String())
	// original is untouched
	assert.Equal(t, "50.00", UserBalance(b, "a").String())

	after = ApplySettlements(after, []core.Settlement{{FromUserID: "d", ToUserID: "a", Amount: m("5")}})
	assert.Equal(t, []string{"a", "b", "d"}, after.Users())
	assert.Equal(t, "5.00", UserBalance(after, "d").String())
}

func TestCalculateUserExpenseBalance(t *testing.T) {
	e := expense("a", "90", "a", "30", "b", "30", "c", "30")

	got := CalculateUserExpenseBalance(e, "a")
	assert.Equal(t, "90.00", got.YouPaid.String())
	assert.Equal(t, "30.00", got.YourShare.String())
	assert.Equal(t, "60.00", got.YouLent.String())
	assert.True(t, got.YouBorrowed.IsZero())
	assert.Equal(t, "you lent ₹60.00", got.DisplayText)
	assert.Equal(t, ColorGreen, got.DisplayColor)

	got = CalculateUserExpenseBalance(e, "b")
	assert.True(t, got.YouLent.IsZero())
	assert.Equal(t, "you borrowed ₹30.00", got.DisplayText)
	assert.Equal(t, ColorRed, got.DisplayColor)

	got = CalculateUserExpenseBalance(e, "z")
	assert.Equal(t, "not involved", got.DisplayText)
	assert.Equal(t, ColorNeutral, got.DisplayColor)

	solo := expense("a", "10", "a", "10")
	got = CalculateUserExpenseBalance(solo, "a")
	assert.Equal(t, "settled", got.DisplayText)
}

func TestFormatBalance(t *testing.T) {
	tests := []struct {
		balance  string
		currency string
		want     FormattedBalance
	}{
		{"12.5", "INR", FormattedBalance{"gets back ₹12.50", ColorGreen}},
		{"-3", "USD", FormattedBalance{"owes $3.00", ColorRed}},
		{"0", "EUR", FormattedBalance{"settled up", ColorNeutral}},
		{"-0.01", "GBP", FormattedBalance{"owes €0.01", ColorRed}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBalance(m(tt.balance), tt.currency))
	}
}

func TestStatistics(t *testing.T) {
	expenses := []core.Expense{
		expense("a", "90", "a", "30", "b", "30", "c", "30"),
		expense("b", "60", "a", "20", "b", "20", "c", "20"),
	}
	expenses[1].Settled = true
	b := CalculateGroupBalances(expenses)

	s := Statistics(expenses, b, "a")
	assert.Equal(t, 2, s.TotalExpenses)
	assert.Equal(t, "150.00", s.TotalSpending.String())
	assert.Equal(t, "90.00", s.YourSpending.String())
	assert.Equal(t, "50.00", s.YourShare.String())
	assert.Equal(t, "75.00", s.AverageExpense.String())
	assert.Equal(t, 1, s.SettledExpenses)
	assert.Equal(t, "40.00", s.OutstandingBalance.String())

	empty := Statistics(nil, core.NewBalances(), "a")
	assert.Zero(t, empty.TotalExpenses)
	assert.True(t, empty.AverageExpense.IsZero())
}
