// Package core provides money handling and the domain records shared by the
// splitting, balance and settlement packages.
//
// Amounts are kept as integer cents. Decimal values coming from the outside
// (database decimal columns, CLI flags, JSON) are coerced through
// shopspring/decimal with half-up rounding before any arithmetic happens.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tolerance is the reconciliation tolerance for every monetary invariant (0.01).
var Tolerance = Money{Cents: 1}

var hundred = decimal.NewFromInt(100)

// Money is an amount in minor units of a single implied currency.
type Money struct {
	Cents int64
}

// Cents builds a Money from minor units.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseAmount converts user input into a strictly positive Money.
//
// Both dot (12.34) and comma (12,34) separators are accepted. The value is
// rounded half-up to the cent, so "12.345" becomes 12.35. Signs, zero and
// anything that is not a plain decimal are rejected with ErrInvalidAmount.
func ParseAmount(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.ContainsAny(s[:1], "+-") || strings.ContainsAny(s, "eE") {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}, err
	}
	if m.Cents <= 0 {
		return Money{}, fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, s)
	}
	return m, nil
}

// ParseMoney coerces an arbitrary-precision decimal string (signed, any scale)
// into Money, rounding half away from zero to the cent. Unlike
// ParseAmount it accepts zero and negative values, since it is used to
// read stored balances and paid amounts.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d), nil
}

// MustParseMoney is ParseMoney for constants and tests. It panics on bad input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal rounds a decimal currency amount to the cent.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Mul(hundred).Round(0).IntPart()}
}

// Decimal returns the amount as a 2-place decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with exactly two fractional digits ("-12.05").
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }

// Abs returns the magnitude of m.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if o.Cents > m.Cents {
		return o
	}
	return m
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o.Cents < m.Cents {
		return o
	}
	return m
}

// Within reports whether |m - o| <= tol.
func (m Money) Within(o Money, tol Money) bool {
	return m.Sub(o).Abs().Cents <= tol.Cents
}

// Validate rejects zero and negative amounts.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Sum adds up a list of amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
