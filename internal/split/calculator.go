// Package split turns an expense total and a split strategy into
// per-participant obligations that add up to the total to the cent.
package split

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"conti/internal/core"
)

var (
	hundred          = decimal.NewFromInt(100)
	percentTolerance = decimal.RequireFromString("0.01")
)

// CalculateSplits divides total among participants according to splitType.
//
// Rounding leftovers are assigned to the payer when the payer participates.
// Otherwise equal splits give the leftover to the first participant,
// percentage splits to the highest percentage, and shares splits to the first
// participant with a non-zero weight.
func CalculateSplits(total core.Money, splitType core.SplitType, participants []core.Participant, payerID string) ([]core.CalculatedSplit, error) {
	if total.Cents <= 0 {
		return nil, fmt.Errorf("%w: total must be greater than zero, got %s", core.ErrInvalidAmount, total)
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", core.ErrEmptyParticipants)
	}

	switch splitType {
	case core.SplitEqual:
		return equalSplits(total, participants, payerID), nil
	case core.SplitExact:
		return exactSplits(total, participants)
	case core.SplitPercentage:
		return percentageSplits(total, participants, payerID)
	case core.SplitShares:
		return sharesSplits(total, participants, payerID)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownSplitType, string(splitType))
	}
}

func equalSplits(total core.Money, participants []core.Participant, payerID string) []core.CalculatedSplit {
	n := int64(len(participants))
	base := total.Cents / n
	remainder := total.Cents - base*n

	splits := make([]core.CalculatedSplit, len(participants))
	for i, p := range participants {
		splits[i] = core.CalculatedSplit{
			UserID:           p.UserID,
			AmountOwed:       core.Cents(base),
			CalculatedAmount: core.Cents(base),
		}
	}
	receiver := indexOf(participants, payerID)
	if receiver < 0 {
		receiver = 0
	}
	assignLeftover(splits, receiver, core.Cents(remainder))

	for i := range splits {
		splits[i].Percentage = percentOf(splits[i].AmountOwed, total)
	}
	return splits
}

func exactSplits(total core.Money, participants []core.Participant) ([]core.CalculatedSplit, error) {
	amounts := make([]decimal.Decimal, len(participants))
	var negatives []string
	for i, p := range participants {
		if p.Amount == nil {
			return nil, fmt.Errorf("%w: participant %s: amount is required for exact splits", core.ErrInvalidAmount, p.UserID)
		}
		amounts[i] = *p.Amount
		if p.Amount.IsNegative() {
			negatives = append(negatives, p.Amount.String())
		}
	}
	if len(negatives) > 0 {
		return nil, fmt.Errorf("%w: amounts cannot be negative: %s", core.ErrNegativeValue, strings.Join(negatives, ", "))
	}

	splits := make([]core.CalculatedSplit, len(participants))
	var sum core.Money
	allZero := true
	for i, p := range participants {
		owed := core.MoneyFromDecimal(amounts[i])
		if !owed.IsZero() {
			allZero = false
		}
		if owed.Cents > total.Cents {
			return nil, fmt.Errorf("%w: participant %s owes %s which exceeds the total %s", core.ErrInvalidAmount, p.UserID, owed, total)
		}
		sum = sum.Add(owed)
		splits[i] = core.CalculatedSplit{
			UserID:           p.UserID,
			AmountOwed:       owed,
			CalculatedAmount: owed,
			Percentage:       percentOf(owed, total),
		}
	}
	if allZero {
		return nil, fmt.Errorf("%w: at least one participant must owe a non-zero amount", core.ErrInvalidAmount)
	}
	if !sum.Within(total, core.Tolerance) {
		return nil, sumMismatch(total, sum)
	}
	return splits, nil
}

func percentageSplits(total core.Money, participants []core.Participant, payerID string) ([]core.CalculatedSplit, error) {
	var active []core.Participant
	var negatives []string
	for _, p := range participants {
		if p.Percentage == nil {
			return nil, fmt.Errorf("%w: participant %s: percentage is required for percentage splits", core.ErrInvalidAmount, p.UserID)
		}
		pct := *p.Percentage
		switch {
		case pct.IsNegative():
			negatives = append(negatives, pct.String())
			continue
		case pct.GreaterThan(hundred):
			return nil, fmt.Errorf("%w: participant %s has %s%%", core.ErrPercentageOutOfRange, p.UserID, pct)
		case pct.IsZero():
			continue
		}
		active = append(active, p)
	}
	if len(negatives) > 0 {
		return nil, fmt.Errorf("%w: percentages cannot be negative: %s", core.ErrNegativeValue, strings.Join(negatives, ", "))
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: every participant has 0%%", core.ErrEmptyParticipants)
	}

	sumPct := decimal.Zero
	for _, p := range active {
		sumPct = sumPct.Add(*p.Percentage)
	}
	if diff := sumPct.Sub(hundred); diff.Abs().GreaterThan(percentTolerance) {
		direction := "under"
		if diff.IsPositive() {
			direction = "over"
		}
		return nil, fmt.Errorf("%w: percentages %s 100%% by %s%%, current sum: %s%%",
			core.ErrSumMismatch, direction, diff.Abs().StringFixed(2), sumPct.StringFixed(2))
	}

	splits := make([]core.CalculatedSplit, len(active))
	var allocated core.Money
	for i, p := range active {
		amount := core.MoneyFromDecimal(total.Decimal().Mul(*p.Percentage).Div(hundred))
		allocated = allocated.Add(amount)
		splits[i] = core.CalculatedSplit{
			UserID:           p.UserID,
			AmountOwed:       amount,
			CalculatedAmount: amount,
			Percentage:       *p.Percentage,
		}
	}

	receiver := indexOf(active, payerID)
	if receiver < 0 {
		receiver = highestPercentage(active)
	}
	assignLeftover(splits, receiver, total.Sub(allocated))
	return splits, nil
}

func sharesSplits(total core.Money, participants []core.Participant, payerID string) ([]core.CalculatedSplit, error) {
	var active []core.Participant
	var negatives []string
	for _, p := range participants {
		if p.Shares == nil {
			return nil, fmt.Errorf("%w: participant %s: shares are required for shares splits", core.ErrInvalidAmount, p.UserID)
		}
		switch {
		case p.Shares.IsNegative():
			negatives = append(negatives, p.Shares.String())
		case p.Shares.IsPositive():
			active = append(active, p)
		}
	}
	if len(negatives) > 0 {
		return nil, fmt.Errorf("%w: shares cannot be negative: %s", core.ErrNegativeValue, strings.Join(negatives, ", "))
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: every participant has 0 shares", core.ErrEmptyParticipants)
	}

	sumShares := decimal.Zero
	for _, p := range active {
		sumShares = sumShares.Add(*p.Shares)
	}

	splits := make([]core.CalculatedSplit, len(active))
	var allocated core.Money
	for i, p := range active {
		amount := core.MoneyFromDecimal(total.Decimal().Mul(*p.Shares).Div(sumShares))
		allocated = allocated.Add(amount)
		shares := *p.Shares
		splits[i] = core.CalculatedSplit{
			UserID:           p.UserID,
			AmountOwed:       amount,
			CalculatedAmount: amount,
			Percentage:       shares.Div(sumShares).Mul(hundred).Round(2),
			Shares:           &shares,
		}
	}

	receiver := indexOf(active, payerID)
	if receiver < 0 {
		receiver = 0
	}
	assignLeftover(splits, receiver, total.Sub(allocated))
	return splits, nil
}

// RoundingDifference is what the splits fail to cover of total. It is zero
// for any output of CalculateSplits except accepted exact splits off by a cent.
func RoundingDifference(total core.Money, splits []core.CalculatedSplit) core.Money {
	var sum core.Money
	for _, s := range splits {
		sum = sum.Add(s.AmountOwed)
	}
	return total.Sub(sum)
}

// HasAdjustments reports whether any split absorbed a rounding leftover.
func HasAdjustments(splits []core.CalculatedSplit) bool {
	for _, s := range splits {
		if s.IsRoundingAdjustment {
			return true
		}
	}
	return false
}

// Amounts projects calculated splits for ValidateSplits.
func Amounts(splits []core.CalculatedSplit) []core.SplitAmount {
	out := make([]core.SplitAmount, len(splits))
	for i, s := range splits {
		out[i] = core.SplitAmount{UserID: s.UserID, AmountOwed: s.AmountOwed}
	}
	return out
}

// assignLeftover gives the rounding leftover to splits[receiver]. A negative
// leftover larger than the receiver's amount spills over to the largest
// remaining splits so that no split ends up below zero.
func assignLeftover(splits []core.CalculatedSplit, receiver int, leftover core.Money) {
	if !leftover.IsNegative() || !splits[receiver].AmountOwed.Add(leftover).IsNegative() {
		adjust(&splits[receiver], leftover)
		return
	}

	order := make([]int, 0, len(splits))
	order = append(order, receiver)
	rest := make([]int, 0, len(splits)-1)
	for i := range splits {
		if i != receiver {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		return splits[rest[a]].AmountOwed.Cents > splits[rest[b]].AmountOwed.Cents
	})
	order = append(order, rest...)

	for _, i := range order {
		if leftover.IsZero() {
			return
		}
		step := leftover.Max(splits[i].AmountOwed.Neg())
		adjust(&splits[i], step)
		leftover = leftover.Sub(step)
	}
}

func adjust(s *core.CalculatedSplit, delta core.Money) {
	if delta.IsZero() {
		return
	}
	s.AmountOwed = s.AmountOwed.Add(delta)
	s.AdjustmentAmount = s.AdjustmentAmount.Add(delta)
	s.IsRoundingAdjustment = true
}

func indexOf(participants []core.Participant, userID string) int {
	if userID == "" {
		return -1
	}
	for i, p := range participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func highestPercentage(participants []core.Participant) int {
	idx := make([]int, len(participants))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return participants[idx[a]].Percentage.GreaterThan(*participants[idx[b]].Percentage)
	})
	return idx[0]
}

func percentOf(amount, total core.Money) decimal.Decimal {
	return amount.Decimal().Div(total.Decimal()).Mul(hundred).Round(2)
}

func sumMismatch(total, sum core.Money) error {
	diff := sum.Sub(total)
	direction := "under"
	if diff.IsPositive() {
		direction = "over"
	}
	return fmt.Errorf("%w: split amounts %s by %s (total %s, sum %s)",
		core.ErrSumMismatch, direction, diff.Abs(), total, sum)
}
