package split

import (
	"fmt"
	"strings"

	"conti/internal/core"
)

// Status is the outcome of ValidateSplits.
type Status string

const (
	StatusValid               Status = "valid"
	StatusInvalidParticipants Status = "invalid_participants"
	StatusNegativeAmount      Status = "negative_amount"
	StatusSumMismatch         Status = "sum_mismatch"
)

type ValidationResult struct {
	IsValid    bool
	Status     Status
	Message    string
	Difference core.Money // sum - total, set on sum_mismatch
}

// Err converts a failed result into the matching sentinel error.
func (r ValidationResult) Err() error {
	switch r.Status {
	case StatusValid:
		return nil
	case StatusInvalidParticipants:
		return fmt.Errorf("%w: %s", core.ErrEmptyParticipants, r.Message)
	case StatusNegativeAmount:
		return fmt.Errorf("%w: %s", core.ErrNegativeValue, r.Message)
	default:
		return fmt.Errorf("%w: %s", core.ErrSumMismatch, r.Message)
	}
}

// ValidateSplits checks an allocation against its total. Checks run in
// order: at least one split, no negative amounts, sum within one cent.
func ValidateSplits(total core.Money, splits []core.SplitAmount) ValidationResult {
	if len(splits) == 0 {
		return ValidationResult{
			Status:  StatusInvalidParticipants,
			Message: "at least one participant is required",
		}
	}

	var negatives []string
	var sum core.Money
	for _, s := range splits {
		if s.AmountOwed.IsNegative() {
			negatives = append(negatives, s.AmountOwed.String())
		}
		sum = sum.Add(s.AmountOwed)
	}
	if len(negatives) > 0 {
		return ValidationResult{
			Status:  StatusNegativeAmount,
			Message: "split amounts cannot be negative: " + strings.Join(negatives, ", "),
		}
	}

	if !sum.Within(total, core.Tolerance) {
		diff := sum.Sub(total)
		direction := "under"
		if diff.IsPositive() {
			direction = "over"
		}
		return ValidationResult{
			Status:     StatusSumMismatch,
			Message:    fmt.Sprintf("split amounts %s by %s (total %s, sum %s)", direction, diff.Abs(), total, sum),
			Difference: diff,
		}
	}

	return ValidationResult{IsValid: true, Status: StatusValid, Message: "splits are valid"}
}

type ParticipantValidation struct {
	IsValid        bool
	InvalidUserIDs []string
}

// ValidateParticipants reports participants that are not group members.
// A user listed twice is an error regardless of membership.
func ValidateParticipants(userIDs []string, groupMemberIDs []string) (ParticipantValidation, error) {
	members := make(map[string]struct{}, len(groupMemberIDs))
	for _, id := range groupMemberIDs {
		members[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(userIDs))
	var dups []string
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			dups = append(dups, id)
			continue
		}
		seen[id] = struct{}{}
	}
	if len(dups) > 0 {
		return ParticipantValidation{}, fmt.Errorf("%w: %s", core.ErrDuplicateParticipant, strings.Join(dups, ", "))
	}

	var invalid []string
	for _, id := range userIDs {
		if _, ok := members[id]; !ok {
			invalid = append(invalid, id)
		}
	}
	return ParticipantValidation{IsValid: len(invalid) == 0, InvalidUserIDs: invalid}, nil
}

// ParticipantIDs extracts user IDs in input order.
func ParticipantIDs(participants []core.Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	return ids
}
