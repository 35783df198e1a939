package core

import "errors"

// Validation
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDescription   = errors.New("invalid description")
	ErrInvalidParticipant   = errors.New("invalid participant")
	ErrEmptyParticipants    = errors.New("no participants")
	ErrNegativeValue        = errors.New("negative value")
	ErrPercentageOutOfRange = errors.New("percentage out of range")
	ErrUnknownSplitType     = errors.New("unknown split type")
)

// Reconciliation
var (
	ErrSumMismatch = errors.New("split sum mismatch")
	ErrOverpayment = errors.New("overpayment")
)

// Membership
var (
	ErrNotGroupMember       = errors.New("not a group member")
	ErrNotPermitted         = errors.New("not permitted")
	ErrDuplicateParticipant = errors.New("duplicate participant")
)

// State
var (
	ErrExpenseSettled  = errors.New("expense already settled")
	ErrPartialPayments = errors.New("expense has partial payments")
	ErrOutstandingDebt = errors.New("outstanding debt")
	ErrLastAdmin       = errors.New("last admin cannot leave")
)

// Lookup
var (
	ErrSplitNotFound   = errors.New("split not found")
	ErrExpenseNotFound = errors.New("expense not found")
	ErrGroupNotFound   = errors.New("group not found")
)

// Error categories, aligned with the log package's error types.
const (
	CategoryValidation = "validation_error"
	CategoryConflict   = "conflict_error"
	CategoryNotFound   = "not_found_error"
	CategoryForbidden  = "forbidden_error"
	CategoryInternal   = "internal_error"
)

// Category maps an error to a coarse category for logs and metrics.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDescription),
		errors.Is(err, ErrInvalidParticipant),
		errors.Is(err, ErrEmptyParticipants),
		errors.Is(err, ErrNegativeValue),
		errors.Is(err, ErrPercentageOutOfRange),
		errors.Is(err, ErrUnknownSplitType),
		errors.Is(err, ErrSumMismatch),
		errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrDuplicateParticipant):
		return CategoryValidation
	case errors.Is(err, ErrExpenseSettled),
		errors.Is(err, ErrPartialPayments),
		errors.Is(err, ErrOutstandingDebt),
		errors.Is(err, ErrLastAdmin):
		return CategoryConflict
	case errors.Is(err, ErrNotGroupMember), errors.Is(err, ErrNotPermitted):
		return CategoryForbidden
	case errors.Is(err, ErrSplitNotFound),
		errors.Is(err, ErrExpenseNotFound),
		errors.Is(err, ErrGroupNotFound):
		return CategoryNotFound
	default:
		return CategoryInternal
	}
}
