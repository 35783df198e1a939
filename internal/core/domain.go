package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SplitType selects how an expense total is divided among participants.
type SplitType string

const (
	SplitEqual      SplitType = "equal"
	SplitExact      SplitType = "exact"
	SplitPercentage SplitType = "percentage"
	SplitShares     SplitType = "shares"
)

// SplitTypes lists every supported strategy in wire order.
var SplitTypes = []SplitType{SplitEqual, SplitExact, SplitPercentage, SplitShares}

// ParseSplitType converts a wire string into a SplitType.
func ParseSplitType(s string) (SplitType, error) {
	st := SplitType(strings.ToLower(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

func (t SplitType) Validate() error {
	switch t {
	case SplitEqual, SplitExact, SplitPercentage, SplitShares:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSplitType, string(t))
	}
}

// Participant is one person taking part in a split. Only the field matching
// the strategy is read: Amount for exact, Percentage for percentage, Shares
// for shares. Equal ignores all three.
type Participant struct {
	UserID     string
	Amount     *decimal.Decimal
	Percentage *decimal.Decimal
	Shares     *decimal.Decimal
}

// CalculatedSplit is the allocation computed for one participant.
type CalculatedSplit struct {
	UserID               string
	AmountOwed           Money
	Percentage           decimal.Decimal
	Shares               *decimal.Decimal
	CalculatedAmount     Money
	AdjustmentAmount     Money
	IsRoundingAdjustment bool
}

// SplitAmount is the minimal view of a split needed for validation.
type SplitAmount struct {
	UserID     string
	AmountOwed Money
}

// Splits are stored per participant and fully replaced on edit.
type Split struct {
	ID                   string
	ExpenseID            string
	UserID               string
	AmountOwed           Money
	AmountPaid           Money
	IsPaid               bool
	PaidAt               *time.Time
	Percentage           decimal.Decimal
	Shares               *decimal.Decimal
	CalculatedAmount     Money
	AdjustmentAmount     Money
	IsRoundingAdjustment bool
}

// Remaining is what the participant still owes on this split.
func (s Split) Remaining() Money {
	return s.AmountOwed.Sub(s.AmountPaid)
}

// Expense is a group expense together with its splits.
type Expense struct {
	ID             string
	GroupID        string
	Description    string
	Amount         Money
	Currency       string
	PaidByUserID   string // empty when nobody paid
	SplitType      SplitType
	Settled        bool
	HasAdjustments bool
	ExpenseDate    time.Time
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Splits         []Split
}

// IsSettled reports whether every obligation of the expense has been paid.
func (e *Expense) IsSettled() bool {
	return e.Settled
}

// HasPartialPayments reports whether any split has received money.
func (e *Expense) HasPartialPayments() bool {
	for _, s := range e.Splits {
		if !s.AmountPaid.IsZero() {
			return true
		}
	}
	return false
}

// SplitFor returns the split of userID, or nil.
func (e *Expense) SplitFor(userID string) *Split {
	for i := range e.Splits {
		if e.Splits[i].UserID == userID {
			return &e.Splits[i]
		}
	}
	return nil
}

// AllSplitsPaid reports whether every split is flagged paid.
func (e *Expense) AllSplitsPaid() bool {
	for _, s := range e.Splits {
		if !s.IsPaid {
			return false
		}
	}
	return true
}

// SplitAmounts projects the splits for validation.
func (e *Expense) SplitAmounts() []SplitAmount {
	out := make([]SplitAmount, 0, len(e.Splits))
	for _, s := range e.Splits {
		out = append(out, SplitAmount{UserID: s.UserID, AmountOwed: s.AmountOwed})
	}
	return out
}

func (e *Expense) Validate() error {
	if strings.TrimSpace(e.Description) == "" {
		return ErrInvalidDescription
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	return e.SplitType.Validate()
}

// MemberBalance is the net position of one user within a group.
// Positive Balance means the group owes the user money.
type MemberBalance struct {
	UserID    string `json:"user_id"`
	TotalPaid Money  `json:"total_paid"`
	TotalOwed Money  `json:"total_owed"`
	Balance   Money  `json:"balance"`
}

// SimplifiedDebt is a single transfer that helps settle the group.
type SimplifiedDebt struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount Money  `json:"amount"`
}

// GroupVersion identifies a state of a group's ledger. Revision grows with
// every write that can move balances, including edits that keep the expense
// count unchanged.
type GroupVersion struct {
	ExpenseCount int   `json:"expense_count"`
	Revision     int64 `json:"revision"`
}

// Settlement is a direct payment between two members outside any expense.
type Settlement struct {
	ID         string
	GroupID    string
	FromUserID string
	ToUserID   string
	Amount     Money
	Notes      string
	SettledAt  time.Time
}

func (s Settlement) Validate() error {
	if s.FromUserID == "" || s.ToUserID == "" {
		return fmt.Errorf("%w: settlement needs both users", ErrInvalidParticipant)
	}
	if s.FromUserID == s.ToUserID {
		return fmt.Errorf("%w: cannot settle with yourself", ErrInvalidParticipant)
	}
	return s.Amount.Validate()
}

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

type Group struct {
	ID          string
	Name        string
	Description string
	Currency    string
	CreatedBy   string
	CreatedAt   time.Time
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalidDescription)
	}
	return nil
}

type Member struct {
	GroupID      string
	UserID       string
	Role         MemberRole
	InviteStatus InviteStatus
	JoinedAt     time.Time
}

// Active reports whether the member accepted the invitation.
func (m Member) Active() bool {
	return m.InviteStatus == InviteAccepted
}

// GroupStatistics summarizes spending in a group from one user's point of view.
type GroupStatistics struct {
	TotalExpenses      int
	TotalSpending      Money
	YourSpending       Money
	YourShare          Money
	AverageExpense     Money
	SettledExpenses    int
	OutstandingBalance Money
}

// Activity is an audit entry in a group's feed.
type Activity struct {
	ID        int64
	GroupID   string
	UserID    string
	Action    string
	EntityID  string
	Details   string
	CreatedAt time.Time
}

// Activity actions.
const (
	ActionGroupCreated    = "group_created"
	ActionMemberAdded     = "member_added"
	ActionMemberLeft      = "member_left"
	ActionExpenseCreated  = "expense_created"
	ActionExpenseUpdated  = "expense_updated"
	ActionExpenseDeleted  = "expense_deleted"
	ActionExpenseSettled  = "expense_settled"
	ActionSplitPaid       = "split_paid"
	ActionSettlementAdded = "settlement_added"
)
