package storage

import (
	"database/sql"
	"time"
)

// Row types mirror the tables one to one. Money columns are decimal text.

type ExpenseGroup struct {
	ID          string
	Name        string
	Description string
	Currency    string
	CreatedBy   string
	CreatedAt   time.Time
}

type GroupMember struct {
	GroupID      string
	UserID       string
	Role         string
	InviteStatus string
	JoinedAt     time.Time
}

type GroupExpense struct {
	ID             string
	GroupID        string
	Description    string
	Amount         string
	Currency       string
	PaidByUserID   sql.NullString
	SplitType      string
	IsSettled      bool
	HasAdjustments bool
	ExpenseDate    time.Time
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type GroupExpenseSplit struct {
	ID                   string
	ExpenseID            string
	Position             int64
	UserID               string
	AmountOwed           string
	AmountPaid           string
	IsPaid               bool
	PaidAt               sql.NullTime
	Percentage           string
	Shares               sql.NullString
	CalculatedAmount     string
	AdjustmentAmount     string
	IsRoundingAdjustment bool
}

type Settlement struct {
	ID         string
	GroupID    string
	FromUserID string
	ToUserID   string
	Amount     string
	Currency   string
	Notes      string
	SettledAt  time.Time
}

type DebtSnapshotState struct {
	GroupID      string
	Revision     int64
	ExpenseCount int64
	ComputedAt   time.Time
}

type DebtSnapshot struct {
	GroupID    string
	Position   int64
	FromUserID string
	ToUserID   string
	Amount     string
}

type GroupActivity struct {
	ID        int64
	GroupID   string
	UserID    string
	Action    string
	EntityID  string
	Details   string
	CreatedAt time.Time
}
