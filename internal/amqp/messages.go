package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind names what happened to a group.
type EventKind string

const (
	EventExpenseCreated     EventKind = "expense_created"
	EventExpenseUpdated     EventKind = "expense_updated"
	EventExpenseDeleted     EventKind = "expense_deleted"
	EventExpenseSettled     EventKind = "expense_settled"
	EventSettlementRecorded EventKind = "settlement_recorded"
	EventMemberLeft         EventKind = "member_left"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventExpenseCreated, EventExpenseUpdated, EventExpenseDeleted,
		EventExpenseSettled, EventSettlementRecorded, EventMemberLeft:
		return true
	}
	return false
}

// GroupEventMessage tells workers that a group's balances changed. It carries
// identifiers only; consumers reload state from the database.
type GroupEventMessage struct {
	GroupID   string    `json:"group_id"`
	ExpenseID string    `json:"expense_id,omitempty"`
	Kind      EventKind `json:"kind"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewGroupEventMessage stamps the event with the current time. Version is
// the group's expense count after the change.
func NewGroupEventMessage(groupID, expenseID string, kind EventKind, version int64) *GroupEventMessage {
	return &GroupEventMessage{
		GroupID:   groupID,
		ExpenseID: expenseID,
		Kind:      kind,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func (m *GroupEventMessage) Validate() error {
	if m.GroupID == "" {
		return errors.New("group_id is required")
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", m.Kind)
	}
	return nil
}

func (m *GroupEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GroupEventMessageFromJSON decodes and validates a message body.
func GroupEventMessageFromJSON(data []byte) (*GroupEventMessage, error) {
	var msg GroupEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
