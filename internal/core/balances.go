package core

import "encoding/json"

// Balances maps users to their net position and remembers the order in which
// users first appeared, so that iteration is deterministic.
type Balances struct {
	order  []string
	byUser map[string]*MemberBalance
}

func NewBalances() *Balances {
	return &Balances{byUser: make(map[string]*MemberBalance)}
}

// Entry returns the balance for userID, creating a zero entry at the end of
// the order if the user has not been seen yet.
func (b *Balances) Entry(userID string) *MemberBalance {
	if mb, ok := b.byUser[userID]; ok {
		return mb
	}
	mb := &MemberBalance{UserID: userID}
	b.byUser[userID] = mb
	b.order = append(b.order, userID)
	return mb
}

func (b *Balances) Get(userID string) (MemberBalance, bool) {
	if b == nil {
		return MemberBalance{}, false
	}
	mb, ok := b.byUser[userID]
	if !ok {
		return MemberBalance{}, false
	}
	return *mb, true
}

func (b *Balances) Len() int {
	if b == nil {
		return 0
	}
	return len(b.order)
}

// Users returns user IDs in first-appearance order.
func (b *Balances) Users() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.order...)
}

// All returns a copy of every balance in first-appearance order.
func (b *Balances) All() []MemberBalance {
	if b == nil {
		return nil
	}
	out := make([]MemberBalance, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.byUser[id])
	}
	return out
}

// Clone returns a deep copy.
func (b *Balances) Clone() *Balances {
	c := NewBalances()
	for _, mb := range b.All() {
		*c.Entry(mb.UserID) = mb
	}
	return c
}

func (b *Balances) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.All())
}

func (b *Balances) UnmarshalJSON(data []byte) error {
	var list []MemberBalance
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*b = Balances{byUser: make(map[string]*MemberBalance, len(list))}
	for _, mb := range list {
		*b.Entry(mb.UserID) = mb
	}
	return nil
}
