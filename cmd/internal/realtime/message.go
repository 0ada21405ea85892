package realtime

import (
	"time"

	v1 "courier/shared/contracts/realtime/v1"
)

// Status is the delivery lifecycle stage of a message.
type Status string

const (
	StatusSent      Status = v1.StatusSent
	StatusDelivered Status = v1.StatusDelivered
	StatusSeen      Status = v1.StatusSeen
)

// rank orders the lattice sent < delivered < seen. Unknown values rank below sent.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() > 0 }

// Before reports whether s is strictly lower than o in the lattice.
func (s Status) Before(o Status) bool { return s.rank() < o.rank() }

// lowerThan returns every status strictly below s, in lattice order.
func (s Status) lowerThan() []Status {
	out := make([]Status, 0, 2)
	for _, st := range []Status{StatusSent, StatusDelivered} {
		if st.Before(s) {
			out = append(out, st)
		}
	}
	return out
}

// Message is the persisted one-to-one message record.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Counterpart returns the other participant of m as seen from self.
func (m Message) Counterpart(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// ToWire converts m into its wire representation.
func (m Message) ToWire() v1.MessagePayload {
	return v1.MessagePayload{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Status:     string(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// ConversationSummary is one entry of the conversation list read model.
type ConversationSummary struct {
	CounterpartID string
	LastMessage   Message
}

// advance applies the forward-only transition rule in memory.
// It reports whether m changed.
func (m *Message) advance(to Status, now time.Time) bool {
	if !m.Status.Before(to) {
		return false
	}
	m.Status = to
	m.UpdatedAt = now
	return true
}
