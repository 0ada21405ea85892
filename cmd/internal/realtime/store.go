//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mock_store_test.go -package=realtime

package realtime

import (
	"context"
	"time"
)

// MessageStore persists messages and their delivery status.
//
// Requirements:
//   - Status updates are conditional and forward-only (sent < delivered < seen).
//   - AdvanceStatus is atomic for one row; MarkSeen is atomic for the rows it names.
//   - Conversation is ordered oldest first; LatestPerCounterpart newest first.
//
// Stores report raw errors; the Engine maps them to ErrStorageUnavailable.
type MessageStore interface {
	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error)
	AdvanceStatus(ctx context.Context, in AdvanceStatusInput) (AdvanceStatusResult, error)
	MarkSeen(ctx context.Context, in MarkSeenInput) ([]string, error)
	Conversation(ctx context.Context, a, b string) ([]Message, error)
	LatestPerCounterpart(ctx context.Context, identityID string) ([]ConversationSummary, error)
	Close() error
}

// CreateMessageInput describes a new message. The stored row starts at StatusSent.
type CreateMessageInput struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	Now        time.Time
}

// AdvanceStatusInput moves one message forward to To, if it is currently lower.
type AdvanceStatusInput struct {
	MessageID string
	To        Status
	Now       time.Time
}

// AdvanceStatusResult carries the row as stored after the update attempt.
type AdvanceStatusResult struct {
	Message Message
	Changed bool
}

// MarkSeenInput selects messages SenderID -> ReceiverID that are not yet seen.
// A nil MessageIDs selects every such message; an empty non-nil slice selects none.
type MarkSeenInput struct {
	SenderID   string
	ReceiverID string
	MessageIDs []string
	Now        time.Time
}

func (in MarkSeenInput) selectsAll() bool { return in.MessageIDs == nil }

func (in CreateMessageInput) message() Message {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Message{
		ID:         in.ID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		Status:     StatusSent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func validCreateInput(in CreateMessageInput) bool {
	return in.ID != "" && in.SenderID != "" && in.ReceiverID != "" && in.Content != ""
}
