// Package v1 defines the Courier Realtime Protocol v1 contract.
//
// Event type names and payload field names are wire-stable: existing clients
// address them by exact string, so they must not be renamed.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "courier.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeSendMessage requests sending a message (client -> server). Replied to with TypeAck.
	TypeSendMessage = "send_message"
	// TypeMarkSeen acknowledges that messages were seen (client -> server).
	TypeMarkSeen = "mark_seen"

	// TypeAck answers a request envelope; Envelope.ReplyTo carries the request id.
	TypeAck = "ack"

	// TypeNewMessage delivers a message to its receiver (server -> client).
	TypeNewMessage = "new_message"
	// TypeMessageSent confirms a send to its sender (server -> client).
	TypeMessageSent = "message_sent"
	// TypeMessagesSeen tells a sender its messages were seen (server -> client).
	TypeMessagesSeen = "messages_seen"

	// TypeUserOnline announces a peer came online (server -> client).
	TypeUserOnline = "user_online"
	// TypeUserOffline announces a peer went offline (server -> client).
	TypeUserOffline = "user_offline"
	// TypeOnlineList seeds presence for a freshly connected session (server -> client).
	TypeOnlineList = "online_list"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Message status values (wire-stable).
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSendMessage,
		TypeMarkSeen,
		TypeAck,
		TypeNewMessage,
		TypeMessageSent,
		TypeMessagesSeen,
		TypeUserOnline,
		TypeUserOffline,
		TypeOnlineList,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// IsClientType reports whether typ may be sent by a client.
func IsClientType(typ string) bool {
	return typ == TypeSendMessage || typ == TypeMarkSeen
}

// ---- Payloads ----

// SendMessagePayload requests delivery of content to receiverId.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// SendMessageAck is the reply to a send_message request.
type SendMessageAck struct {
	Success bool            `json:"success"`
	Message *MessagePayload `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MarkSeenPayload names messages from senderId that the caller has seen.
type MarkSeenPayload struct {
	MessageIDs []string `json:"messageIds"`
	SenderID   string   `json:"senderId"`
}

// MessagePayload is the full message object carried by new_message, message_sent,
// acks and REST responses.
type MessagePayload struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MessagesSeenPayload tells a sender which of its messages were seen and by whom.
type MessagesSeenPayload struct {
	MessageIDs []string `json:"messageIds"`
	SeenBy     string   `json:"seenBy"`
}

// UserOnlinePayload announces an identity that just connected.
type UserOnlinePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// UserOfflinePayload announces an identity that just disconnected.
type UserOfflinePayload struct {
	UserID string `json:"userId"`
}

// OnlineListPayload lists every other identity online at connect time.
type OnlineListPayload struct {
	UserIDs []string `json:"userIds"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
