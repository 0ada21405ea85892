package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	v1 "courier/shared/contracts/realtime/v1"

	"github.com/google/uuid"
)

const defaultSendQueueSize = 64

// Client represents one live websocket session bound to one identity.
//
// Design notes:
// - Send is never closed by the server, so concurrent pushers cannot panic.
// - done signals the session goroutines to stop. Close is idempotent.
type Client struct {
	ConnID      uuid.UUID
	UserID      string
	Name        string
	Email       string
	ConnectedAt time.Time

	Send chan v1.Envelope

	done       chan struct{}
	closeOnce  sync.Once
	superseded atomic.Bool
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, name, email string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ConnID:      uuid.New(),
		UserID:      userID,
		Name:        name,
		Email:       email,
		ConnectedAt: time.Now().UTC(),
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Push enqueues env without blocking. It reports false when the client is
// shutting down or its queue is full; the event is then dropped.
func (c *Client) Push(env v1.Envelope) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Supersede marks the client as replaced by a newer session for the same identity and closes it.
func (c *Client) Supersede() {
	if c == nil {
		return
	}
	c.superseded.Store(true)
	c.Close()
}

// Superseded reports whether Supersede was called.
func (c *Client) Superseded() bool {
	return c != nil && c.superseded.Load()
}
