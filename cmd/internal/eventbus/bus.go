// Package eventbus mirrors realtime domain events onto a publish/subscribe layer.
//
// Two Messenger implementations exist: NATS for multi-process deployments and
// InMem for a single process (tests, local dev). Mirror adapts either one to
// the realtime.EventSink contract.
package eventbus

import (
	"context"
	"errors"
)

var (
	// ErrConnectionClosed is returned by a Messenger after Close.
	ErrConnectionClosed = errors.New("eventbus: connection closed")
	// ErrInvalidSubject is returned for an empty subject.
	ErrInvalidSubject = errors.New("eventbus: invalid subject")
)

// Messenger is fire-and-forget publish plus streaming subscribe.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Close() error
}

// Subscription is an active Stream registration.
type Subscription interface {
	Unsubscribe() error
}
