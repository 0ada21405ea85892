package eventbus

import (
	"context"
	"sync"
)

// InMem is a single-process Messenger. Publish hands data to every local
// Stream subscriber of the exact subject.
type InMem struct {
	mu      sync.RWMutex
	closed  bool
	streams map[string][]chan<- []byte
}

type inmemSubscription struct {
	subject string
	ch      chan<- []byte
	bus     *InMem
	once    sync.Once
}

// NewInMem returns an empty in-memory Messenger.
func NewInMem() *InMem {
	return &InMem{streams: make(map[string][]chan<- []byte)}
}

// Publish delivers data to all current subscribers, blocking on slow ones until ctx ends.
func (b *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrConnectionClosed
	}
	subs := append([]chan<- []byte(nil), b.streams[subject]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stream subscribes ch to subject until ctx ends or the subscription is removed.
func (b *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	b.streams[subject] = append(b.streams[subject], ch)
	b.mu.Unlock()

	sub := &inmemSubscription{subject: subject, ch: ch, bus: b}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Close drops every subscriber; later calls fail with ErrConnectionClosed.
func (b *InMem) Close() error {
	b.mu.Lock()
	b.closed = true
	b.streams = make(map[string][]chan<- []byte)
	b.mu.Unlock()
	return nil
}

func (s *inmemSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		subs := s.bus.streams[s.subject]
		for i, c := range subs {
			if c == s.ch {
				s.bus.streams[s.subject] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	})
	return nil
}

var _ Messenger = (*InMem)(nil)
