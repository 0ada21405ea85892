package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

var errInvalidStoreInput = errors.New("realtime: invalid store input")

// InMemoryStore is a dev-only MessageStore used when no durable backend is configured.
type InMemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Message
	// order holds ids in insertion order (ULIDs, so also creation order).
	order []string
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]*Message),
		order: make([]string, 0, 256),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// CreateMessage stores a new message at StatusSent.
func (s *InMemoryStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if !validCreateInput(in) {
		return Message{}, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	msg := in.message()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[msg.ID]; dup {
		return Message{}, errors.New("realtime: duplicate message id")
	}
	cp := msg
	s.byID[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
	return msg, nil
}

// AdvanceStatus moves one message forward to in.To when it is currently lower.
func (s *InMemoryStore) AdvanceStatus(ctx context.Context, in AdvanceStatusInput) (AdvanceStatusResult, error) {
	if in.MessageID == "" || !in.To.Valid() {
		return AdvanceStatusResult{}, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return AdvanceStatusResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.byID[in.MessageID]
	if m == nil {
		return AdvanceStatusResult{}, ErrMessageNotFound
	}
	changed := m.advance(in.To, nowOr(in.Now))
	return AdvanceStatusResult{Message: *m, Changed: changed}, nil
}

// MarkSeen moves the selected unseen messages to StatusSeen and returns their ids.
func (s *InMemoryStore) MarkSeen(ctx context.Context, in MarkSeenInput) ([]string, error) {
	if in.SenderID == "" || in.ReceiverID == "" {
		return nil, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !in.selectsAll() && len(in.MessageIDs) == 0 {
		return nil, nil
	}

	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []string
	if in.selectsAll() {
		candidates = s.order
	} else {
		candidates = lo.Uniq(in.MessageIDs)
	}

	var affected []string
	for _, id := range candidates {
		m := s.byID[id]
		if m == nil || m.SenderID != in.SenderID || m.ReceiverID != in.ReceiverID {
			continue
		}
		if m.advance(StatusSeen, now) {
			affected = append(affected, id)
		}
	}
	sort.Strings(affected)
	return affected, nil
}

// Conversation returns every message between a and b, oldest first.
func (s *InMemoryStore) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	if a == "" || b == "" {
		return nil, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, 32)
	for _, id := range s.order {
		m := s.byID[id]
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, *m)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

// LatestPerCounterpart returns the most recent message per counterpart of identityID, newest first.
func (s *InMemoryStore) LatestPerCounterpart(ctx context.Context, identityID string) ([]ConversationSummary, error) {
	if identityID == "" {
		return nil, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	latest := make(map[string]Message)
	for _, id := range s.order {
		m := s.byID[id]
		if m.SenderID != identityID && m.ReceiverID != identityID {
			continue
		}
		cp := m.Counterpart(identityID)
		if cur, ok := latest[cp]; !ok || newerThan(*m, cur) {
			latest[cp] = *m
		}
	}
	s.mu.Unlock()

	out := lo.MapToSlice(latest, func(cp string, m Message) ConversationSummary {
		return ConversationSummary{CounterpartID: cp, LastMessage: m}
	})
	sortSummaries(out)
	return out, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func newerThan(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortOldestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return newerThan(msgs[j], msgs[i]) })
}

func sortSummaries(out []ConversationSummary) {
	sort.SliceStable(out, func(i, j int) bool { return newerThan(out[i].LastMessage, out[j].LastMessage) })
}
