package realtime

import "context"

// EventSink mirrors domain events to an external publish/subscribe layer.
// Calls are best-effort: implementations log and swallow their own failures and must not block
// for long, since they run on the request path after the state change has committed.
type EventSink interface {
	UserOnline(ctx context.Context, userID string)
	UserOffline(ctx context.Context, userID string)
	MessageCreated(ctx context.Context, m Message)
	StatusChanged(ctx context.Context, messageIDs []string, to Status, actorID string)
}

type nopEvents struct{}

func (nopEvents) UserOnline(context.Context, string) {}
func (nopEvents) UserOffline(context.Context, string) {}
func (nopEvents) MessageCreated(context.Context, Message) {}
func (nopEvents) StatusChanged(context.Context, []string, Status, string) {}

// NopEvents returns an EventSink that discards everything.
func NopEvents() EventSink { return nopEvents{} }
